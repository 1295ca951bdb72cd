package whisperx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"whisperd/internal/engine"
	"whisperd/internal/logging"
	"whisperd/internal/services"
)

type wireRequest struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

// peer is an in-process stand-in for the Python worker.
type peer struct {
	mu       sync.Mutex
	sessions int
	seen     []wireRequest
	// respond returns the result for a request, or an error kind and message.
	// Returning hang=true leaves the request unanswered.
	respond func(session int, req wireRequest) (result any, kind string, hang bool)
	// onStart runs before the ready line; returning false skips the handshake.
	onStart func(session int, out, errOut io.Writer) bool
}

func (p *peer) launcher() launcher {
	return func(_ context.Context, _ Config, logger *slog.Logger) (*conn, error) {
		p.mu.Lock()
		p.sessions++
		session := p.sessions
		p.mu.Unlock()

		inR, inW := io.Pipe()
		outR, outW := io.Pipe()
		errR, errW := io.Pipe()
		go func() {
			p.serve(session, inR, outW, errW)
			_ = outW.Close()
			_ = errW.Close()
			_, _ = io.Copy(io.Discard, inR)
		}()
		return newConn(inW, outR, errR, nil, logger), nil
	}
}

func (p *peer) serve(session int, in io.Reader, out, errOut io.Writer) {
	if p.onStart != nil && !p.onStart(session, out, errOut) {
		return
	}
	enc := json.NewEncoder(out)
	_ = enc.Encode(map[string]any{"id": readyID, "ok": true, "result": map[string]any{"whisperx": "3.4.2", "torch": "2.7.1", "cuda_available": false}})
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req wireRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		p.mu.Lock()
		p.seen = append(p.seen, req)
		p.mu.Unlock()
		result, kind, hang := p.respond(session, req)
		if hang {
			continue
		}
		if kind == "exit" {
			return
		}
		if kind != "" {
			_ = enc.Encode(map[string]any{"id": req.ID, "ok": false, "error": fmt.Sprint(result), "kind": kind})
			continue
		}
		_ = enc.Encode(map[string]any{"id": req.ID, "ok": true, "result": result})
	}
}

func (p *peer) requests(op string) []wireRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []wireRequest
	for _, req := range p.seen {
		if req.Op == op {
			out = append(out, req)
		}
	}
	return out
}

func handleID(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var args struct {
		HandleID string `json:"handle_id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	return args.HandleID
}

func defaultResponder(t *testing.T) func(int, wireRequest) (any, string, bool) {
	return func(_ int, req wireRequest) (any, string, bool) {
		switch req.Op {
		case opLoadModel:
			return map[string]any{"id": handleID(t, req.Args), "name": "large-v2"}, "", false
		case opLoadAlignModel:
			return map[string]any{"id": handleID(t, req.Args), "language": "en", "device": "cpu"}, "", false
		case opLoadAudio:
			return map[string]any{"id": handleID(t, req.Args), "duration": 12.5}, "", false
		case opTranscribe:
			return map[string]any{"language": "en", "segments": []map[string]any{
				{"text": " Grüße aus Köln", "start": 0.0, "end": 2.5},
			}}, "", false
		case opAlign:
			return map[string]any{
				"segments": []map[string]any{{
					"start": 0.1, "end": 2.4, "text": "in 1984",
					"words": []map[string]any{
						{"word": "in", "start": 0.1, "end": 0.3, "score": 0.9},
						{"word": "1984"},
					},
				}},
				"word_segments": []map[string]any{{"word": "in", "start": "NaN", "end": "-Infinity"}},
			}, "", false
		case opVersion:
			return map[string]any{"whisperx": "3.4.2", "torch": "2.7.1"}, "", false
		case opRelease:
			return map[string]any{}, "", false
		}
		return "unknown op", "invalid_argument", false
	}
}

func newTestEngine(p *peer) *Engine {
	return newEngine(Config{
		StartupTimeout: 2 * time.Second,
		RequestTimeout: 2 * time.Second,
		StopGrace:      time.Second,
	}, logging.NewNop(), p.launcher())
}

func TestEngineTranscribeRoundTrip(t *testing.T) {
	p := &peer{}
	p.respond = defaultResponder(t)
	eng := newTestEngine(p)
	defer eng.Close()
	ctx := context.Background()

	model, err := eng.LoadModel(ctx, engine.ModelSpec{Name: "large-v2", Device: "cpu", ComputeType: "float32",
		ASROptions: engine.ASROptions{Temperatures: []float64{0, 0.2}}})
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if model.ID == "" || model.Name != "large-v2" {
		t.Fatalf("unexpected model handle %+v", model)
	}
	audio, err := eng.LoadAudio(ctx, "/tmp/clip.wav")
	if err != nil {
		t.Fatalf("LoadAudio: %v", err)
	}
	if audio.Duration != 12.5 {
		t.Fatalf("unexpected duration %v", audio.Duration)
	}
	transcript, err := eng.Transcribe(ctx, model, audio, engine.TranscribeOptions{Language: "de", BatchSize: 8})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(transcript.Segments) != 1 || transcript.Segments[0].Text != " Grüße aus Köln" || transcript.Segments[0].End != 2.5 {
		t.Fatalf("unexpected transcript %+v", transcript)
	}

	reqs := p.requests(opTranscribe)
	if len(reqs) != 1 {
		t.Fatalf("expected one transcribe request, got %d", len(reqs))
	}
	var args map[string]any
	if err := json.Unmarshal(reqs[0].Args, &args); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if args["model"] != model.ID || args["audio"] != audio.ID || args["language"] != "de" || args["batch_size"] != float64(8) {
		t.Fatalf("unexpected transcribe args %v", args)
	}
	var load map[string]any
	_ = json.Unmarshal(p.requests(opLoadModel)[0].Args, &load)
	if load["name"] != "large-v2" || load["compute_type"] != "float32" {
		t.Fatalf("unexpected load args %v", load)
	}
}

func TestEngineAlignDecodesOptionalTimings(t *testing.T) {
	p := &peer{}
	p.respond = defaultResponder(t)
	eng := newTestEngine(p)
	defer eng.Close()
	ctx := context.Background()

	model, err := eng.LoadAlignModel(ctx, engine.AlignSpec{Language: "en", Device: "cpu"})
	if err != nil {
		t.Fatalf("LoadAlignModel: %v", err)
	}
	if !strings.HasPrefix(model.ID, "align-en-") {
		t.Fatalf("unexpected align handle %q", model.ID)
	}
	audio, _ := eng.LoadAudio(ctx, "/tmp/clip.wav")
	result, err := eng.Align(ctx, model, []engine.Segment{{Text: "in 1984", Start: 0, End: 2.5}}, audio, engine.AlignOptions{})
	if err != nil {
		t.Fatalf("Align: %v", err)
	}
	words := result.Segments[0].Words
	if len(words) != 2 || words[1].Start != nil || words[1].Score != nil {
		t.Fatalf("expected untimed numeral word, got %+v", words)
	}
	if words[0].Start == nil || *words[0].Start != 0.1 {
		t.Fatalf("expected timed first word, got %+v", words[0])
	}
	ws := result.WordSegments[0]
	if ws.Start == nil || !math.IsNaN(ws.Start.Float()) || ws.End == nil || !math.IsInf(ws.End.Float(), -1) {
		t.Fatalf("expected non-finite word segment timings, got %+v", ws)
	}

	var args map[string]any
	_ = json.Unmarshal(p.requests(opAlign)[0].Args, &args)
	if args["return_char_alignments"] != false {
		t.Fatalf("expected char alignments disabled, got %v", args)
	}
}

func TestEngineMapsRemoteErrorKinds(t *testing.T) {
	tests := []struct {
		kind   string
		marker error
	}{
		{"invalid_argument", services.ErrInvalidArgument},
		{"not_found", services.ErrNotFound},
		{"external", services.ErrExternalTool},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			p := &peer{respond: func(int, wireRequest) (any, string, bool) { return "no such thing", tt.kind, false }}
			eng := newTestEngine(p)
			defer eng.Close()
			_, err := eng.LoadAudio(context.Background(), "/missing.wav")
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v, got %v", tt.marker, err)
			}
			if !strings.Contains(err.Error(), "no such thing") {
				t.Fatalf("expected worker message in %q", err)
			}
			if eng.Sessions() != 1 {
				t.Fatalf("remote errors must keep the worker, sessions=%d", eng.Sessions())
			}
		})
	}
}

func TestEngineCancellationRestartsWorkerAndRestoresModels(t *testing.T) {
	p := &peer{}
	base := defaultResponder(t)
	p.respond = func(session int, req wireRequest) (any, string, bool) {
		if session == 1 && req.Op == opTranscribe {
			return nil, "", true
		}
		return base(session, req)
	}
	eng := newTestEngine(p)
	defer eng.Close()

	model, err := eng.LoadModel(context.Background(), engine.ModelSpec{Name: "large-v2"})
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	audio, _ := eng.LoadAudio(context.Background(), "/tmp/a.wav")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = eng.Transcribe(ctx, model, audio, engine.TranscribeOptions{Language: "en"})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	if _, err := eng.Version(context.Background()); err != nil {
		t.Fatalf("Version after restart: %v", err)
	}
	if eng.Sessions() != 2 {
		t.Fatalf("expected restarted worker, sessions=%d", eng.Sessions())
	}
	loads := p.requests(opLoadModel)
	if len(loads) != 2 {
		t.Fatalf("expected model restored in new session, got %d loads", len(loads))
	}
	if handleID(t, loads[1].Args) != model.ID {
		t.Fatalf("restored model must keep handle %q, got %q", model.ID, handleID(t, loads[1].Args))
	}
}

func TestEngineFailedRestoreRetriesOnNextCall(t *testing.T) {
	p := &peer{}
	base := defaultResponder(t)
	p.respond = func(session int, req wireRequest) (any, string, bool) {
		switch {
		case session == 1 && req.Op == opVersion:
			return nil, "exit", false
		case session == 2 && req.Op == opLoadModel:
			return "CUDA out of memory", "external", false
		}
		return base(session, req)
	}
	eng := newTestEngine(p)
	defer eng.Close()
	ctx := context.Background()

	model, err := eng.LoadModel(ctx, engine.ModelSpec{Name: "large-v2"})
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if _, err := eng.Version(ctx); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected worker exit, got %v", err)
	}
	if _, err := eng.Version(ctx); err == nil || !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("expected restore failure, got %v", err)
	}

	audio, err := eng.LoadAudio(ctx, "/tmp/a.wav")
	if err != nil {
		t.Fatalf("LoadAudio after failed restore: %v", err)
	}
	if eng.Sessions() != 3 {
		t.Fatalf("expected a fresh worker after failed restore, sessions=%d", eng.Sessions())
	}
	if _, err := eng.Transcribe(ctx, model, audio, engine.TranscribeOptions{Language: "en"}); err != nil {
		t.Fatalf("Transcribe after restore: %v", err)
	}
	loads := p.requests(opLoadModel)
	if len(loads) != 3 || handleID(t, loads[2].Args) != model.ID {
		t.Fatalf("expected model restored under %q in third session, got %d loads", model.ID, len(loads))
	}
}

func TestEngineWorkerExitReportsStderrTail(t *testing.T) {
	p := &peer{
		onStart: func(session int, out, errOut io.Writer) bool {
			fmt.Fprintln(errOut, "Traceback (most recent call last):")
			fmt.Fprintln(errOut, "RuntimeError: CUDA out of memory")
			return true
		},
		respond: func(int, wireRequest) (any, string, bool) { return nil, "exit", false },
	}
	eng := newTestEngine(p)
	defer eng.Close()

	_, err := eng.Version(context.Background())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("expected stderr tail in error, got %q", err)
	}
}

func TestEngineHandshakeFailures(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		p := &peer{onStart: func(_ int, out, _ io.Writer) bool {
			fmt.Fprintln(out, "Downloading torch...")
			return false
		}}
		eng := newTestEngine(p)
		defer eng.Close()
		if _, err := eng.Version(context.Background()); !errors.Is(err, services.ErrExternalTool) {
			t.Fatalf("expected handshake error, got %v", err)
		}
	})
	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		p := &peer{onStart: func(_ int, _, _ io.Writer) bool {
			<-release
			return false
		}}
		eng := newEngine(Config{StartupTimeout: 50 * time.Millisecond, StopGrace: 50 * time.Millisecond}, logging.NewNop(), p.launcher())
		if _, err := eng.Version(context.Background()); !errors.Is(err, services.ErrTimeout) {
			t.Fatalf("expected startup timeout, got %v", err)
		}
	})
}

func TestEngineReleaseWithoutWorkerIsNoop(t *testing.T) {
	p := &peer{}
	eng := newTestEngine(p)
	if err := eng.Release(context.Background(), "model-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if p.sessions != 0 {
		t.Fatalf("Release must not start a worker, sessions=%d", p.sessions)
	}
}

func TestEngineReleaseForgetsResidentModel(t *testing.T) {
	p := &peer{}
	p.respond = defaultResponder(t)
	eng := newTestEngine(p)
	defer eng.Close()
	ctx := context.Background()

	model, err := eng.LoadModel(ctx, engine.ModelSpec{Name: "large-v2"})
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if err := eng.Release(ctx, model.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(eng.resident) != 0 {
		t.Fatalf("expected no resident models, got %d", len(eng.resident))
	}
	if len(p.requests(opRelease)) != 1 {
		t.Fatal("expected release request to reach the worker")
	}
}

func TestEngineCloseRejectsFurtherCalls(t *testing.T) {
	p := &peer{}
	p.respond = defaultResponder(t)
	eng := newTestEngine(p)
	if _, err := eng.Version(context.Background()); err != nil {
		t.Fatalf("Version: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := eng.Version(context.Background()); err == nil {
		t.Fatal("expected error after Close")
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestBuildArgs(t *testing.T) {
	cuda := buildArgs(Config{CUDAEnabled: true, Package: "whisperx"})
	if !slices.Equal(cuda[:4], []string{"--index-url", CUDAIndexURL, "--extra-index-url", PypiIndexURL}) {
		t.Fatalf("unexpected cuda args %v", cuda[:4])
	}
	cpu := buildArgs(Config{Package: "whisperx==3.4.2"})
	if !slices.Equal(cpu[:6], []string{"--index-url", PypiIndexURL, "--from", "whisperx==3.4.2", "python", "-u"}) {
		t.Fatalf("unexpected cpu args %v", cpu[:6])
	}
	if cpu[len(cpu)-2] != "-c" || !strings.Contains(cpu[len(cpu)-1], "def main()") {
		t.Fatal("expected embedded worker script as final argument")
	}
}

func TestBuildEnv(t *testing.T) {
	env := buildEnv(Config{CacheDir: "/cache", HFToken: "hf_x"})
	for _, want := range []string{
		"TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1",
		"HF_HOME=/cache/huggingface",
		"TORCH_HOME=/cache/torch",
		"HF_TOKEN=hf_x",
	} {
		if !slices.Contains(env, want) {
			t.Fatalf("missing %q in %v", want, env)
		}
	}
	if slices.ContainsFunc(buildEnv(Config{}), func(s string) bool { return strings.HasPrefix(s, "HF_TOKEN=") }) {
		t.Fatal("HF_TOKEN must be omitted when unset")
	}
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	tail := newTailBuffer(2)
	tail.Add("a")
	tail.Add("b")
	tail.Add("c")
	if got := tail.String(); got != "b\nc" {
		t.Fatalf("unexpected tail %q", got)
	}
}
