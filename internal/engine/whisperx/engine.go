package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"whisperd/internal/engine"
	"whisperd/internal/logging"
	"whisperd/internal/services"
)

// Engine is the production engine.Engine backed by a long-lived WhisperX
// worker process. Calls are serialized; one request is in flight at a time.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	launch launcher

	mu       sync.Mutex
	conn     *conn
	sessions int
	seq      uint64
	closed   bool
	// resident records model loads so a restarted worker can restore them
	// under the same handle IDs.
	resident []residentLoad
}

type residentLoad struct {
	id   string
	op   string
	args any
}

var _ engine.Engine = (*Engine)(nil)

// New constructs an Engine. The worker starts on the first call.
func New(cfg Config, logger *slog.Logger) *Engine {
	return newEngine(cfg, logger, startProcess)
}

func newEngine(cfg Config, logger *slog.Logger, launch launcher) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(logger, "whisperx"),
		launch: launch,
	}
}

// Version reports library versions from the worker.
func (e *Engine) Version(ctx context.Context) (engine.VersionInfo, error) {
	var info engine.VersionInfo
	err := e.call(ctx, opVersion, struct{}{}, &info)
	return info, err
}

type loadModelArgs struct {
	HandleID string `json:"handle_id"`
	engine.ModelSpec
}

// LoadModel loads a transcription model into the worker.
func (e *Engine) LoadModel(ctx context.Context, spec engine.ModelSpec) (engine.ModelHandle, error) {
	var handle engine.ModelHandle
	args := loadModelArgs{HandleID: e.nextID("model"), ModelSpec: spec}
	if err := e.callResident(ctx, opLoadModel, args.HandleID, args, &handle); err != nil {
		return engine.ModelHandle{}, err
	}
	return handle, nil
}

type loadAlignArgs struct {
	HandleID string `json:"handle_id"`
	engine.AlignSpec
}

// LoadAlignModel loads the alignment model and metadata for one language.
func (e *Engine) LoadAlignModel(ctx context.Context, spec engine.AlignSpec) (engine.AlignHandle, error) {
	var handle engine.AlignHandle
	args := loadAlignArgs{HandleID: e.nextID("align-" + spec.Language), AlignSpec: spec}
	if err := e.callResident(ctx, opLoadAlignModel, args.HandleID, args, &handle); err != nil {
		return engine.AlignHandle{}, err
	}
	return handle, nil
}

// LoadAudio decodes an audio file in the worker.
func (e *Engine) LoadAudio(ctx context.Context, path string) (engine.AudioHandle, error) {
	var handle engine.AudioHandle
	args := map[string]string{"handle_id": e.nextID("audio"), "path": path}
	if err := e.call(ctx, opLoadAudio, args, &handle); err != nil {
		return engine.AudioHandle{}, err
	}
	return handle, nil
}

type transcribeArgs struct {
	Model string `json:"model"`
	Audio string `json:"audio"`
	engine.TranscribeOptions
}

// Transcribe runs the transcription model over loaded audio.
func (e *Engine) Transcribe(ctx context.Context, model engine.ModelHandle, audio engine.AudioHandle, opts engine.TranscribeOptions) (engine.Transcript, error) {
	var out engine.Transcript
	args := transcribeArgs{Model: model.ID, Audio: audio.ID, TranscribeOptions: opts}
	if err := e.call(ctx, opTranscribe, args, &out); err != nil {
		return engine.Transcript{}, err
	}
	return out, nil
}

type alignArgs struct {
	Model    string           `json:"model"`
	Audio    string           `json:"audio"`
	Segments []engine.Segment `json:"segments"`
	engine.AlignOptions
}

// Align produces word timings for segments against loaded audio.
func (e *Engine) Align(ctx context.Context, model engine.AlignHandle, segments []engine.Segment, audio engine.AudioHandle, opts engine.AlignOptions) (engine.Alignment, error) {
	var out engine.Alignment
	args := alignArgs{Model: model.ID, Audio: audio.ID, Segments: segments, AlignOptions: opts}
	if err := e.call(ctx, opAlign, args, &out); err != nil {
		return engine.Alignment{}, err
	}
	return out, nil
}

// Release frees a handle. It never starts a worker.
func (e *Engine) Release(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, load := range e.resident {
		if load.id == id {
			e.resident = append(e.resident[:i], e.resident[i+1:]...)
			break
		}
	}
	if e.closed || e.conn == nil || e.conn.exited() {
		return nil
	}
	return e.roundTrip(ctx, opRelease, map[string]string{"id": id}, nil)
}

// Close stops the worker. Further calls fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.resident = nil
	if e.conn == nil {
		return nil
	}
	c := e.conn
	e.conn = nil
	if err := c.close(e.cfg.StopGrace); err != nil {
		return services.Wrap(services.ErrExternalTool, "whisperx", "close", "stop worker", err)
	}
	return nil
}

// Sessions reports how many worker processes have been started.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions
}

func (e *Engine) nextID(prefix string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return prefix + "-" + strconv.FormatUint(e.seq, 10)
}

func (e *Engine) call(ctx context.Context, op string, args, out any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureStarted(ctx); err != nil {
		return err
	}
	return e.roundTrip(ctx, op, args, out)
}

func (e *Engine) callResident(ctx context.Context, op, id string, args, out any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureStarted(ctx); err != nil {
		return err
	}
	if err := e.roundTrip(ctx, op, args, out); err != nil {
		return err
	}
	e.resident = append(e.resident, residentLoad{id: id, op: op, args: args})
	return nil
}

// ensureStarted launches a worker when none is running and restores resident
// models into a replacement session. Callers hold e.mu.
func (e *Engine) ensureStarted(ctx context.Context) error {
	if e.closed {
		return services.Wrap(services.ErrExternalTool, "whisperx", "call", "engine closed", nil)
	}
	if e.conn != nil {
		if !e.conn.exited() {
			return nil
		}
		logging.WarnWithContext(e.logger, "whisperx worker exited; restarting", "worker_restart",
			logging.String("stderr_tail", e.conn.tail.String()),
			logging.String(logging.FieldImpact, "loaded models are reloaded before the next request"),
		)
		e.conn = nil
	}

	startCtx, cancel := context.WithTimeout(ctx, e.cfg.StartupTimeout)
	defer cancel()

	started := time.Now()
	c, err := e.launch(startCtx, e.cfg, e.logger)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "whisperx", "start", "launch worker", err)
	}

	var version engine.VersionInfo
	select {
	case <-startCtx.Done():
		_ = c.close(e.cfg.StopGrace)
		return contextError("start", startCtx.Err(), "worker not ready")
	case line, ok := <-c.lines:
		if !ok {
			waitDone(c)
			return services.Wrap(services.ErrExternalTool, "whisperx", "start", exitMessage("worker exited before ready", c), errWorkerExited)
		}
		resp, err := decodeResponse(line)
		if err == nil && (resp.ID != readyID || !resp.OK) {
			err = fmt.Errorf("unexpected handshake %q", strings.TrimSpace(string(line)))
		}
		if err == nil && len(resp.Result) > 0 {
			err = json.Unmarshal(resp.Result, &version)
		}
		if err != nil {
			_ = c.close(e.cfg.StopGrace)
			return services.Wrap(services.ErrExternalTool, "whisperx", "start", "handshake", err)
		}
	}

	e.conn = c
	e.sessions++
	e.logger.Info("whisperx worker ready",
		logging.String("whisperx_version", version.WhisperX),
		logging.String("torch_version", version.Torch),
		logging.Bool("cuda_available", version.CUDAAvailable),
		logging.Duration("startup", time.Since(started)),
		logging.Int("session", e.sessions),
	)

	for _, load := range e.resident {
		if err := e.roundTrip(ctx, load.op, load.args, nil); err != nil {
			// A partially restored worker is unusable; the next call starts over.
			e.discard()
			return services.Wrap(services.ErrExternalTool, "whisperx", "restore", "reload "+load.id, err)
		}
		e.logger.Debug("whisperx model restored", logging.String("handle", load.id))
	}
	return nil
}

// roundTrip sends one request and waits for its response. A transport
// failure or cancellation discards the session. Callers hold e.mu.
func (e *Engine) roundTrip(ctx context.Context, op string, args, out any) error {
	c := e.conn
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	e.seq++
	id := strconv.FormatUint(e.seq, 10)
	payload, err := encodeRequest(request{ID: id, Op: op, Args: args})
	if err != nil {
		return services.Wrap(services.ErrInvalidArgument, "whisperx", op, "encode request", err)
	}
	if _, err := c.stdin.Write(payload); err != nil {
		e.discard()
		return services.Wrap(services.ErrExternalTool, "whisperx", op, "write request", err)
	}

	select {
	case <-ctx.Done():
		e.discard()
		return contextError(op, ctx.Err(), "request abandoned; worker will restart")
	case line, ok := <-c.lines:
		if !ok {
			waitDone(c)
			message := exitMessage("worker exited", c)
			e.discard()
			return services.Wrap(services.ErrExternalTool, "whisperx", op, message, errWorkerExited)
		}
		resp, err := decodeResponse(line)
		if err == nil && resp.ID != id {
			err = fmt.Errorf("response id %q does not match request %q", resp.ID, id)
		}
		if err != nil {
			e.discard()
			return services.Wrap(services.ErrExternalTool, "whisperx", op, "protocol error", err)
		}
		if !resp.OK {
			return remoteError(op, resp)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return services.Wrap(services.ErrExternalTool, "whisperx", op, "decode result", err)
			}
		}
		return nil
	}
}

// discard stops the current session. The next call starts a fresh worker.
func (e *Engine) discard() {
	if e.conn == nil {
		return
	}
	c := e.conn
	e.conn = nil
	if err := c.close(e.cfg.StopGrace); err != nil {
		logging.WarnWithContext(e.logger, "whisperx worker stop failed", "worker_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for orphaned python processes"),
		)
	}
}

func waitDone(c *conn) {
	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
}

func exitMessage(prefix string, c *conn) string {
	if tail := strings.TrimSpace(c.tail.String()); tail != "" {
		return prefix + ": " + tail
	}
	return prefix
}

func contextError(op string, err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "whisperx", op, message, err)
	}
	return services.Wrap(services.ErrTransient, "whisperx", op, message, err)
}
