package predict_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"whisperd/internal/engine"
	"whisperd/internal/logging"
	"whisperd/internal/models"
	"whisperd/internal/predict"
	"whisperd/internal/services"
	"whisperd/internal/testsupport"
)

type output struct {
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string   `json:"word"`
			Start *float64 `json:"start"`
			End   *float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
	WordSegments []map[string]any `json:"word_segments"`
	Language     string           `json:"language"`
}

func newHandler(t *testing.T, opts ...testsupport.ConfigOption) (*predict.Handler, *testsupport.FakeEngine) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	eng := testsupport.NewFakeEngine()
	mgr := models.New(cfg, eng, logging.NewNop())
	if err := mgr.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })
	return predict.NewHandler(cfg, mgr, eng, logging.NewNop()), eng
}

func decode(t *testing.T, raw string) output {
	t.Helper()
	var out output
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, raw)
	}
	return out
}

func TestTranscribeEverySupportedLanguage(t *testing.T) {
	h, _ := newHandler(t)
	audio := testsupport.WriteAudio(t, "clip.wav", 1024)
	cfg := testsupport.NewConfig(t)

	for _, lang := range cfg.Alignment.Languages {
		raw, err := h.Predict(context.Background(), predict.Request{AudioPath: audio, Language: lang})
		if err != nil {
			t.Fatalf("%s: Predict: %v", lang, err)
		}
		out := decode(t, raw)
		if out.Language != lang {
			t.Fatalf("%s: unexpected language %q", lang, out.Language)
		}
		if len(out.Segments) == 0 {
			t.Fatalf("%s: expected segments", lang)
		}
		for i, seg := range out.Segments {
			if seg.Start > seg.End {
				t.Fatalf("%s: segment %d start %v after end %v", lang, i, seg.Start, seg.End)
			}
		}
	}
}

func TestPredictDefaultsAndNormalizesLanguage(t *testing.T) {
	h, eng := newHandler(t)
	audio := testsupport.WriteAudio(t, "clip.wav", 16)

	for _, input := range []string{"", "EN", "en-US", "eng", "English"} {
		raw, err := h.Predict(context.Background(), predict.Request{AudioPath: audio, Language: input})
		if err != nil {
			t.Fatalf("%q: Predict: %v", input, err)
		}
		if got := decode(t, raw).Language; got != "en" {
			t.Fatalf("%q: expected en, got %q", input, got)
		}
	}
	if eng.Calls("load_align_model") != 1 {
		t.Fatalf("expected one cached English alignment model, got %d loads", eng.Calls("load_align_model"))
	}
}

func TestAlignModeReturnsWordsForEverySegment(t *testing.T) {
	h, eng := newHandler(t)
	audio := testsupport.WriteAudio(t, "clip.wav", 16)
	segments := `[{"text":"the quick fox","start":0,"end":1.5},{"text":"born in 1999","start":1.5,"end":4,"speaker":"A"}]`

	raw, err := h.Predict(context.Background(), predict.Request{AudioPath: audio, Mode: "align", Segments: segments, Language: "en"})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if eng.Calls("transcribe") != 0 {
		t.Fatal("align mode must not transcribe")
	}
	if strings.Contains(raw, `"chars"`) {
		t.Fatalf("output must not contain char alignments: %s", raw)
	}
	out := decode(t, raw)
	if len(out.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(out.Segments))
	}
	for i, seg := range out.Segments {
		if len(seg.Words) == 0 {
			t.Fatalf("segment %d has no words", i)
		}
	}
	numeral := out.Segments[1].Words[2]
	if numeral.Word != "1999" || numeral.Start != nil || numeral.End != nil {
		t.Fatalf("expected untimed numeral, got %+v", numeral)
	}
	if first := out.Segments[0].Words[0]; first.Start == nil || *first.Start != 0 {
		t.Fatalf("expected timed first word, got %+v", first)
	}
	if len(out.WordSegments) != 6 {
		t.Fatalf("expected 6 word segments, got %d", len(out.WordSegments))
	}
}

func TestAlignModeRejectsBadSegments(t *testing.T) {
	h, eng := newHandler(t)
	audio := testsupport.WriteAudio(t, "clip.wav", 16)

	tests := []struct {
		name     string
		segments string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"empty array", "[]"},
		{"malformed", `[{"text":"hi",`},
		{"object", `{"text":"hi","start":0,"end":1}`},
		{"missing text", `[{"start":0,"end":1}]`},
		{"blank text", `[{"text":"  ","start":0,"end":1}]`},
		{"missing end", `[{"text":"hi","start":0}]`},
		{"non-finite", `[{"text":"hi","start":"NaN","end":1}]`},
		{"reversed", `[{"text":"hi","start":2,"end":1}]`},
		{"negative", `[{"text":"hi","start":-1,"end":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Predict(context.Background(), predict.Request{AudioPath: audio, Mode: "align", Segments: tt.segments})
			if !errors.Is(err, services.ErrInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
	if eng.Calls("load_audio") != 0 {
		t.Fatal("validation failures must not reach the engine")
	}
}

func TestPredictRejectsInvalidInputs(t *testing.T) {
	h, eng := newHandler(t, testsupport.WithLanguages("en", "de"))
	audio := testsupport.WriteAudio(t, "clip.wav", 16)

	tests := []struct {
		name string
		req  predict.Request
	}{
		{"unsupported language", predict.Request{AudioPath: audio, Language: "fr"}},
		{"unrecognized language", predict.Request{AudioPath: audio, Language: "not a language"}},
		{"unknown mode", predict.Request{AudioPath: audio, Mode: "summarize"}},
		{"missing audio", predict.Request{AudioPath: audio + ".missing"}},
		{"empty audio path", predict.Request{}},
		{"audio is directory", predict.Request{AudioPath: t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Predict(context.Background(), tt.req)
			if !errors.Is(err, services.ErrInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
			if services.HTTPStatus(err) != 422 {
				t.Fatalf("expected 422, got %d", services.HTTPStatus(err))
			}
		})
	}
	if eng.Calls("load_audio") != 0 {
		t.Fatal("validation failures must not reach the engine")
	}
}

func TestPredictPreservesNonASCIIText(t *testing.T) {
	h, _ := newHandler(t)
	audio := testsupport.WriteAudio(t, "clip.wav", 16)
	texts := []string{"Grüße aus Köln", "東京へようこそ", "Привет <мир> & \"друзья\""}
	payload, _ := json.Marshal([]map[string]any{
		{"text": texts[0], "start": 0, "end": 1},
		{"text": texts[1], "start": 1, "end": 2},
		{"text": texts[2], "start": 2, "end": 3},
	})

	raw, err := h.Predict(context.Background(), predict.Request{AudioPath: audio, Mode: "align", Segments: string(payload), Language: "de"})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if strings.Contains(raw, `\u`) {
		t.Fatalf("output must not contain \\u escapes: %s", raw)
	}
	if !strings.Contains(raw, "東京へようこそ") || !strings.Contains(raw, "<мир> &") {
		t.Fatalf("expected verbatim text in %s", raw)
	}
	out := decode(t, raw)
	for i, want := range texts {
		if out.Segments[i].Text != want {
			t.Fatalf("segment %d: got %q want %q", i, out.Segments[i].Text, want)
		}
	}
}

func TestPredictWritesNonFiniteLiterals(t *testing.T) {
	h, eng := newHandler(t)
	eng.AlignFunc = func(segments []engine.Segment) (engine.Alignment, error) {
		nan := engine.Seconds(math.NaN())
		inf := engine.Seconds(math.Inf(1))
		return engine.Alignment{
			Segments: []engine.AlignedSegment{{
				Start: nan, End: inf, Text: segments[0].Text,
				Words: []engine.Word{{Word: "hi", Start: nan.Ptr(), End: engine.Seconds(math.Inf(-1)).Ptr()}},
			}},
		}, nil
	}
	audio := testsupport.WriteAudio(t, "clip.wav", 16)

	raw, err := h.Predict(context.Background(), predict.Request{AudioPath: audio})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for _, want := range []string{`"start":NaN`, `"end":Infinity`, `"end":-Infinity`} {
		if !strings.Contains(raw, want) {
			t.Fatalf("expected %s in %s", want, raw)
		}
	}
}

func TestPredictReleasesAudio(t *testing.T) {
	h, eng := newHandler(t)
	audio := testsupport.WriteAudio(t, "clip.wav", 16)

	if _, err := h.Predict(context.Background(), predict.Request{AudioPath: audio}); err != nil {
		t.Fatalf("Predict: %v", err)
	}
	eng.Errors["align"] = errors.New("alignment exploded")
	_, err := h.Predict(context.Background(), predict.Request{AudioPath: audio})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if eng.Live("audio") != 0 {
		t.Fatalf("expected audio released after every call, %d live", eng.Live("audio"))
	}

	delete(eng.Errors, "align")
	if _, err := h.Predict(context.Background(), predict.Request{AudioPath: audio}); err != nil {
		t.Fatalf("handler unusable after failure: %v", err)
	}
}

func TestPredictEmptyTranscript(t *testing.T) {
	h, eng := newHandler(t)
	eng.TranscribeFunc = func(opts engine.TranscribeOptions) (engine.Transcript, error) {
		return engine.Transcript{Language: opts.Language}, nil
	}
	audio := testsupport.WriteAudio(t, "silence.wav", 16)

	raw, err := h.Predict(context.Background(), predict.Request{AudioPath: audio})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if raw != `{"segments":[],"word_segments":[],"language":"en"}` {
		t.Fatalf("unexpected output %s", raw)
	}
	if eng.Calls("align") != 0 {
		t.Fatal("nothing to align")
	}
}

func TestParseMode(t *testing.T) {
	for input, want := range map[string]predict.Mode{"": predict.ModeTranscribe, "Align": predict.ModeAlign, " transcribe ": predict.ModeTranscribe} {
		got, err := predict.ParseMode(input)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", input, got, err)
		}
	}
}
