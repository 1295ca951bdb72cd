package testsupport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"whisperd/internal/engine"
)

// FakeEngine is an in-memory engine.Engine. Transcription returns a fixed
// transcript in the requested language and alignment spreads words evenly
// across each segment, leaving all-digit tokens untimed the way the real
// aligner does.
type FakeEngine struct {
	mu sync.Mutex

	// Errors fails the named operation ("load_model", "align", ...) when set.
	Errors map[string]error
	// TranscribeFunc overrides the default transcript.
	TranscribeFunc func(opts engine.TranscribeOptions) (engine.Transcript, error)
	// AlignFunc overrides the default alignment.
	AlignFunc func(segments []engine.Segment) (engine.Alignment, error)
	// BeforeAlignLoad runs before an alignment model load returns.
	BeforeAlignLoad func(language string)

	calls   []string
	live    map[string]string
	specs   []engine.ModelSpec
	aligns  []engine.AlignSpec
	seq     int
	closed  bool
	version engine.VersionInfo
}

// NewFakeEngine returns an empty fake.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Errors:  map[string]error{},
		live:    map[string]string{},
		version: engine.VersionInfo{WhisperX: "3.4.2", Torch: "2.7.1"},
	}
}

func (f *FakeEngine) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if f.closed {
		return fmt.Errorf("fake engine closed")
	}
	return f.Errors[op]
}

func (f *FakeEngine) newHandle(kind string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("%s-%d", kind, f.seq)
	f.live[id] = kind
	return id
}

func (f *FakeEngine) Version(context.Context) (engine.VersionInfo, error) {
	if err := f.record("version"); err != nil {
		return engine.VersionInfo{}, err
	}
	return f.version, nil
}

func (f *FakeEngine) LoadModel(_ context.Context, spec engine.ModelSpec) (engine.ModelHandle, error) {
	if err := f.record("load_model"); err != nil {
		return engine.ModelHandle{}, err
	}
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	return engine.ModelHandle{ID: f.newHandle("model"), Name: spec.Name}, nil
}

func (f *FakeEngine) LoadAlignModel(_ context.Context, spec engine.AlignSpec) (engine.AlignHandle, error) {
	if err := f.record("load_align_model"); err != nil {
		return engine.AlignHandle{}, err
	}
	if f.BeforeAlignLoad != nil {
		f.BeforeAlignLoad(spec.Language)
	}
	f.mu.Lock()
	f.aligns = append(f.aligns, spec)
	f.mu.Unlock()
	return engine.AlignHandle{ID: f.newHandle("align-" + spec.Language), Language: spec.Language, ModelName: spec.ModelName, Device: spec.Device}, nil
}

func (f *FakeEngine) LoadAudio(_ context.Context, path string) (engine.AudioHandle, error) {
	if err := f.record("load_audio"); err != nil {
		return engine.AudioHandle{}, err
	}
	return engine.AudioHandle{ID: f.newHandle("audio"), Duration: 4}, nil
}

func (f *FakeEngine) Transcribe(_ context.Context, model engine.ModelHandle, audio engine.AudioHandle, opts engine.TranscribeOptions) (engine.Transcript, error) {
	if err := f.record("transcribe"); err != nil {
		return engine.Transcript{}, err
	}
	if err := f.requireLive(model.ID, audio.ID); err != nil {
		return engine.Transcript{}, err
	}
	if f.TranscribeFunc != nil {
		return f.TranscribeFunc(opts)
	}
	return engine.Transcript{
		Language: opts.Language,
		Segments: []engine.Segment{
			{Text: " hello world", Start: 0, End: 1.5},
			{Text: " see you in 2024", Start: 1.5, End: 3.5},
		},
	}, nil
}

func (f *FakeEngine) Align(_ context.Context, model engine.AlignHandle, segments []engine.Segment, audio engine.AudioHandle, opts engine.AlignOptions) (engine.Alignment, error) {
	if err := f.record("align"); err != nil {
		return engine.Alignment{}, err
	}
	if err := f.requireLive(model.ID, audio.ID); err != nil {
		return engine.Alignment{}, err
	}
	if opts.ReturnCharAlignments {
		return engine.Alignment{}, fmt.Errorf("fake engine: char alignments requested")
	}
	if f.AlignFunc != nil {
		return f.AlignFunc(segments)
	}
	return SpreadWords(segments), nil
}

func (f *FakeEngine) Release(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "release")
	delete(f.live, id)
	return nil
}

func (f *FakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeEngine) requireLive(ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if _, ok := f.live[id]; !ok {
			return fmt.Errorf("fake engine: unknown handle %q", id)
		}
	}
	return nil
}

// Calls returns how many times op was invoked.
func (f *FakeEngine) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Live returns the number of unreleased handles of the given kind prefix.
func (f *FakeEngine) Live(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.live {
		if strings.HasPrefix(k, kind) {
			n++
		}
	}
	return n
}

// ModelSpecs returns the transcription model load requests seen so far.
func (f *FakeEngine) ModelSpecs() []engine.ModelSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.ModelSpec(nil), f.specs...)
}

// AlignSpecs returns the alignment model load requests seen so far.
func (f *FakeEngine) AlignSpecs() []engine.AlignSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.AlignSpec(nil), f.aligns...)
}

// Closed reports whether Close was called.
func (f *FakeEngine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SpreadWords assigns each whitespace-separated word an equal slice of its
// segment. Tokens made only of digits are left without timing.
func SpreadWords(segments []engine.Segment) engine.Alignment {
	var out engine.Alignment
	for _, seg := range segments {
		words := strings.Fields(seg.Text)
		aligned := engine.AlignedSegment{Start: seg.Start, End: seg.End, Text: seg.Text, Words: []engine.Word{}}
		step := (seg.End - seg.Start) / engine.Seconds(max(len(words), 1))
		for i, w := range words {
			word := engine.Word{Word: w}
			if !allDigits(w) {
				start := seg.Start + step*engine.Seconds(i)
				end := start + step
				word.Start = start.Ptr()
				word.End = end.Ptr()
				word.Score = engine.Seconds(0.9).Ptr()
			}
			aligned.Words = append(aligned.Words, word)
			out.WordSegments = append(out.WordSegments, word)
		}
		out.Segments = append(out.Segments, aligned)
	}
	return out
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
