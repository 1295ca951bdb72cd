package predict

import (
	"encoding/json"
	"fmt"
	"strings"

	"whisperd/internal/engine"
	"whisperd/internal/services"
)

// Mode selects what a prediction does.
type Mode string

const (
	// ModeTranscribe transcribes the audio and then aligns the transcript.
	ModeTranscribe Mode = "transcribe"
	// ModeAlign aligns caller-supplied segments against the audio.
	ModeAlign Mode = "align"
)

// ParseMode validates a mode string. Empty selects transcribe.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeTranscribe:
		return ModeTranscribe, nil
	case ModeAlign:
		return ModeAlign, nil
	}
	return "", services.InvalidArgument("predict", "validate", fmt.Sprintf("unknown mode %q (want transcribe or align)", value))
}

// Request is one inference call.
type Request struct {
	AudioPath string
	Mode      string
	// Segments is a JSON array of {text, start, end} records. Required in align mode.
	Segments string
	// Language is a language code or name. Empty selects English.
	Language string
}

type rawSegment struct {
	Text  *string         `json:"text"`
	Start *engine.Seconds `json:"start"`
	End   *engine.Seconds `json:"end"`
}

// ParseSegments decodes and validates the segments JSON used in align mode.
// Each segment needs non-blank text and finite start <= end.
func ParseSegments(raw string) ([]engine.Segment, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, services.InvalidArgument("predict", "segments", "segments are required in align mode")
	}
	var decoded []rawSegment
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, services.Wrap(services.ErrInvalidArgument, "predict", "segments", "segments must be a JSON array of {text, start, end}", err)
	}
	if len(decoded) == 0 {
		return nil, services.InvalidArgument("predict", "segments", "segments must not be empty in align mode")
	}

	segments := make([]engine.Segment, 0, len(decoded))
	for i, seg := range decoded {
		switch {
		case seg.Text == nil || strings.TrimSpace(*seg.Text) == "":
			return nil, segmentError(i, "text is required")
		case seg.Start == nil || seg.End == nil:
			return nil, segmentError(i, "start and end are required")
		case !seg.Start.Finite() || !seg.End.Finite():
			return nil, segmentError(i, "start and end must be finite")
		case *seg.Start < 0:
			return nil, segmentError(i, "start must not be negative")
		case *seg.Start > *seg.End:
			return nil, segmentError(i, fmt.Sprintf("start %v is after end %v", seg.Start.Float(), seg.End.Float()))
		}
		segments = append(segments, engine.Segment{Text: *seg.Text, Start: *seg.Start, End: *seg.End})
	}
	return segments, nil
}

func segmentError(index int, message string) error {
	return services.InvalidArgument("predict", "segments", fmt.Sprintf("segment %d: %s", index, message))
}
