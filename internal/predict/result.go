package predict

import "whisperd/internal/engine"

// Result is the fixed output record of a prediction.
type Result struct {
	Segments     []Segment
	WordSegments []Word
	Language     string
}

// Segment is an aligned span of text.
type Segment struct {
	Start float64
	End   float64
	Text  string
	Words []Word
}

// Word is one aligned token. Nil timing fields are omitted from the output.
type Word struct {
	Word  string
	Start *float64
	End   *float64
	Score *float64
}

// newResult copies an engine alignment into the output shape. Character-level
// data never reaches the result.
func newResult(alignment engine.Alignment, language string) Result {
	out := Result{
		Segments:     make([]Segment, 0, len(alignment.Segments)),
		WordSegments: convertWords(alignment.WordSegments),
		Language:     language,
	}
	for _, seg := range alignment.Segments {
		out.Segments = append(out.Segments, Segment{
			Start: seg.Start.Float(),
			End:   seg.End.Float(),
			Text:  seg.Text,
			Words: convertWords(seg.Words),
		})
	}
	return out
}

func convertWords(words []engine.Word) []Word {
	out := make([]Word, 0, len(words))
	for _, w := range words {
		out = append(out, Word{
			Word:  w.Word,
			Start: floatPtr(w.Start),
			End:   floatPtr(w.End),
			Score: floatPtr(w.Score),
		})
	}
	return out
}

func floatPtr(s *engine.Seconds) *float64 {
	if s == nil {
		return nil
	}
	f := s.Float()
	return &f
}
