package engine

// VersionInfo describes the engine runtime.
type VersionInfo struct {
	WhisperX      string `json:"whisperx"`
	Torch         string `json:"torch"`
	CUDAAvailable bool   `json:"cuda_available"`
}

// ASROptions tune transcription decoding.
type ASROptions struct {
	// Temperatures is the fallback schedule tried in order when decoding fails thresholds.
	Temperatures     []float64 `json:"temperatures"`
	SuppressNumerals bool      `json:"suppress_numerals"`
}

// ModelSpec identifies a transcription model to load.
type ModelSpec struct {
	Name         string     `json:"name"`
	Device       string     `json:"device"`
	ComputeType  string     `json:"compute_type"`
	DownloadRoot string     `json:"download_root"`
	ASROptions   ASROptions `json:"asr_options"`
}

// AlignSpec identifies an alignment model to load. An empty ModelName selects
// the library default for the language.
type AlignSpec struct {
	Language  string `json:"language_code"`
	ModelName string `json:"model_name,omitempty"`
	Device    string `json:"device"`
	ModelDir  string `json:"model_dir"`
}

// ModelHandle references a loaded transcription model.
type ModelHandle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AlignHandle references a loaded alignment model together with its metadata.
type AlignHandle struct {
	ID        string `json:"id"`
	Language  string `json:"language"`
	ModelName string `json:"model_name"`
	Device    string `json:"device"`
}

// AudioHandle references decoded audio samples.
type AudioHandle struct {
	ID       string  `json:"id"`
	Duration Seconds `json:"duration"`
}

// TranscribeOptions apply to a single transcription call.
type TranscribeOptions struct {
	Language  string `json:"language"`
	BatchSize int    `json:"batch_size"`
}

// AlignOptions apply to a single alignment call.
type AlignOptions struct {
	ReturnCharAlignments bool `json:"return_char_alignments"`
}

// Segment is a text span with start/end bounds in seconds.
type Segment struct {
	Text  string  `json:"text"`
	Start Seconds `json:"start"`
	End   Seconds `json:"end"`
}

// Word is a single aligned token. Timing fields are nil for tokens the
// aligner could not place, such as numerals.
type Word struct {
	Word  string   `json:"word"`
	Start *Seconds `json:"start,omitempty"`
	End   *Seconds `json:"end,omitempty"`
	Score *Seconds `json:"score,omitempty"`
}

// AlignedSegment is a segment with word-level timings.
type AlignedSegment struct {
	Start Seconds `json:"start"`
	End   Seconds `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words"`
}

// Transcript is the output of a transcription call.
type Transcript struct {
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// Alignment is the output of an alignment call.
type Alignment struct {
	Segments     []AlignedSegment `json:"segments"`
	WordSegments []Word           `json:"word_segments"`
}
