// Package predict validates and runs single inference calls.
//
// A call names an audio file, a mode (transcribe or align), optional
// caller-supplied segments, and a language. Transcribe mode transcribes the
// audio first; both modes then align the segments word by word against the
// audio. The output is one fixed JSON record:
//
//	{"segments":[{"start","end","text","words":[...]}],"word_segments":[...],"language"}
//
// Words the aligner could not place omit their timing fields. Non-finite
// timings are written as NaN, Infinity, or -Infinity literals, which
// encoding/json refuses to emit, so Result carries its own encoder.
package predict
