// Package engine defines the boundary between whisperd and the speech library
// that hosts the transcription and alignment models.
//
// Models and audio live on the engine side and are referenced through small
// handle values. The types here mirror the records WhisperX produces, with
// Seconds tolerating the non-finite timings an aligner can emit.
package engine
