// Package language normalizes request and configuration language codes.
//
// Callers may pass ISO 639-1 or 639-2 codes, English word forms, or full BCP 47
// tags; everything is reduced to the ISO 639-1 base language WhisperX expects
// for both transcription and alignment model selection.
package language
