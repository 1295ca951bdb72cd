// Package models owns the loaded transcription model and the per-language
// alignment model table.
//
// Setup runs once per process and is idempotent. Alignment models load lazily
// on first use and stay cached for the process lifetime; the eager strategy
// loads every configured language during Setup instead. Model loads hold the
// model cache lock so concurrent processes sharing a cache do not download the
// same weights twice.
package models
