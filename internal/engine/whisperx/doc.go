// Package whisperx implements engine.Engine on top of a long-lived WhisperX
// worker.
//
// The worker is a Python script embedded in the binary and launched through
// uvx, so no Python environment needs to be managed by hand. It speaks a line
// protocol over stdin/stdout: one JSON request per line, one JSON response per
// line, with a ready line on startup. Models stay resident in the worker
// between requests and are addressed by handle IDs chosen on the Go side,
// which lets a restarted worker restore them transparently.
//
// The worker runs in its own process group. Close, or a request abandoned by
// context cancellation, terminates the group with SIGTERM followed by SIGKILL.
package whisperx
