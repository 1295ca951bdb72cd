// Package logging assembles structured slog loggers and formatting helpers used
// across whisperd.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so prediction code tags log
// lines with the prediction ID, mode, and language. Long-running processes can
// tee a JSON copy of every record into a session log file, and old session logs
// are pruned by CleanupOldLogs. The package also provides a no-op logger for
// tests and wiring code that cannot fail.
package logging
