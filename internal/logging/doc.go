// Package logging assembles structured slog loggers and formatting helpers used
// across markergate.
//
// It owns the console/JSON handlers and the size-rotated debug log file, and
// exposes context-aware helpers so pipeline code tags log lines with the job,
// stage, and request correlation ID. A no-op logger is provided for tests and
// wiring code that cannot fail.
package logging
