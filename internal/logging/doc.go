// Package logging assembles structured slog loggers and formatting helpers used
// across fieldsync.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so flush passes automatically
// tag log lines with their trigger, pass ID, and report ID. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
