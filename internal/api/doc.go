// Package api defines wire-format types, converters and a client for the
// daemon HTTP API. It translates internal queue and flush models into
// transport-friendly DTOs so the CLI and other consumers can render them
// without coupling to internal types.
//
// # Key Types
//
// ReportItem / DeadLetterItem: transport representations of queued and
// dead-lettered reports.
//
// PassSummary: partitions of one flush pass, plus the abort error if any.
//
// DaemonStatus: runtime information, queue counts, connectivity state and the
// last pass.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Report payloads are passed through as json.RawMessage to avoid
// double-encoding.
package api
