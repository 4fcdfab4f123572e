package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldReportID is the standardized structured logging key for queued report identifiers.
	FieldReportID = "report_id"
	// FieldReportKey is the standardized structured logging key for idempotency keys.
	FieldReportKey = "report_key"
	// FieldPassID is the standardized structured logging key for flush pass identifiers.
	FieldPassID = "pass_id"
	// FieldTrigger is the standardized structured logging key for the trigger that started a pass.
	FieldTrigger = "trigger"
	// FieldCorrelationID is the standardized structured logging key for API request identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to try next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey int

const (
	triggerKey contextKey = iota
	passIDKey
	reportIDKey
	correlationIDKey
)

// WithTrigger annotates ctx with the trigger name of the current pass.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey, trigger)
}

// WithPassID annotates ctx with the current flush pass identifier.
func WithPassID(ctx context.Context, passID string) context.Context {
	return context.WithValue(ctx, passIDKey, passID)
}

// WithReportID annotates ctx with the report being processed.
func WithReportID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, reportIDKey, id)
}

// WithCorrelationID annotates ctx with an API request identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if trigger, ok := ctx.Value(triggerKey).(string); ok && trigger != "" {
		fields = append(fields, slog.String(FieldTrigger, trigger))
	}
	if passID, ok := ctx.Value(passIDKey).(string); ok && passID != "" {
		fields = append(fields, slog.String(FieldPassID, passID))
	}
	if id, ok := ctx.Value(reportIDKey).(int64); ok && id > 0 {
		fields = append(fields, slog.Int64(FieldReportID, id))
	}
	if rid, ok := ctx.Value(correlationIDKey).(string); ok && rid != "" {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(args(fields)...)
}

// TriggerFromContext returns the trigger name stored by WithTrigger.
func TriggerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	trigger, ok := ctx.Value(triggerKey).(string)
	return trigger, ok && trigger != ""
}
