package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fieldsync/internal/collector"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
	"fieldsync/internal/telemetry"
)

// Outcome is what the user is told after Submit.
type Outcome string

const (
	// OutcomeDelivered means the collector acknowledged the report directly.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeQueued means the report is persisted and will be sent later.
	OutcomeQueued Outcome = "queued"
)

// Receipt describes a successful submission.
type Receipt struct {
	Outcome  Outcome `json:"outcome" yaml:"outcome"`
	Key      string  `json:"key" yaml:"key"`
	ReportID int64   `json:"report_id,omitempty" yaml:"report_id,omitempty"`
	Reason   string  `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Sender delivers a single report. *collector.Client satisfies it.
type Sender interface {
	Deliver(ctx context.Context, report queue.Report) error
}

// Enqueuer persists a report under a known key. *queue.Store satisfies it.
type Enqueuer interface {
	EnqueueKeyed(ctx context.Context, key string, payload json.RawMessage) (queue.Report, error)
}

// Options configures a Submitter.
type Options struct {
	// DeadLetterRejected returns permanent collector rejections to the caller
	// instead of queueing a payload that can never be accepted.
	DeadLetterRejected bool
	// OnUnreachable is called when the direct send could not reach the collector.
	OnUnreachable func()
	Logger        *slog.Logger
	Tracer        trace.Tracer
}

// Submitter sends reports directly and falls back to the queue.
type Submitter struct {
	store  Enqueuer
	sender Sender
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// New constructs a submitter.
func New(store Enqueuer, sender Sender, opts Options) *Submitter {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	return &Submitter{
		store:  store,
		sender: sender,
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "submit"),
		tracer: tracer,
	}
}

// Submit delivers payload or queues it. The returned error is non-nil only
// when the payload is invalid, the collector permanently rejected it with
// dead-lettering enabled, or it could be neither delivered nor stored.
func (s *Submitter) Submit(ctx context.Context, payload json.RawMessage) (Receipt, error) {
	if err := queue.ValidatePayload(payload); err != nil {
		return Receipt{}, err
	}

	report := queue.Report{
		Key:       uuid.NewString(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	ctx, span := s.tracer.Start(ctx, "submit", trace.WithAttributes(
		attribute.String("report.key", report.Key),
	))
	defer span.End()
	logger := logging.WithContext(ctx, s.logger).With(logging.ReportKey(report.Key))

	sendErr := s.sender.Deliver(ctx, report)
	if sendErr == nil {
		span.SetAttributes(attribute.String("submit.outcome", string(OutcomeDelivered)))
		logger.Info("report delivered",
			logging.Event("report_delivered_direct"),
		)
		return Receipt{Outcome: OutcomeDelivered, Key: report.Key}, nil
	}

	if s.opts.DeadLetterRejected && collector.IsPermanent(sendErr) {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "rejected")
		logging.WarnWithContext(logger, "collector rejected report", "report_rejected",
			logging.Error(sendErr),
			logging.Int("status_code", collector.StatusCode(sendErr)),
			logging.String(logging.FieldErrorHint, "fix the report contents and submit again"),
			logging.String(logging.FieldImpact, "report was not queued"),
		)
		return Receipt{}, fmt.Errorf("submit report: %w", sendErr)
	}

	if collector.IsUnreachable(sendErr) && s.opts.OnUnreachable != nil {
		s.opts.OnUnreachable()
	}

	// The user has been promised the report; a cancelled caller must not
	// lose it between the failed send and the insert.
	queued, err := s.store.EnqueueKeyed(context.WithoutCancel(ctx), report.Key, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		logging.ErrorWithContext(logger, "report could not be delivered or queued", "report_lost",
			logging.Error(err),
			logging.String("delivery_error", sendErr.Error()),
			logging.String(logging.FieldErrorHint, "check the state directory disk space and permissions"),
		)
		return Receipt{}, fmt.Errorf("queue report after failed delivery: %w", err)
	}

	span.SetAttributes(
		attribute.String("submit.outcome", string(OutcomeQueued)),
		attribute.Int64("report.id", queued.ID),
	)
	logger.Info("report queued for later delivery",
		logging.Event("report_queued"),
		logging.ReportID(queued.ID),
		logging.String("reason", sendErr.Error()),
	)
	return Receipt{
		Outcome:  OutcomeQueued,
		Key:      report.Key,
		ReportID: queued.ID,
		Reason:   sendErr.Error(),
	}, nil
}
