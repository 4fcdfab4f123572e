package syncer

import (
	"context"
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

// Transport delivers one report. A nil error means the collector
// acknowledged receipt.
type Transport interface {
	Deliver(ctx context.Context, report queue.Report) error
}

// Options configures an Engine.
type Options struct {
	// DeadLetterRejected moves permanently rejected reports to dead_letters
	// instead of retrying them on every pass.
	DeadLetterRejected bool
	Logger             *slog.Logger
	Tracer             trace.Tracer
}

// Engine runs flush passes against a store.
type Engine struct {
	store      *queue.Store
	transport  Transport
	deadLetter bool
	logger     *slog.Logger
	tracer     trace.Tracer
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomePending
	outcomeDeadLettered
	outcomeSkipped
)

// NewEngine constructs a flush engine.
func NewEngine(store *queue.Store, transport Transport, opts Options) *Engine {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	return &Engine{
		store:      store,
		transport:  transport,
		deadLetter: opts.DeadLetterRejected,
		logger:     logging.NewComponentLogger(opts.Logger, "syncer"),
		tracer:     tracer,
	}
}

// Flush runs one pass over every report queued when the pass begins.
// Delivery failures are absorbed into the Result. The error is non-nil only
// when the store failed (queue.ErrTransactionAborted) or ctx was cancelled;
// in both cases unprocessed reports stay queued and the Result describes the
// reports handled so far.
func (e *Engine) Flush(ctx context.Context) (Result, error) {
	trigger, _ := logging.TriggerFromContext(ctx)
	result := Result{
		Trigger:   trigger,
		PassID:    uuid.NewString(),
		StartedAt: time.Now(),
	}
	ctx = logging.WithPassID(ctx, result.PassID)
	logger := logging.WithContext(ctx, e.logger)

	ctx, span := e.tracer.Start(ctx, "flush.pass", trace.WithAttributes(
		attribute.String("fieldsync.trigger", trigger),
		attribute.String("fieldsync.pass_id", result.PassID),
	))
	defer span.End()

	err := e.store.WithPass(ctx, func(pass *queue.Pass) error {
		records := pass.Records()
		result.Snapshot = len(records)
		span.SetAttributes(attribute.Int("fieldsync.snapshot", len(records)))
		if len(records) == 0 {
			logger.Debug("queue empty, nothing to flush")
			return nil
		}
		logger.Debug("flush pass started", logging.Int("snapshot", len(records)))

		for _, report := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			oc, failure, err := e.process(ctx, pass, report)
			if err != nil {
				return err
			}
			result.add(report.ID, oc, failure)
		}
		return nil
	})
	result.Duration = time.Since(result.StartedAt)

	span.SetAttributes(
		attribute.Int("fieldsync.delivered", len(result.Delivered)),
		attribute.Int("fieldsync.pending", len(result.Pending)),
		attribute.Int("fieldsync.dead_lettered", len(result.DeadLettered)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("flush pass %s: %w", result.PassID, err)
	}
	return result, nil
}

// process delivers one report and applies its outcome to the store. Only a
// store failure or cancellation is returned as an error.
func (e *Engine) process(ctx context.Context, pass *queue.Pass, report queue.Report) (outcome, *Failure, error) {
	reportCtx := logging.WithReportID(ctx, report.ID)
	logger := logging.WithContext(reportCtx, e.logger)

	deliverErr := e.deliver(reportCtx, report)
	// A confirmed delivery is committed even if ctx is cancelled right after.
	storeCtx := context.WithoutCancel(reportCtx)

	if deliverErr == nil {
		if _, err := pass.Remove(storeCtx, report.ID); err != nil {
			return outcomePending, nil, err
		}
		logger.Debug("report delivered")
		return outcomeDelivered, nil, nil
	}

	if err := ctx.Err(); err != nil {
		return outcomePending, nil, err
	}

	failure := &Failure{
		ReportID:    report.ID,
		Error:       deliverErr.Error(),
		StatusCode:  collector.StatusCode(deliverErr),
		Permanent:   collector.IsPermanent(deliverErr),
		Unreachable: collector.IsUnreachable(deliverErr),
	}

	if failure.Permanent && e.deadLetter {
		moved, err := pass.DeadLetter(storeCtx, report, deliverErr.Error(), failure.StatusCode)
		if err != nil {
			return outcomePending, nil, err
		}
		if !moved {
			logger.Debug("report already removed by another pass")
			return outcomeSkipped, failure, nil
		}
		return outcomeDeadLettered, failure, nil
	}

	logger.Debug("report kept for retry", logging.Error(deliverErr))
	return outcomePending, failure, nil
}

// deliver calls the transport inside a span. A panicking transport counts
// as a failed delivery.
func (e *Engine) deliver(ctx context.Context, report queue.Report) (err error) {
	ctx, span := e.tracer.Start(ctx, "flush.deliver", trace.WithAttributes(
		attribute.Int64("fieldsync.report_id", report.ID),
		attribute.String("fieldsync.report_key", report.Key),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return e.transport.Deliver(ctx, report)
}

func (r *Result) add(id int64, oc outcome, failure *Failure) {
	switch oc {
	case outcomeDelivered:
		r.Delivered = append(r.Delivered, id)
	case outcomeDeadLettered:
		r.DeadLettered = append(r.DeadLettered, id)
	case outcomeSkipped:
		r.Skipped = append(r.Skipped, id)
	default:
		r.Pending = append(r.Pending, id)
	}
	if failure != nil {
		r.Failures = append(r.Failures, *failure)
		if failure.Unreachable {
			r.Unreachable = true
		}
	}
}
