package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/queue"
	"fieldsync/internal/syncer"
)

// Trigger names.
const (
	Startup        = "startup"
	Connectivity   = "connectivity"
	BackgroundSync = "background_sync"
	Scheduled      = "scheduled"
	Manual         = "manual"
)

// Flusher runs one flush pass.
type Flusher interface {
	Flush(ctx context.Context) (syncer.Result, error)
}

// StatsSource reports queue depth after each pass.
type StatsSource interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// PassObserver is told about every settled pass.
type PassObserver interface {
	ObservePass(result syncer.Result, err error)
}

// Dispatcher maps named triggers to flush passes.
type Dispatcher struct {
	flusher Flusher
	stats   StatsSource
	metrics *metrics.Registry
	logger  *slog.Logger

	mu        sync.Mutex
	observers []PassObserver
	last      *syncer.Result
	lastErr   error
	wg        sync.WaitGroup
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithStats refreshes queue gauges from src after every pass.
func WithStats(src StatsSource) DispatcherOption {
	return func(d *Dispatcher) { d.stats = src }
}

// WithMetrics records pass metrics in reg.
func WithMetrics(reg *metrics.Registry) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = reg }
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher constructs a dispatcher around flusher.
func NewDispatcher(flusher Flusher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{flusher: flusher}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "trigger")
	return d
}

// Observe registers an observer for settled passes.
func (d *Dispatcher) Observe(o PassObserver) {
	if o == nil {
		return
	}
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Fire runs a pass for the named trigger and returns once it has settled,
// whether it completed, absorbed delivery failures or aborted.
func (d *Dispatcher) Fire(ctx context.Context, name string) (syncer.Result, error) {
	ctx = logging.WithTrigger(ctx, name)
	result, err := d.flusher.Flush(ctx)
	if result.Trigger == "" {
		result.Trigger = name
	}

	d.report(ctx, result, err)
	d.recordMetrics(result, err)
	d.refreshQueueGauges(ctx)

	d.mu.Lock()
	d.last = &result
	d.lastErr = err
	observers := append([]PassObserver(nil), d.observers...)
	d.mu.Unlock()
	for _, o := range observers {
		o.ObservePass(result, err)
	}
	return result, err
}

// Go fires the named trigger in its own goroutine.
func (d *Dispatcher) Go(ctx context.Context, name string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_, _ = d.Fire(ctx, name)
	}()
}

// Wait blocks until every pass started with Go has settled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Last returns the most recent settled pass, if any.
func (d *Dispatcher) Last() (*syncer.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil, nil
	}
	result := *d.last
	return &result, d.lastErr
}

func (d *Dispatcher) report(ctx context.Context, result syncer.Result, err error) {
	logger := logging.WithContext(logging.WithPassID(ctx, result.PassID), d.logger)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Info("flush pass interrupted",
				logging.Event("flush_pass_interrupted"),
				logging.Int("delivered", len(result.Delivered)),
				logging.Int("unprocessed", result.Snapshot-result.Processed()),
			)
			return
		}
		logging.ErrorWithContext(logger, "flush pass aborted", "flush_pass_aborted",
			logging.Error(err),
			logging.Int("delivered", len(result.Delivered)),
			logging.Int("unprocessed", result.Snapshot-result.Processed()),
			logging.String(logging.FieldErrorHint, "check the state directory disk space and permissions; run 'fieldsync status'"),
		)
		return
	}

	if result.Snapshot == 0 {
		logger.Debug("flush pass found an empty queue")
		return
	}

	logger.Info("flush pass complete",
		logging.Event("flush_pass_complete"),
		logging.Int("snapshot", result.Snapshot),
		logging.Int("delivered", len(result.Delivered)),
		logging.Int("pending", len(result.Pending)),
		logging.Int("dead_lettered", len(result.DeadLettered)),
		logging.Duration("duration", result.Duration),
	)

	if n := len(result.Pending); n > 0 {
		hint := "collector refused the reports; they will be retried on the next trigger"
		if result.Unreachable {
			hint = "collector unreachable; reports will be sent when connectivity returns"
		}
		attrs := []logging.Attr{
			logging.Int("pending", n),
			logging.String(logging.FieldErrorHint, hint),
			logging.String(logging.FieldImpact, fmt.Sprintf("%d report(s) remain queued", n)),
		}
		if len(result.Failures) > 0 {
			attrs = append(attrs, logging.String("first_error", result.Failures[0].Error))
		}
		logging.WarnWithContext(logger, "reports kept for retry", "delivery_deferred", attrs...)
	}
	if n := len(result.DeadLettered); n > 0 {
		logging.WarnWithContext(logger, "reports rejected by collector", "reports_dead_lettered",
			logging.Int("dead_lettered", n),
			logging.String(logging.FieldErrorHint, "inspect with 'fieldsync deadletters list' and requeue once fixed"),
			logging.String(logging.FieldImpact, fmt.Sprintf("%d report(s) moved out of the queue", n)),
		)
	}
}

func (d *Dispatcher) recordMetrics(result syncer.Result, err error) {
	outcome := metrics.OutcomeComplete
	switch {
	case err != nil:
		outcome = metrics.OutcomeAborted
	case len(result.Pending) > 0:
		outcome = metrics.OutcomePartial
	}
	d.metrics.ObservePass(result.Trigger, outcome, len(result.Delivered), len(result.Pending), len(result.DeadLettered), result.Duration)
}

func (d *Dispatcher) refreshQueueGauges(ctx context.Context) {
	if d.stats == nil || d.metrics == nil {
		return
	}
	stats, err := d.stats.Stats(context.WithoutCancel(ctx))
	if err != nil {
		d.logger.Debug("queue stats unavailable", logging.Error(err))
		return
	}
	var age time.Duration
	if stats.OldestPending != nil {
		age = time.Since(*stats.OldestPending)
	}
	d.metrics.SetQueue(stats.Pending, stats.DeadLettered, age)
}
