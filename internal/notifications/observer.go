package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"fieldsync/internal/logging"
	"fieldsync/internal/syncer"
)

// Observer publishes events for settled flush passes. Publishing happens in
// the background so a slow ntfy server never delays a pass acknowledgement.
type Observer struct {
	svc    Service
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewObserver wraps svc.
func NewObserver(svc Service, logger *slog.Logger) *Observer {
	if svc == nil {
		svc = noopService{}
	}
	return &Observer{svc: svc, logger: logging.NewComponentLogger(logger, "notifications")}
}

// ObservePass publishes an aborted-pass or dead-letter event when warranted.
func (o *Observer) ObservePass(result syncer.Result, err error) {
	if o == nil {
		return
	}
	switch {
	case err != nil && !isCancellation(err):
		o.publish(EventPassAborted, Payload{"trigger": result.Trigger, "error": err})
	case len(result.DeadLettered) > 0:
		o.publish(EventReportsDeadLettered, Payload{"trigger": result.Trigger, "count": len(result.DeadLettered)})
	}
}

// Wait blocks until queued notifications have been sent or have failed.
func (o *Observer) Wait() {
	if o == nil {
		return
	}
	o.wg.Wait()
}

func (o *Observer) publish(event Event, payload Payload) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.svc.Publish(context.Background(), event, payload); err != nil {
			logging.WarnWithContext(o.logger, "notification failed", "notification_failed",
				logging.Error(err),
				logging.String("event", string(event)),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
				logging.String(logging.FieldImpact, "alert not delivered"),
			)
		}
	}()
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
