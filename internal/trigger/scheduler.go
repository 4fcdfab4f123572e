package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fieldsync/internal/logging"
	"fieldsync/internal/syncer"
)

// Invoker runs passes for named triggers. *Dispatcher satisfies it.
type Invoker interface {
	Fire(ctx context.Context, name string) (syncer.Result, error)
	Go(ctx context.Context, name string)
}

// Scheduler fires the scheduled trigger on a cron expression. A tick that
// arrives while the previous scheduled pass is still running is skipped.
type Scheduler struct {
	spec    string
	invoker Invoker
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler validates spec and returns a scheduler for it. An empty spec
// disables scheduling and returns nil, which is safe to Start and Stop.
//
// Common expressions:
//   - "@every 5m"     - every five minutes
//   - "*/15 * * * *"  - quarter past, half past, ...
//   - "0 6 * * *"     - daily at 06:00
func NewScheduler(spec string, invoker Invoker, logger *slog.Logger) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	logger = logging.NewComponentLogger(logger, "scheduler")
	return &Scheduler{
		spec:    spec,
		invoker: invoker,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
	}, nil
}

// Start registers the job and begins ticking. The scheduler stops when ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("sync scheduler started",
		logging.Event("scheduler_started"),
		logging.String("schedule", s.spec),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Debug("scheduled sync due")
	_, _ = s.invoker.Fire(ctx, Scheduled)
}

// Stop halts the schedule and waits for a running pass to settle.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("sync scheduler stopped",
		logging.Event("scheduler_stopped"),
	)
}

// Running reports whether the schedule is active.
func (s *Scheduler) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled pass, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
