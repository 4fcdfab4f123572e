package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"fieldsync/internal/api"
	"fieldsync/internal/collector"
	"fieldsync/internal/config"
	"fieldsync/internal/logging"
	"fieldsync/internal/metrics"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/spool"
	"fieldsync/internal/submit"
	"fieldsync/internal/syncer"
	"fieldsync/internal/trigger"
)

// Daemon owns the trigger sources and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store

	metrics    *metrics.Registry
	dispatcher *trigger.Dispatcher
	submitter  *submit.Submitter
	monitor    *trigger.ConnectivityMonitor
	scheduler  *trigger.Scheduler
	spool      *spool.Spool
	notifier   *notifications.Observer
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var reg *metrics.Registry
	if cfg.Telemetry.MetricsEnabled {
		reg = metrics.New()
	}

	client := collector.New(cfg)
	engine := syncer.NewEngine(store, client, syncer.Options{
		DeadLetterRejected: cfg.Sync.DeadLetterRejected,
		Logger:             logger,
	})
	dispatcher := trigger.NewDispatcher(engine,
		trigger.WithLogger(logger),
		trigger.WithMetrics(reg),
		trigger.WithStats(store),
	)

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      store,
		metrics:    reg,
		dispatcher: dispatcher,
		lockPath:   cfg.LockPath(),
		lock:       flock.New(cfg.LockPath()),
	}

	d.monitor = trigger.NewConnectivityMonitor(cfg, dispatcher, logger)
	if d.monitor != nil {
		dispatcher.Observe(d.monitor)
	}

	d.notifier = notifications.NewObserver(notifications.NewService(cfg), logger)
	dispatcher.Observe(d.notifier)

	scheduler, err := trigger.NewScheduler(cfg.Sync.Schedule, dispatcher, logger)
	if err != nil {
		return nil, err
	}
	d.scheduler = scheduler

	d.spool = spool.New(cfg, store, logger, spool.WithIngestHook(func(ctx context.Context, _ int) {
		dispatcher.Go(ctx, trigger.BackgroundSync)
	}))

	d.submitter = submit.New(store, client, submit.Options{
		DeadLetterRejected: cfg.Sync.DeadLetterRejected,
		OnUnreachable:      d.monitor.MarkOffline,
		Logger:             logger,
	})

	server, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = server
	return d, nil
}

// Start acquires the daemon lock and starts every trigger source.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another fieldsync daemon is already using %s", d.cfg.Paths.StateDir)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.startSources(runCtx); err != nil {
		cancel()
		d.stopSources()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.running.Store(true)

	if d.cfg.Sync.StartupFlush {
		d.dispatcher.Go(runCtx, trigger.Startup)
	}

	d.logger.Info("fieldsync daemon started",
		logging.Event("daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("collector", d.cfg.Collector.URL),
		logging.String("api", d.APIAddress()),
	)
	return nil
}

func (d *Daemon) startSources(ctx context.Context) error {
	if err := d.api.start(ctx); err != nil {
		return err
	}
	if err := d.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start connectivity monitor: %w", err)
	}
	if err := d.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.spool.Start(ctx); err != nil {
		return fmt.Errorf("start spool: %w", err)
	}
	return nil
}

func (d *Daemon) stopSources() {
	if err := d.spool.Stop(); err != nil {
		d.logger.Warn("spool stop failed", logging.Error(err))
	}
	d.scheduler.Stop()
	d.monitor.Stop()
	d.api.stop()
}

// Stop stops the trigger sources, waits for in-flight passes and releases
// the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopSources()
	d.dispatcher.Wait()
	d.notifier.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("fieldsync daemon stopped",
		logging.Event("daemon_stopped"),
	)
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the address the HTTP API listens on, once started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Metrics returns the Prometheus registry, or nil when metrics are disabled.
func (d *Daemon) Metrics() *metrics.Registry {
	return d.metrics
}

// BackgroundSync runs a pass for the background sync trigger and returns
// once it has settled.
func (d *Daemon) BackgroundSync(ctx context.Context) (syncer.Result, error) {
	return d.dispatcher.Fire(ctx, trigger.BackgroundSync)
}

// RequestSync starts a background sync without waiting for it.
func (d *Daemon) RequestSync(ctx context.Context) {
	d.dispatcher.Go(ctx, trigger.BackgroundSync)
}

// Submit runs the submission path for payload.
func (d *Daemon) Submit(ctx context.Context, payload json.RawMessage) (submit.Receipt, error) {
	return d.submitter.Submit(ctx, payload)
}

// ListReports returns pending reports in delivery order.
func (d *Daemon) ListReports(ctx context.Context) ([]queue.Report, error) {
	return d.store.ListAll(ctx)
}

// RemoveReport deletes a pending report. It returns queue.ErrNotFound when
// no such report is queued.
func (d *Daemon) RemoveReport(ctx context.Context, id int64) error {
	removed, err := d.store.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("report %d: %w", id, queue.ErrNotFound)
	}
	d.logger.Info("report removed by operator",
		logging.Event("report_removed"),
		logging.ReportID(id),
	)
	return nil
}

// ListDeadLetters returns dead-lettered reports.
func (d *Daemon) ListDeadLetters(ctx context.Context) ([]queue.DeadLetter, error) {
	return d.store.ListDeadLetters(ctx)
}

// RequeueDeadLetter moves a dead letter back onto the queue.
func (d *Daemon) RequeueDeadLetter(ctx context.Context, id int64) (queue.Report, error) {
	report, err := d.store.RequeueDeadLetter(ctx, id)
	if err != nil {
		return queue.Report{}, err
	}
	d.logger.Info("dead letter requeued",
		logging.Event("dead_letter_requeued"),
		logging.Int64("dead_letter_id", id),
		logging.ReportID(report.ID),
	)
	return report, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		CollectorURL: d.cfg.Collector.URL,
		Schedule:     d.cfg.Sync.Schedule,
		SpoolDir:     d.spool.Dir(),
		Connectivity: api.ConnectivityStatus{
			Enabled: d.monitor != nil,
			Target:  d.monitor.Target(),
			State:   d.monitor.State(),
			Netlink: d.cfg.Connectivity.Enabled && d.cfg.Connectivity.Netlink,
		},
	}
	if at, err := d.monitor.LastProbe(); !at.IsZero() {
		status.Connectivity.LastProbe = api.FormatTime(at)
		if err != nil {
			status.Connectivity.LastError = err.Error()
		}
	}
	if next := d.scheduler.NextRun(); next != nil {
		status.NextScheduled = api.FormatTime(*next)
	}
	if stats, err := d.store.Stats(ctx); err == nil {
		status.Queue = api.FromStats(stats)
	} else {
		d.logger.Debug("queue stats unavailable", logging.Error(err))
	}
	if last, err := d.dispatcher.Last(); last != nil {
		summary := api.FromResult(*last, err)
		status.LastPass = &summary
	}
	return status
}
