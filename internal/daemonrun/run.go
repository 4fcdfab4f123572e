package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"fieldsync/internal/config"
	"fieldsync/internal/daemon"
	"fieldsync/internal/logging"
	"fieldsync/internal/preflight"
	"fieldsync/internal/queue"
	"fieldsync/internal/telemetry"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when non-empty.
	LogLevel string
	Version  string
}

// Run starts the fieldsync daemon and blocks until SIGINT/SIGTERM or until
// cmdCtx is cancelled. SIGUSR1 requests a background sync pass.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	shutdownTracing, err := telemetry.Init(signalCtx, telemetry.ConfigFrom(cfg, opts.Version))
	if err != nil {
		logging.WarnWithContext(logger, "tracing disabled", "telemetry_init_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "spans will not be exported"),
		)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Debug("tracer shutdown", logging.Error(err))
			}
		}()
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "fieldsyncd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	for _, result := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "reports stay queued until the check passes"),
		)
	}

	if err := d.Start(signalCtx); err != nil {
		if signalCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("start daemon: %w", err)
	}
	logger.Info("fieldsync runtime ready",
		logging.Event("runtime_ready"),
		logging.String("database", store.Path()),
		logging.String("version", opts.Version),
		logging.Int("pid", os.Getpid()),
	)

	wakeups := make(chan os.Signal, 1)
	signal.Notify(wakeups, syscall.SIGUSR1)
	defer signal.Stop(wakeups)

	for {
		select {
		case <-signalCtx.Done():
			logger.Info("fieldsync daemon shutting down")
			return nil
		case <-wakeups:
			logger.Info("sync requested by signal", logging.Event("signal_sync"))
			d.RequestSync(signalCtx)
		}
	}
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if opts.LogLevel == "" {
		return logging.NewFromConfig(cfg)
	}
	adjusted := *cfg
	adjusted.Logging.Level = opts.LogLevel
	return logging.NewFromConfig(&adjusted)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
