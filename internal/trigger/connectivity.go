package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/logging"
	"fieldsync/internal/syncer"
)

// Link states reported by ConnectivityMonitor.State.
const (
	StateUnknown = "unknown"
	StateOnline  = "online"
	StateOffline = "offline"
)

// ProbeFunc checks whether target can be reached within timeout.
type ProbeFunc func(ctx context.Context, target string, timeout time.Duration) error

// Probe dials target over TCP and closes the connection.
func Probe(ctx context.Context, target string, timeout time.Duration) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("probe: no target")
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return err
	}
	return conn.Close()
}

// ConnectivityMonitor probes the collector and fires the connectivity
// trigger when it becomes reachable after having been unreachable.
type ConnectivityMonitor struct {
	target   string
	interval time.Duration
	timeout  time.Duration
	invoker  Invoker
	probe    ProbeFunc
	logger   *slog.Logger
	watcher  WakeSource
	kick     chan struct{}

	mu        sync.Mutex
	state     string
	lastProbe time.Time
	lastErr   error
	quit      chan struct{}
	done      chan struct{}
	running   bool
}

// WakeSource prompts an early probe when the host's network changes. The
// monitor starts it before its probe loop and stops it on Stop.
type WakeSource interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// ConnectivityOption customizes a ConnectivityMonitor.
type ConnectivityOption func(*ConnectivityMonitor)

// WithWakeSource replaces the netlink watcher.
func WithWakeSource(src WakeSource) ConnectivityOption {
	return func(m *ConnectivityMonitor) {
		if src != nil {
			m.watcher = src
		}
	}
}

// WithProbe replaces the TCP dial probe.
func WithProbe(probe ProbeFunc) ConnectivityOption {
	return func(m *ConnectivityMonitor) {
		if probe != nil {
			m.probe = probe
		}
	}
}

// NewConnectivityMonitor returns nil when connectivity monitoring is
// disabled or no probe target can be derived. A nil monitor is inert.
func NewConnectivityMonitor(cfg *config.Config, invoker Invoker, logger *slog.Logger, opts ...ConnectivityOption) *ConnectivityMonitor {
	if cfg == nil || !cfg.Connectivity.Enabled {
		return nil
	}
	target := cfg.ProbeTarget()
	if target == "" {
		return nil
	}
	m := &ConnectivityMonitor{
		target:   target,
		interval: cfg.ProbeInterval(),
		timeout:  cfg.ProbeTimeout(),
		invoker:  invoker,
		probe:    Probe,
		logger:   logging.NewComponentLogger(logger, "connectivity"),
		kick:     make(chan struct{}, 1),
		state:    StateUnknown,
	}
	if cfg.Connectivity.Netlink {
		m.watcher = newLinkWatcher(logger, m.Kick)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins probing in the background.
func (m *ConnectivityMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.watcher != nil {
		if err := m.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start wake source: %w", err)
		}
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true
	quit, done := m.quit, m.done
	m.mu.Unlock()
	go m.loop(ctx, quit, done)

	m.logger.Info("connectivity monitor started",
		logging.Event("connectivity_monitor_started"),
		logging.String("target", m.target),
		logging.Duration("interval", m.interval),
		logging.Bool("wake_source", m.watcher != nil && m.watcher.Running()),
	)
	return nil
}

// Stop halts probing and waits for the probe loop to exit.
func (m *ConnectivityMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.quit)
	done := m.done
	m.quit = nil
	m.running = false
	m.mu.Unlock()

	if m.watcher != nil {
		m.watcher.Stop()
	}
	<-done
}

// Running reports whether the probe loop is active.
func (m *ConnectivityMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Kick requests an immediate probe.
func (m *ConnectivityMonitor) Kick() {
	if m == nil {
		return
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// MarkOffline records that the collector was just found unreachable, so
// the next successful probe counts as a reconnect.
func (m *ConnectivityMonitor) MarkOffline() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOffline {
		m.logger.Debug("collector marked offline by flush pass")
	}
	m.state = StateOffline
}

// ObservePass marks the collector offline after a pass that could not
// reach it.
func (m *ConnectivityMonitor) ObservePass(result syncer.Result, _ error) {
	if result.Unreachable {
		m.MarkOffline()
	}
}

// State returns the last known link state.
func (m *ConnectivityMonitor) State() string {
	if m == nil {
		return StateUnknown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastProbe returns when the collector was last probed and the probe error.
func (m *ConnectivityMonitor) LastProbe() (time.Time, error) {
	if m == nil {
		return time.Time{}, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastProbe, m.lastErr
}

// Target returns the probed host:port.
func (m *ConnectivityMonitor) Target() string {
	if m == nil {
		return ""
	}
	return m.target
}

func (m *ConnectivityMonitor) loop(ctx context.Context, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case <-ticker.C:
			m.check(ctx)
		case <-m.kick:
			m.check(ctx)
		}
	}
}

// check probes once and fires the connectivity trigger on a reconnect.
func (m *ConnectivityMonitor) check(ctx context.Context) {
	err := m.probe(ctx, m.target, m.timeout)
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	previous := m.state
	m.lastProbe = time.Now()
	m.lastErr = err
	if err == nil {
		m.state = StateOnline
	} else {
		m.state = StateOffline
	}
	m.mu.Unlock()

	switch {
	case err == nil && previous == StateOffline:
		m.logger.Info("collector reachable again",
			logging.Event("connectivity_restored"),
			logging.String("target", m.target),
		)
		m.invoker.Go(ctx, Connectivity)
	case err != nil && previous != StateOffline:
		m.logger.Info("collector unreachable",
			logging.Event("connectivity_lost"),
			logging.String("target", m.target),
			logging.Error(err),
		)
	}
}
