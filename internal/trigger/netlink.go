package trigger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"fieldsync/internal/logging"
)

// linkWatcher listens for kernel uevents on the net subsystem (interfaces
// appearing, moving or changing) and wakes the connectivity monitor so it
// probes immediately instead of waiting for the next interval.
type linkWatcher struct {
	logger *slog.Logger
	wake   func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newLinkWatcher(logger *slog.Logger, wake func()) *linkWatcher {
	return &linkWatcher{
		logger: logging.NewComponentLogger(logger, "netlink-watcher"),
		wake:   wake,
	}
}

// Start opens the uevent socket. Failing to open it is not fatal: the
// monitor keeps probing on its interval.
func (w *linkWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to netlink socket; connectivity changes will be noticed on the probe interval", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open NETLINK_KOBJECT_UEVENT sockets, or set connectivity.netlink = false"),
			logging.String(logging.FieldImpact, "reconnects are detected up to one probe interval late"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.loop(ctx, conn, quit)

	w.logger.Info("netlink watcher started",
		logging.Event("netlink_watcher_started"),
	)
	return nil
}

// Stop closes the socket.
func (w *linkWatcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false
	w.logger.Info("netlink watcher stopped",
		logging.Event("netlink_watcher_stopped"),
	)
}

// Running reports whether the socket is open.
func (w *linkWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *linkWatcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, linkMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.handleEvent(uevent)
		case err := <-errs:
			w.logger.Debug("netlink watcher error",
				logging.Error(err),
				logging.Event("netlink_watcher_error"),
			)
		}
	}
}

// linkMatcher matches SUBSYSTEM=net uevents for interface lifecycle changes.
func linkMatcher() netlink.Matcher {
	action := "add|change|move|online"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "net",
		},
	})
	return rules
}

func (w *linkWatcher) handleEvent(uevent netlink.UEvent) {
	w.logger.Debug("network interface event",
		logging.Event("netlink_link_event"),
		logging.String("action", string(uevent.Action)),
		logging.String("interface", uevent.Env["INTERFACE"]),
	)
	if w.wake != nil {
		w.wake()
	}
}
