package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"fieldsync/internal/config"
	"fieldsync/internal/queue"
	"fieldsync/internal/trigger"
)

const defaultProbeTimeout = 3 * time.Second

// CheckCollector dials the collector (or connectivity.probe_address) to see
// whether it is reachable right now.
func CheckCollector(ctx context.Context, cfg *config.Config) Result {
	const name = "Collector"

	target := cfg.ProbeTarget()
	if target == "" {
		return Result{Name: name, Detail: "no probe target (check collector.url)"}
	}
	timeout := cfg.ProbeTimeout()
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	started := time.Now()
	if err := trigger.Probe(ctx, target, timeout); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%s)", target, summarizeDialError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (%dms)", target, time.Since(started).Milliseconds())}
}

// CheckNtfy verifies the ntfy server answers for the topic URL.
func CheckNtfy(ctx context.Context, topic string, timeout time.Duration) Result {
	const name = "ntfy"

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Result{Name: name, Detail: "missing topic"}
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, topic, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("check failed (%v)", err)}
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("check failed (%s)", summarizeDialError(err))}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDatabase summarizes the report database health check.
func CheckDatabase(ctx context.Context, store *queue.Store) (Result, queue.DatabaseHealth) {
	const name = "Database"

	health, err := store.CheckHealth(ctx)
	switch {
	case err != nil:
		return Result{Name: name, Detail: err.Error()}, health
	case !health.DatabaseExists:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", health.DBPath)}, health
	case len(health.MissingTables) > 0:
		return Result{Name: name, Detail: "missing tables: " + strings.Join(health.MissingTables, ", ")}, health
	case !health.IntegrityCheck:
		return Result{Name: name, Detail: "integrity check failed"}, health
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema %s)", health.DBPath, health.SchemaVersion)}, health
}

func summarizeDialError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	if errors.Is(err, unix.ECONNREFUSED) {
		return "connection refused"
	}
	return err.Error()
}
