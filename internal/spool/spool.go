package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"fieldsync/internal/config"
	"fieldsync/internal/logging"
	"fieldsync/internal/queue"
)

// RejectedDir is the subdirectory that receives invalid files.
const RejectedDir = "rejected"

// spoolNamespace seeds delivery keys derived from file name and contents, so
// a file re-ingested after a crash keeps the key the collector already saw.
var spoolNamespace = uuid.MustParse("5f0c2d1e-8a41-4c6b-9a4e-1b7f3c2d9e10")

// Enqueuer persists a report under a known key. *queue.Store satisfies it.
type Enqueuer interface {
	EnqueueKeyed(ctx context.Context, key string, payload json.RawMessage) (queue.Report, error)
}

// ScanResult lists what one scan did.
type ScanResult struct {
	Ingested []int64
	Rejected []string
	// Deferred holds invalid files modified within the debounce window. A
	// producer may still be writing them; they are checked again later.
	Deferred []string
}

// Spool watches the spool directory.
type Spool struct {
	dir      string
	rejected string
	debounce time.Duration
	store    Enqueuer
	logger   *slog.Logger
	onIngest func(ctx context.Context, n int)

	scanMu sync.Mutex

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// Option customizes a Spool.
type Option func(*Spool)

// WithIngestHook is called after a scan that enqueued at least one report.
func WithIngestHook(fn func(ctx context.Context, n int)) Option {
	return func(s *Spool) { s.onIngest = fn }
}

// New returns nil when spool intake is disabled. A nil *Spool is inert.
func New(cfg *config.Config, store Enqueuer, logger *slog.Logger, opts ...Option) *Spool {
	if cfg == nil || !cfg.Spool.Enabled || strings.TrimSpace(cfg.Paths.SpoolDir) == "" {
		return nil
	}
	s := &Spool{
		dir:      cfg.Paths.SpoolDir,
		rejected: filepath.Join(cfg.Paths.SpoolDir, RejectedDir),
		debounce: cfg.SpoolDebounce(),
		store:    store,
		logger:   logging.NewComponentLogger(logger, "spool"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the watched directory.
func (s *Spool) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// Start ingests files already present and then watches for new ones.
func (s *Spool) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spool watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch spool directory %q: %w", s.dir, err)
	}

	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	go s.loop(ctx, watcher, s.stopCh, s.doneCh)

	s.logger.Info("spool intake started",
		logging.Event("spool_started"),
		logging.String("dir", s.dir),
		logging.Duration("debounce", s.debounce),
	)
	return nil
}

// Stop closes the watcher and waits for an in-flight scan.
func (s *Spool) Stop() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	done := s.doneCh
	watcher := s.watcher
	s.watcher = nil
	s.running = false
	s.mu.Unlock()

	<-done
	if err := watcher.Close(); err != nil {
		return fmt.Errorf("close spool watcher: %w", err)
	}
	s.logger.Info("spool intake stopped",
		logging.Event("spool_stopped"),
	)
	return nil
}

// Running reports whether the directory is being watched.
func (s *Spool) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Spool) loop(ctx context.Context, watcher *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	if s.scanAndReport(ctx) {
		timer.Reset(s.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			s.logger.Debug("spool event",
				logging.String("path", event.Name),
				logging.String("op", event.Op.String()),
			)
			timer.Reset(s.debounce)
		case <-timer.C:
			if s.scanAndReport(ctx) {
				timer.Reset(s.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(s.logger, "spool watcher error", "spool_watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "files may be picked up late; they are rescanned on the next event or restart"),
			)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	return isCandidate(filepath.Base(event.Name))
}

func isCandidate(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.EqualFold(filepath.Ext(name), ".json")
}

// scanAndReport runs a scan and reports whether deferred files need another.
func (s *Spool) scanAndReport(ctx context.Context) bool {
	result, err := s.Scan(ctx)
	if err != nil {
		logging.ErrorWithContext(s.logger, "spool scan failed", "spool_scan_failed",
			logging.Error(err),
			logging.Int("ingested", len(result.Ingested)),
			logging.String(logging.FieldErrorHint, "remaining files stay in the spool directory and are retried on the next event"),
		)
	}
	if n := len(result.Ingested); n > 0 && s.onIngest != nil {
		s.onIngest(ctx, n)
	}
	return err == nil && len(result.Deferred) > 0
}

// Scan ingests every candidate file currently in the directory, in name
// order. It stops at the first storage failure and leaves that file and
// the rest in place.
func (s *Spool) Scan(ctx context.Context) (ScanResult, error) {
	var result ScanResult
	if s == nil {
		return result, nil
	}
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return result, fmt.Errorf("read spool directory: %w", err)
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if entry.IsDir() || !isCandidate(entry.Name()) {
			continue
		}
		id, state, err := s.ingest(ctx, entry.Name())
		if err != nil {
			return result, err
		}
		switch state {
		case fileIngested:
			result.Ingested = append(result.Ingested, id)
		case fileRejected:
			result.Rejected = append(result.Rejected, entry.Name())
		case fileDeferred:
			result.Deferred = append(result.Deferred, entry.Name())
		}
	}
	return result, nil
}

type fileState int

const (
	fileGone fileState = iota
	fileIngested
	fileRejected
	fileDeferred
)

func (s *Spool) ingest(ctx context.Context, name string) (int64, fileState, error) {
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fileGone, nil
		}
		return 0, fileGone, fmt.Errorf("stat %s: %w", name, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fileGone, nil
		}
		return 0, fileGone, fmt.Errorf("read %s: %w", name, err)
	}

	if err := queue.ValidatePayload(data); err != nil {
		if time.Since(info.ModTime()) < s.debounce {
			s.logger.Debug("spool file incomplete, checking again later",
				logging.String("file", name),
				logging.Error(err),
			)
			return 0, fileDeferred, nil
		}
		if err := s.reject(name, err); err != nil {
			return 0, fileGone, err
		}
		return 0, fileRejected, nil
	}

	key := uuid.NewSHA1(spoolNamespace, append([]byte(name+"\x00"), data...)).String()
	report, err := s.store.EnqueueKeyed(ctx, key, json.RawMessage(data))
	if err != nil {
		return 0, fileGone, fmt.Errorf("enqueue %s: %w", name, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(s.logger, "spool file enqueued but not removed", "spool_remove_failed",
			logging.Error(err),
			logging.String("file", name),
			logging.ReportID(report.ID),
			logging.String(logging.FieldErrorHint, "check spool directory permissions"),
			logging.String(logging.FieldImpact, "file will be enqueued again under the same key on the next scan"),
		)
	}
	s.logger.Info("spool file enqueued",
		logging.Event("spool_file_enqueued"),
		logging.String("file", name),
		logging.ReportID(report.ID),
		logging.ReportKey(key),
	)
	return report.ID, fileIngested, nil
}

func (s *Spool) reject(name string, cause error) error {
	if err := os.MkdirAll(s.rejected, 0o755); err != nil {
		return fmt.Errorf("create rejected directory: %w", err)
	}
	if err := os.Rename(filepath.Join(s.dir, name), filepath.Join(s.rejected, name)); err != nil {
		return fmt.Errorf("move %s to %s: %w", name, RejectedDir, err)
	}
	logging.WarnWithContext(s.logger, "spool file rejected", "spool_file_rejected",
		logging.String("file", name),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "fix the file and move it back into the spool directory"),
		logging.String(logging.FieldImpact, "report not queued"),
	)
	return nil
}
