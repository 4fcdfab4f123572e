package testsupport

import (
	"path/filepath"
	"testing"

	"fieldsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Connectivity probing, netlink and the schedule are disabled so tests only
// run passes they trigger themselves.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SpoolDir = filepath.Join(base, "spool")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Collector.URL = "http://127.0.0.1:9/reports"
	cfgVal.Collector.RequestTimeout = 2
	cfgVal.Sync.Schedule = ""
	cfgVal.Sync.StartupFlush = false
	cfgVal.Connectivity.Enabled = false
	cfgVal.Connectivity.Netlink = false
	cfgVal.Spool.Enabled = false
	cfgVal.Spool.DebounceMS = 20

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithCollectorURL points the test config at a collector, usually an httptest server.
func WithCollectorURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Collector.URL = url
	}
}

// WithSpool enables spool intake on the test config.
func WithSpool() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Spool.Enabled = true
	}
}

// WithDeadLetters toggles dead-lettering of permanently rejected reports.
func WithDeadLetters(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.DeadLetterRejected = enabled
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
