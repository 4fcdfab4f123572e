package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"fieldsync/internal/config"
)

func TestLoadDefaultConfigUsesEnvCollectorAndExpandsPaths(t *testing.T) {
	t.Setenv("FIELDSYNC_COLLECTOR_URL", "https://collector.test/api/reports")
	t.Setenv("FIELDSYNC_COLLECTOR_TOKEN", "secret")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "fieldsync")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "reports.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Paths.SpoolDir != filepath.Join(wantState, "spool") {
		t.Fatalf("unexpected spool dir: %q", cfg.Paths.SpoolDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Collector.URL != "https://collector.test/api/reports" {
		t.Fatalf("expected collector url from env, got %q", cfg.Collector.URL)
	}
	if cfg.Collector.Token != "secret" {
		t.Fatalf("expected collector token from env, got %q", cfg.Collector.Token)
	}
	if !cfg.Sync.StartupFlush {
		t.Fatal("expected startup flush enabled by default")
	}
	if !cfg.Sync.DeadLetterRejected {
		t.Fatal("expected dead-lettering of rejected reports by default")
	}
	if cfg.ProbeTarget() != "collector.test:443" {
		t.Fatalf("unexpected probe target: %q", cfg.ProbeTarget())
	}
}

func TestLoadWithoutCollectorURLFails(t *testing.T) {
	t.Setenv("FIELDSYNC_COLLECTOR_URL", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected error without collector url")
	}
	if !strings.Contains(err.Error(), "collector.url is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "fieldsync.toml")

	type payload struct {
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		Collector struct {
			URL            string `toml:"url"`
			RequestTimeout int    `toml:"request_timeout"`
		} `toml:"collector"`
		Sync struct {
			Schedule           string `toml:"schedule"`
			DeadLetterRejected bool   `toml:"dead_letter_rejected"`
		} `toml:"sync"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	custom.Collector.URL = "http://10.0.0.5:8080/ingest"
	custom.Collector.RequestTimeout = 3
	custom.Sync.Schedule = "*/10 * * * *"
	custom.Sync.DeadLetterRejected = false
	custom.Logging.Format = " JSON "
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.StateDir != filepath.Join(tempDir, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.RequestTimeout().Seconds() != 3 {
		t.Fatalf("expected request timeout 3s, got %s", cfg.RequestTimeout())
	}
	if cfg.Sync.DeadLetterRejected {
		t.Fatal("expected dead_letter_rejected override to false")
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format json, got %q", cfg.Logging.Format)
	}
	if cfg.ProbeTarget() != "10.0.0.5:8080" {
		t.Fatalf("unexpected probe target: %q", cfg.ProbeTarget())
	}
}

func TestConfigFileOverridesEnvCollectorURL(t *testing.T) {
	t.Setenv("FIELDSYNC_COLLECTOR_URL", "https://env.test/reports")
	configPath := filepath.Join(t.TempDir(), "fieldsync.toml")
	contents := "[collector]\nurl = \"https://file.test/reports\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Collector.URL != "https://file.test/reports" {
		t.Fatalf("expected file url to win, got %q", cfg.Collector.URL)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "FIELDSYNC_COLLECTOR_URL") {
		t.Fatalf("sample config missing env hint: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.StateDir, "fieldsync") {
		t.Fatalf("expected state dir to contain fieldsync, got %q", cfg.Paths.StateDir)
	}
	if cfg.Collector.URL == "" {
		t.Fatal("expected sample collector url")
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Default()
		cfg.Collector.URL = "https://collector.test/reports"
		return cfg
	}

	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults with url to validate, got %v", err)
	}

	cfg = valid()
	cfg.Collector.URL = "ftp://collector.test/reports"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-http scheme")
	}

	cfg = valid()
	cfg.Collector.RequestTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive request timeout")
	}

	cfg = valid()
	cfg.Connectivity.ProbeTimeout = cfg.Connectivity.ProbeInterval
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when probe timeout >= interval")
	}

	cfg = valid()
	cfg.Connectivity.Enabled = false
	cfg.Connectivity.ProbeInterval = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled connectivity should skip probe checks, got %v", err)
	}

	cfg = valid()
	cfg.Sync.Schedule = "not a cron"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	cfg = valid()
	cfg.Sync.Schedule = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty schedule disables scheduling, got %v", err)
	}

	cfg = valid()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}
