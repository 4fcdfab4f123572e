package config

import (
	_ "embed"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	SpoolDir string `toml:"spool_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Collector contains configuration for the remote report collector.
type Collector struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	RequestTimeout int    `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Sync contains configuration for flush passes and their schedule.
type Sync struct {
	StartupFlush bool `toml:"startup_flush"`
	// Schedule is a cron expression (including @every descriptors) for the
	// scheduled background sync. Empty disables it.
	Schedule string `toml:"schedule"`
	// DeadLetterRejected moves reports the collector permanently rejects
	// (4xx other than 408/425/429) out of the queue instead of retrying them.
	DeadLetterRejected bool `toml:"dead_letter_rejected"`
}

// Connectivity contains configuration for the collector reachability monitor.
type Connectivity struct {
	Enabled       bool   `toml:"enabled"`
	ProbeAddress  string `toml:"probe_address"`
	ProbeInterval int    `toml:"probe_interval"`
	ProbeTimeout  int    `toml:"probe_timeout"`
	Netlink       bool   `toml:"netlink"`
}

// Spool contains configuration for the drop directory intake.
type Spool struct {
	Enabled    bool `toml:"enabled"`
	DebounceMS int  `toml:"debounce_ms"`
}

// Notifications contains configuration for ntfy alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	// DeadLetters alerts when a pass moves reports to the dead-letter table.
	DeadLetters bool `toml:"dead_letters"`
	// PassAborted alerts when a pass is aborted by a store failure.
	PassAborted bool `toml:"pass_aborted"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Telemetry contains configuration for metrics and tracing.
type Telemetry struct {
	MetricsEnabled bool   `toml:"metrics_enabled"`
	TracingStdout  bool   `toml:"tracing_stdout"`
	ServiceName    string `toml:"service_name"`
}

// Config encapsulates all configuration values for fieldsync.
//
// Configuration sections by subsystem:
//   - Paths: state, log and spool directories plus the API bind address
//   - Collector: remote endpoint that receives reports
//   - Sync: startup flush, scheduled sync and dead-letter policy
//   - Connectivity: reachability probing and netlink wakeups
//   - Spool: drop directory intake
//   - Notifications: ntfy alerts for dead letters and aborted passes
//   - Logging: log format and level
//   - Telemetry: Prometheus metrics and OpenTelemetry tracing
type Config struct {
	Paths         Paths         `toml:"paths"`
	Collector     Collector     `toml:"collector"`
	Sync          Sync          `toml:"sync"`
	Connectivity  Connectivity  `toml:"connectivity"`
	Spool         Spool         `toml:"spool"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Telemetry     Telemetry     `toml:"telemetry"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fieldsync/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if os.IsNotExist(err) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("fieldsync.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The spool directory is only created when spool intake is enabled.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Spool.Enabled && strings.TrimSpace(c.Paths.SpoolDir) != "" {
		if err := os.MkdirAll(c.Paths.SpoolDir, 0o755); err != nil {
			return fmt.Errorf("create spool directory %q: %w", c.Paths.SpoolDir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the report queue database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "reports.db")
}

// LogPath returns the daemon log file, or "" when no log directory is set.
func (c *Config) LogPath() string {
	if c.Paths.LogDir == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "fieldsync.log")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "fieldsyncd.lock")
}

// RequestTimeout returns the per-delivery HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Collector.RequestTimeout) * time.Second
}

// ProbeInterval returns the connectivity probe period.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Connectivity.ProbeInterval) * time.Second
}

// ProbeTimeout returns the connectivity probe dial timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Connectivity.ProbeTimeout) * time.Second
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// SpoolDebounce returns the delay used to coalesce spool directory events.
func (c *Config) SpoolDebounce() time.Duration {
	return time.Duration(c.Spool.DebounceMS) * time.Millisecond
}

// ProbeTarget returns the host:port dialed by the connectivity monitor. When
// no explicit address is configured it is derived from the collector URL.
func (c *Config) ProbeTarget() string {
	if addr := strings.TrimSpace(c.Connectivity.ProbeAddress); addr != "" {
		return addr
	}
	parsed, err := url.Parse(c.Collector.URL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	if parsed.Port() != "" {
		return parsed.Host
	}
	port := "80"
	if strings.EqualFold(parsed.Scheme, "https") {
		port = "443"
	}
	return net.JoinHostPort(parsed.Hostname(), port)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
