package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCollector(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateConnectivity(); err != nil {
		return err
	}
	if err := c.validateSpool(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCollector() error {
	if c.Collector.URL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/fieldsync/config.toml"
		}
		return fmt.Errorf("collector.url is required. Set %s env var or edit %s (create with 'fieldsync config init')", collectorURLEnvVar, defaultPath)
	}
	parsed, err := url.Parse(c.Collector.URL)
	if err != nil {
		return fmt.Errorf("collector.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("collector.url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("collector.url must include a host")
	}
	if c.Collector.RequestTimeout <= 0 {
		return errors.New("collector.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("sync.schedule %q: %w", c.Sync.Schedule, err)
	}
	return nil
}

func (c *Config) validateConnectivity() error {
	if !c.Connectivity.Enabled {
		return nil
	}
	if c.Connectivity.ProbeInterval <= 0 {
		return errors.New("connectivity.probe_interval must be positive")
	}
	if c.Connectivity.ProbeTimeout <= 0 {
		return errors.New("connectivity.probe_timeout must be positive")
	}
	if c.Connectivity.ProbeTimeout >= c.Connectivity.ProbeInterval {
		return errors.New("connectivity.probe_timeout must be less than connectivity.probe_interval")
	}
	if c.ProbeTarget() == "" {
		return errors.New("connectivity.probe_address could not be derived from collector.url")
	}
	return nil
}

func (c *Config) validateSpool() error {
	if !c.Spool.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Paths.SpoolDir) == "" {
		return errors.New("paths.spool_dir must be set when spool.enabled is true")
	}
	if c.Spool.DebounceMS < 0 {
		return errors.New("spool.debounce_ms must not be negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) topic URL, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
