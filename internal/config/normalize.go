package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCollector()
	c.normalizeSync()
	c.normalizeConnectivity()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.normalizeTelemetry()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SpoolDir) == "" {
		c.Paths.SpoolDir = defaultSpoolDir
	}
	if c.Paths.SpoolDir, err = expandPath(c.Paths.SpoolDir); err != nil {
		return fmt.Errorf("paths.spool_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeCollector() {
	c.Collector.URL = strings.TrimSpace(c.Collector.URL)
	if c.Collector.URL == "" {
		if value, ok := os.LookupEnv(collectorURLEnvVar); ok {
			c.Collector.URL = strings.TrimSpace(value)
		}
	}
	c.Collector.Token = strings.TrimSpace(c.Collector.Token)
	if c.Collector.Token == "" {
		if value, ok := os.LookupEnv(collectorTokenEnvVar); ok {
			c.Collector.Token = strings.TrimSpace(value)
		}
	}
	c.Collector.UserAgent = strings.TrimSpace(c.Collector.UserAgent)
	if c.Collector.UserAgent == "" {
		c.Collector.UserAgent = defaultCollectorUserAgent
	}
}

func (c *Config) normalizeSync() {
	c.Sync.Schedule = strings.TrimSpace(c.Sync.Schedule)
}

func (c *Config) normalizeConnectivity() {
	c.Connectivity.ProbeAddress = strings.TrimSpace(c.Connectivity.ProbeAddress)
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func (c *Config) normalizeTelemetry() {
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultTelemetryServiceName
	}
}
