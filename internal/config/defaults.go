package config

const (
	defaultStateDir             = "~/.local/share/fieldsync"
	defaultLogDir               = "~/.local/share/fieldsync/logs"
	defaultSpoolDir             = "~/.local/share/fieldsync/spool"
	defaultAPIBind              = "127.0.0.1:7488"
	defaultCollectorTimeout     = 15
	defaultCollectorUserAgent   = "fieldsync/0.1.0"
	defaultSyncSchedule         = "@every 5m"
	defaultProbeInterval        = 30
	defaultProbeTimeout         = 5
	defaultSpoolDebounceMS      = 200
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultTelemetryServiceName = "fieldsync"
	collectorURLEnvVar          = "FIELDSYNC_COLLECTOR_URL"
	collectorTokenEnvVar        = "FIELDSYNC_COLLECTOR_TOKEN"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			SpoolDir: defaultSpoolDir,
			APIBind:  defaultAPIBind,
		},
		Collector: Collector{
			RequestTimeout: defaultCollectorTimeout,
			UserAgent:      defaultCollectorUserAgent,
		},
		Sync: Sync{
			StartupFlush:       true,
			Schedule:           defaultSyncSchedule,
			DeadLetterRejected: true,
		},
		Connectivity: Connectivity{
			Enabled:       true,
			ProbeInterval: defaultProbeInterval,
			ProbeTimeout:  defaultProbeTimeout,
			Netlink:       true,
		},
		Spool: Spool{
			Enabled:    true,
			DebounceMS: defaultSpoolDebounceMS,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			DeadLetters:    true,
			PassAborted:    true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Telemetry: Telemetry{
			MetricsEnabled: true,
			ServiceName:    defaultTelemetryServiceName,
		},
	}
}
