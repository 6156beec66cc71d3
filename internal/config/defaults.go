package config

// Default values for the TOML tunables (spec §4/§5 defaults), the "layer 0"
// of the four-layer override chain: defaults -> file -> env -> flags.
const (
	defaultIgnoreMarker = ".syncignore"

	defaultPoolSize = 4 // spec §4.13 "default 4"

	defaultMaxRetries         = 5 // spec §4.11 "up to max_retries (default 5)"
	defaultInitialBackoff     = "1s"
	defaultMaxBackoff         = "60s"
	defaultBackoffMultiplier  = 2.0
	defaultHealthPollInterval = "5s" // spec §4.11 "poll server health every 5s"

	defaultCoalesceWindow = "250ms" // spec glossary "Debounce / quiet delay"
	defaultQuietDelay     = "3s"

	defaultRequestTimeout        = "30s" // spec §5 "default 30s"
	defaultPushOpenTimeout       = "10s"
	defaultPushMessageQuietLimit = "30s"

	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

// DefaultSettings returns a Settings populated with all default values. It is
// both the starting point for TOML decoding (so unset fields keep their
// defaults) and the fallback when no settings file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Sync: SyncSettings{
			IgnoreMarker: defaultIgnoreMarker,
		},
		Workers: WorkerSettings{
			PoolSize: defaultPoolSize,
		},
		Retry: RetrySettings{
			MaxRetries:         defaultMaxRetries,
			InitialBackoff:     defaultInitialBackoff,
			MaxBackoff:         defaultMaxBackoff,
			BackoffMultiplier:  defaultBackoffMultiplier,
			HealthPollInterval: defaultHealthPollInterval,
		},
		Watcher: WatcherSettings{
			CoalesceWindow: defaultCoalesceWindow,
			QuietDelay:     defaultQuietDelay,
		},
		Network: NetworkSettings{
			RequestTimeout:        defaultRequestTimeout,
			PushOpenTimeout:       defaultPushOpenTimeout,
			PushMessageQuietLimit: defaultPushMessageQuietLimit,
		},
		Logging: LoggingSettings{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
