// Package config implements the engine's layered configuration: the JSON
// registration file written by `register` (spec §6), and a TOML tunables
// file covering everything the specification leaves as an operator knob
// (worker pool size, retry backoff, watcher debounce, logging). It follows
// the teacher's internal/config package (four-layer override chain, XDG
// path resolution, thread-safe Holder for SIGHUP reload), simplified from
// the teacher's multi-profile/multi-drive model down to the single sync
// root this specification describes.
package config

// Settings is the TOML tunables structure, decoded from SettingsFileName.
type Settings struct {
	Sync    SyncSettings    `toml:"sync"`
	Workers WorkerSettings  `toml:"workers"`
	Retry   RetrySettings   `toml:"retry"`
	Watcher WatcherSettings `toml:"watcher"`
	Network NetworkSettings `toml:"network"`
	Logging LoggingSettings `toml:"logging"`

	// ServerURLOverride carries the --server-url flag / SYNCENGINE_SERVER_URL
	// env var, resolved by Resolve. It is never persisted to engine.toml
	// (registration's server_url, written by `register`, is the durable
	// value); a caller that wants to talk to a different relay for one
	// invocation applies this on top of the loaded Registration.
	ServerURLOverride string `toml:"-" json:"-"`
}

// SyncSettings controls the sync root and ignore-file location.
type SyncSettings struct {
	SyncRoot     string `toml:"sync_root"`
	IgnoreMarker string `toml:"ignore_marker"`
}

// WorkerSettings controls the transfer worker pool (spec §4.13 "default 4").
type WorkerSettings struct {
	PoolSize int `toml:"pool_size"`
}

// RetrySettings controls backoff and network-wait retry (spec §4.11).
type RetrySettings struct {
	MaxRetries         int     `toml:"max_retries"`
	InitialBackoff     string  `toml:"initial_backoff"`
	MaxBackoff         string  `toml:"max_backoff"`
	BackoffMultiplier  float64 `toml:"backoff_multiplier"`
	HealthPollInterval string  `toml:"health_poll_interval"`
}

// WatcherSettings controls local filesystem debounce behavior (spec §4.6,
// glossary "Debounce / quiet delay").
type WatcherSettings struct {
	CoalesceWindow string `toml:"coalesce_window"`
	QuietDelay     string `toml:"quiet_delay"`
}

// NetworkSettings controls HTTP/websocket timeouts (spec §5 "Timeouts").
type NetworkSettings struct {
	RequestTimeout        string `toml:"request_timeout"`
	PushOpenTimeout       string `toml:"push_open_timeout"`
	PushMessageQuietLimit string `toml:"push_message_quiet_limit"`
}

// LoggingSettings controls slog output, mirroring the teacher's
// LoggingConfig (internal/config/config.go).
type LoggingSettings struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}
