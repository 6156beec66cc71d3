package config_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/engine/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultSettingsValidates(t *testing.T) {
	require.NoError(t, config.ValidateSettings(config.DefaultSettings()))
}

func TestLoadSettingsOrDefaultMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")

	cfg, err := config.LoadSettingsOrDefault(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettings(), cfg)
}

func TestLoadSettingsOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")

	require.NoError(t, os.WriteFile(path, []byte(`
[workers]
pool_size = 8

[retry]
max_retries = 3
`), 0o644))

	cfg, err := config.LoadSettings(path, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers.PoolSize)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	// Untouched sections keep their defaults.
	assert.Equal(t, config.DefaultSettings().Watcher, cfg.Watcher)
}

func TestLoadSettingsRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")

	require.NoError(t, os.WriteFile(path, []byte(`
[workers]
pool_siz = 8
`), 0o644))

	_, err := config.LoadSettings(path, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool_siz")
}

func TestLoadSettingsRejectsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")

	require.NoError(t, os.WriteFile(path, []byte(`
[workers]
pool_size = 0
`), 0o644))

	_, err := config.LoadSettings(path, discardLogger())
	require.Error(t, err)
}

func TestResolveAppliesCLIOverOverEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	env := config.EnvOverrides{SettingsPath: path, SyncRoot: "/from/env"}
	cli := config.CLIOverrides{SyncRoot: "/from/cli"}

	cfg, err := config.Resolve(env, cli, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "/from/cli", cfg.Sync.SyncRoot)
}

func TestRegistrationRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	reg := &config.Registration{
		ServerURL:   "https://relay.example.com",
		AuthToken:   "tok_abc123",
		MachineName: "laptop",
		SyncFolder:  "/home/user/Sync",
	}

	require.NoError(t, config.SaveRegistration(path, reg))

	loaded, err := config.LoadRegistration(path)
	require.NoError(t, err)
	assert.Equal(t, reg, loaded)
}

func TestLoadRegistrationMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	_, err := config.LoadRegistration(path)
	require.ErrorIs(t, err, config.ErrNotRegistered)
}

func TestHolderUpdateIsVisibleToReaders(t *testing.T) {
	h := config.NewHolder(config.DefaultSettings(), "/tmp/engine.toml")
	assert.Equal(t, config.DefaultSettings(), h.Settings())

	updated := config.DefaultSettings()
	updated.Workers.PoolSize = 16
	h.Update(updated)

	assert.Equal(t, 16, h.Settings().Workers.PoolSize)
}
