package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values sourced from command-line flags — the
// highest-priority layer in the four-layer chain (spec ambient stack;
// mirrors the teacher's config.CLIOverrides).
type CLIOverrides struct {
	SettingsPath string
	SyncRoot     string
	ServerURL    string
}

// LoadSettings reads and parses the TOML tunables file at path, rejecting
// unknown keys so a typo in engine.toml fails fast rather than being
// silently ignored (mirrors the teacher's Load / checkUnknownKeys).
func LoadSettings(path string, logger *slog.Logger) (*Settings, error) {
	logger.Debug("loading settings file", "path", path)

	cfg := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading settings file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing settings file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		names := make([]string, len(undecoded))
		for i, k := range undecoded {
			names[i] = k.String()
		}

		return nil, fmt.Errorf("config: unknown key(s) in %s: %s", path, strings.Join(names, ", "))
	}

	if err := ValidateSettings(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// LoadSettingsOrDefault reads the TOML tunables file if present, otherwise
// returns the default settings — the zero-config first-run experience.
func LoadSettingsOrDefault(path string, logger *slog.Logger) (*Settings, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("settings file not found, using defaults", "path", path)
		return DefaultSettings(), nil
	}

	return LoadSettings(path, logger)
}

// ResolveSettingsPath applies the three-layer priority CLI > env > default.
func ResolveSettingsPath(env EnvOverrides, cli CLIOverrides) string {
	path := DefaultSettingsPath()

	if env.SettingsPath != "" {
		path = env.SettingsPath
	}

	if cli.SettingsPath != "" {
		path = cli.SettingsPath
	}

	return path
}

// Resolve loads the settings file (or defaults) and applies environment and
// CLI overrides on top, implementing the four-layer chain: defaults -> file
// -> environment -> CLI flags (ambient stack, following the teacher's
// ResolveDrive in internal/config/load.go).
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Settings, error) {
	path := ResolveSettingsPath(env, cli)

	cfg, err := LoadSettingsOrDefault(path, logger)
	if err != nil {
		return nil, err
	}

	if env.SyncRoot != "" {
		cfg.Sync.SyncRoot = env.SyncRoot
	}

	if env.ServerURL != "" {
		cfg.ServerURLOverride = env.ServerURL
	}

	if cli.SyncRoot != "" {
		cfg.Sync.SyncRoot = cli.SyncRoot
	}

	if cli.ServerURL != "" {
		cfg.ServerURLOverride = cli.ServerURL
	}

	if err := ValidateSettings(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed after overrides: %w", err)
	}

	return cfg, nil
}
