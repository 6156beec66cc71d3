package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// appName names the per-user config/data directory (spec §6 "<config>").
const appName = "syncengine"

// SettingsFileName is the TOML tunables file layered under DefaultConfigDir.
const SettingsFileName = "engine.toml"

// RegistrationFileName is the JSON registration file at config.json
// (spec §6 "<config>/config.json").
const RegistrationFileName = "config.json"

// KeyFileName is the wrapped-data-key file (spec §6 "<config>/keyfile.json").
const KeyFileName = "keyfile.json"

// StateFileName is the crash-safe SQLite store (spec §6 "<config>/state.db").
const StateFileName = "state.db"

// DefaultConfigDir returns the platform-specific directory for config files,
// following the teacher's XDG-aware resolution (internal/config/paths.go).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultSettingsPath returns the full path to the TOML tunables file.
func DefaultSettingsPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, SettingsFileName)
}

// DefaultRegistrationPath returns the full path to config.json.
func DefaultRegistrationPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, RegistrationFileName)
}

// DefaultKeyFilePath returns the full path to keyfile.json.
func DefaultKeyFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, KeyFileName)
}

// DefaultStatePath returns the full path to state.db.
func DefaultStatePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, StateFileName)
}
