package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/syncagent/engine/internal/config"
)

// newInitCmd bootstraps a fresh install: creates the config directory and
// writes a default engine.toml if one doesn't already exist. Skips the
// normal settings-resolution pre-run since engine.toml may not exist yet.
func newInitCmd() *cobra.Command {
	var syncRoot string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap the config directory and default settings file",
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInit(syncRoot)
		},
	}

	cmd.Flags().StringVar(&syncRoot, "sync-root", "", "local sync directory (default: ~/Sync)")

	return cmd
}

func runInit(syncRoot string) error {
	dir := config.DefaultConfigDir()
	if dir == "" {
		return fmt.Errorf("cannot determine config directory (is $HOME set?)")
	}

	if err := os.MkdirAll(dir, config.DirPerms); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	resolvedSyncRoot := syncRoot
	if resolvedSyncRoot == "" {
		if home, homeErr := os.UserHomeDir(); homeErr == nil {
			resolvedSyncRoot = home + "/Sync"
		} else {
			resolvedSyncRoot = "."
		}
	}

	settingsPath := config.DefaultSettingsPath()

	if _, err := os.Stat(settingsPath); err == nil {
		statusf(flagQuiet, "Settings file already exists at %s, leaving it untouched.\n", settingsPath)
	} else {
		defaults := config.DefaultSettings()
		defaults.Sync.SyncRoot = resolvedSyncRoot

		if err := writeSettings(settingsPath, defaults); err != nil {
			return err
		}

		statusf(flagQuiet, "Wrote default settings to %s\n", settingsPath)
	}

	if err := os.MkdirAll(resolvedSyncRoot, 0o755); err != nil {
		return fmt.Errorf("creating sync directory: %w", err)
	}

	statusf(flagQuiet, "Config directory: %s\n", dir)
	statusf(flagQuiet, "Run `syncengine key create` next, then `syncengine register`.\n")

	return nil
}

func writeSettings(path string, cfg *config.Settings) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating settings file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)

	return enc.Encode(cfg)
}
