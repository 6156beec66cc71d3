package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePerms restricts config.json to owner-only access — it carries a bearer
// token (spec §6).
const FilePerms = 0o600

// DirPerms is used when creating the containing directory.
const DirPerms = 0o700

// ErrNotRegistered is returned by LoadRegistration when config.json does not
// exist yet — the machine must run `register` first.
var ErrNotRegistered = errors.New("config: machine is not registered")

// Registration is the on-disk shape of <config>/config.json (spec §6
// "{server_url, auth_token, machine_name, sync_folder}").
type Registration struct {
	ServerURL   string `json:"server_url"`
	AuthToken   string `json:"auth_token"`
	MachineName string `json:"machine_name"`
	SyncFolder  string `json:"sync_folder"`
}

// LoadRegistration reads config.json from path.
func LoadRegistration(path string) (*Registration, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotRegistered
	}

	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &reg, nil
}

// SaveRegistration writes reg to path atomically (temp file + rename in the
// same directory), the pattern used throughout the engine for any file whose
// partial write would corrupt engine state (internal/credstore.atomicWriteJSON).
func SaveRegistration(path string, reg *Registration) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encoding registration: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()
	success := false

	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("config: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: renaming: %w", err)
	}

	success = true

	return nil
}
