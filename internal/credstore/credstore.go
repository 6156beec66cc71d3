// Package credstore manages the engine's data key: a random 256-bit key
// that encrypts every chunk, wrapped at rest under a password-derived key
// (spec §4.3). The atomic write-to-temp-then-rename pattern below is
// adapted from the teacher's internal/tokenfile package, generalized from
// OAuth2 tokens to the credential record defined in spec §3.
package credstore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/syncagent/engine/internal/cryptoprim"
)

// FilePerms restricts the keyfile to owner-only read/write — it contains a
// wrapped copy of the data key.
const FilePerms = 0o600

// DirPerms is used when creating the containing directory.
const DirPerms = 0o700

// Sentinel errors (spec §4.3).
var (
	ErrAlreadyInitialized = errors.New("credstore: already initialized")
	ErrNotInitialized     = errors.New("credstore: not initialized")
	ErrBadPassword        = errors.New("credstore: bad password")
	ErrCorrupt            = errors.New("credstore: corrupt keyfile")
	ErrBadKeyFormat       = errors.New("credstore: bad key format")
	ErrBadBase64          = errors.New("credstore: bad base64 encoding")
)

// record is the on-disk JSON format for <config>/keyfile.json.
type record struct {
	Salt       string    `json:"salt"`
	WrappedKey string    `json:"wrapped_key"`
	KeyID      string    `json:"key_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Vault models an OS credential vault that may opportunistically cache the
// unwrapped data key, keyed by key_id (spec §4.3, §9 "global mutable
// state"). Failure to cache is non-fatal and must never surface to the
// caller. The real OS keyring (macOS Keychain, Secret Service, Credential
// Manager) is an external collaborator per spec §1; the default
// implementation here is an in-memory no-op so tests never depend on a
// real OS vault being present.
type Vault interface {
	Get(keyID string) ([cryptoprim.KeySize]byte, bool)
	Set(keyID string, key [cryptoprim.KeySize]byte) error
}

// NoopVault is a Vault that never caches anything.
type NoopVault struct{}

// Get always reports a cache miss.
func (NoopVault) Get(string) ([cryptoprim.KeySize]byte, bool) {
	var zero [cryptoprim.KeySize]byte
	return zero, false
}

// Set is a no-op.
func (NoopVault) Set(string, [cryptoprim.KeySize]byte) error { return nil }

// Store reads and writes the wrapped data key at a fixed path.
type Store struct {
	path  string
	vault Vault
}

// New creates a Store rooted at the given keyfile path (typically
// <config>/keyfile.json). A nil vault defaults to NoopVault.
func New(path string, vault Vault) *Store {
	if vault == nil {
		vault = NoopVault{}
	}

	return &Store{path: path, vault: vault}
}

// Create generates a new random 32-byte data key, wraps it under
// kdf(password, salt), and persists the result. Fails with
// ErrAlreadyInitialized if a keyfile already exists.
func (s *Store) Create(password []byte) (dataKey [cryptoprim.KeySize]byte, err error) {
	if _, statErr := os.Stat(s.path); statErr == nil {
		return dataKey, ErrAlreadyInitialized
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return dataKey, fmt.Errorf("credstore: checking %s: %w", s.path, statErr)
	}

	key, err := randomDataKey()
	if err != nil {
		return dataKey, err
	}

	if err := s.persist(password, key); err != nil {
		return dataKey, err
	}

	return key, nil
}

// Load unwraps the data key using password. Fails with ErrNotInitialized if
// no keyfile exists, ErrCorrupt if it cannot be parsed, or ErrBadPassword
// if the wrapping key fails to authenticate the stored ciphertext.
func (s *Store) Load(password []byte) (dataKey [cryptoprim.KeySize]byte, err error) {
	rec, err := s.read()
	if err != nil {
		return dataKey, err
	}

	if cached, ok := s.vault.Get(rec.KeyID); ok {
		return cached, nil
	}

	salt, err := decodeFixed(rec.Salt, cryptoprim.SaltSize)
	if err != nil {
		return dataKey, fmt.Errorf("%w: salt: %v", ErrCorrupt, err)
	}

	wrapped, err := base64.StdEncoding.DecodeString(rec.WrappedKey)
	if err != nil {
		return dataKey, fmt.Errorf("%w: wrapped_key: %v", ErrBadBase64, err)
	}

	wrapKey, err := cryptoprim.DeriveKey(password, salt[:])
	if err != nil {
		return dataKey, err
	}

	plain, err := cryptoprim.Decrypt(wrapped, wrapKey)
	if err != nil {
		return dataKey, fmt.Errorf("%w", ErrBadPassword)
	}

	if len(plain) != cryptoprim.KeySize {
		return dataKey, fmt.Errorf("%w: unwrapped key is %d bytes, want %d", ErrBadKeyFormat, len(plain), cryptoprim.KeySize)
	}

	copy(dataKey[:], plain)

	// Best-effort cache; failure is never fatal (spec §4.3).
	_ = s.vault.Set(rec.KeyID, dataKey)

	return dataKey, nil
}

// Export returns the raw data key as base64, for manual transfer to another
// machine (spec §4.3).
func (s *Store) Export(password []byte) (string, error) {
	key, err := s.Load(password)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// Import replaces the data key with an externally supplied one, re-wrapping
// under a fresh salt derived from password. It always generates a new
// key_id (spec §9 Open Question 1: the password argument is what derives
// the new wrapping key — an old master key is never reused).
func (s *Store) Import(password []byte, exportedBase64 string) (dataKey [cryptoprim.KeySize]byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(exportedBase64)
	if err != nil {
		return dataKey, fmt.Errorf("%w: %v", ErrBadBase64, err)
	}

	if len(raw) != cryptoprim.KeySize {
		return dataKey, fmt.Errorf("%w: imported key is %d bytes, want %d", ErrBadKeyFormat, len(raw), cryptoprim.KeySize)
	}

	copy(dataKey[:], raw)

	if err := s.persist(password, dataKey); err != nil {
		return dataKey, err
	}

	return dataKey, nil
}

func (s *Store) persist(password []byte, key [cryptoprim.KeySize]byte) error {
	salt, err := cryptoprim.GenerateSalt()
	if err != nil {
		return err
	}

	wrapKey, err := cryptoprim.DeriveKey(password, salt[:])
	if err != nil {
		return err
	}

	wrapped, err := cryptoprim.Encrypt(key[:], wrapKey)
	if err != nil {
		return fmt.Errorf("credstore: wrapping key: %w", err)
	}

	rec := record{
		Salt:       base64.StdEncoding.EncodeToString(salt[:]),
		WrappedKey: base64.StdEncoding.EncodeToString(wrapped),
		KeyID:      uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
	}

	return atomicWriteJSON(s.path, &rec)
}

func (s *Store) read() (*record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotInitialized
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading %s: %w", s.path, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return &rec, nil
}

func randomDataKey() ([cryptoprim.KeySize]byte, error) {
	var key [cryptoprim.KeySize]byte

	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("credstore: generating data key: %w", err)
	}

	return key, nil
}

func decodeFixed(s string, n int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}

	return b, nil
}

// atomicWriteJSON marshals v and writes it to path via a temp file in the
// same directory followed by fsync + rename, so a crash mid-write never
// leaves a torn keyfile (adapted from internal/tokenfile.Save).
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".keyfile-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
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
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credstore: renaming: %w", err)
	}

	success = true

	return nil
}
