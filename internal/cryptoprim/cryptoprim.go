// Package cryptoprim implements the engine's cryptographic primitives:
// password-based key derivation, authenticated chunk encryption, and
// content hashing. The server never sees any of the key material computed
// here — everything in this package runs client-side only.
package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Sizes fixed by the wire format (spec §3, §6).
const (
	KeySize   = 32 // 256-bit data key
	SaltSize  = 16
	NonceSize = 12
	TagSize   = 16
	HashSize  = 32 // 256-bit content hash
)

// Argon2id parameters (OWASP-recommended baseline), matching the teacher's
// domain sibling in the pack (sambhavthakkar-QuantaraX/backend/internal/crypto).
const (
	kdfTime      = 3
	kdfMemoryKiB = 64 * 1024 // 64 MiB
	kdfThreads   = 4
)

// ErrBadKeyOrTampered is returned when decryption's authentication tag fails
// to verify — either the key is wrong or the ciphertext was tampered with.
var ErrBadKeyOrTampered = errors.New("cryptoprim: bad key or tampered ciphertext")

// ErrKdfUnavailable is returned when the KDF parameters cannot be honored by
// the current environment (e.g. a caller supplied a malformed salt length).
var ErrKdfUnavailable = errors.New("cryptoprim: kdf parameters unavailable")

// DeriveKey derives a 32-byte key from password and a 16-byte salt using
// Argon2id with (time=3, memory=64MiB, parallelism=4), per spec §4.1/§6.
func DeriveKey(password []byte, salt []byte) ([KeySize]byte, error) {
	var key [KeySize]byte

	if len(salt) != SaltSize {
		return key, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrKdfUnavailable, SaltSize, len(salt))
	}

	raw := argon2.IDKey(password, salt, kdfTime, kdfMemoryKiB, kdfThreads, KeySize)
	copy(key[:], raw)

	return key, nil
}

// GenerateSalt returns a fresh cryptographically random 16-byte salt.
func GenerateSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return salt, fmt.Errorf("cryptoprim: generating salt: %w", err)
	}

	return salt, nil
}

// Encrypt seals plaintext under key with a fresh random nonce using
// AES-256-GCM, returning nonce‖ciphertext‖tag (spec §3 "Encrypted chunk").
func Encrypt(plaintext []byte, key [KeySize]byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoprim: generating nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+TagSize)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)

	return out, nil
}

// Decrypt verifies and opens a nonce‖ciphertext‖tag blob produced by
// Encrypt. Returns ErrBadKeyOrTampered if the tag does not verify.
func Decrypt(blob []byte, key [KeySize]byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrBadKeyOrTampered, len(blob))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := blob[:NonceSize]
	ciphertext := blob[NonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyOrTampered, err)
	}

	return plaintext, nil
}

func newGCM(key [KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: creating GCM: %w", err)
	}

	return gcm, nil
}

// Hash returns the 256-bit SHA-256 content hash of data.
func Hash(data []byte) [HashSize]byte {
	return sha256.Sum256(data)
}

// HashHex returns the hex-encoded (64-char) content hash of data.
func HashHex(data []byte) string {
	h := Hash(data)
	return fmt.Sprintf("%x", h)
}

// HashReader streams a reader through SHA-256 without buffering the whole
// input in memory, for full-file content_hash computation.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("cryptoprim: hashing stream: %w", err)
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
