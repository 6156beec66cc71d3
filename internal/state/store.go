// Package state implements the crash-safe local state store (spec §4.4): a
// persistent view over four logical tables — file records, upload progress
// records, the change cursor, and registration data — backed by WAL-mode
// SQLite. Grounded in the teacher's internal/sync/state.go (SQLiteStore,
// prepared statement groups, PRAGMA configuration) and its migration runner
// in internal/sync/migrations.go, adapted from OneDrive's item/drive schema
// to the path-keyed file-record schema this specification defines.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registers as "sqlite"
)

// walJournalSizeLimit bounds the WAL file so it does not grow unbounded
// between checkpoints (spec §4.4 "Single-writer durability").
const walJournalSizeLimit = 67108864 // 64 MiB

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("state: not found")

// FileRecord mirrors spec §3 "File record (keyed by P)".
type FileRecord struct {
	Path          string
	Size          int64
	ContentHash   string
	ServerVersion int64
	LocalMtime    time.Time
	LocalSize     int64
	ChunkHashes   []string
	IsDeleted     bool
	UpdatedAt     time.Time
}

// UploadProgress mirrors spec §3 "Upload progress record (keyed by P)".
// Invariant enforced by callers: UploadedHashes ⊆ ChunkHashes.
type UploadProgress struct {
	Path           string
	ChunkHashes    []string
	UploadedHashes []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Registration mirrors spec §3 "registration data (server URL, auth token,
// machine name)" — kept in the state store in addition to config.json so a
// single snapshot transaction can read sync state alongside the credentials
// needed to act on it (see DESIGN.md open-question resolution).
type Registration struct {
	ServerURL   string
	AuthToken   string
	MachineName string
	UpdatedAt   time.Time
}

// Store is the crash-safe local state store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at dbPath, sets WAL
// mode and related pragmas, and applies pending migrations. Use ":memory:"
// for tests — note in-memory databases do not share WAL semantics across
// connections, so tests should keep MaxOpenConns at 1 (set below).
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: opening %s: %w", dbPath, err)
	}

	// A single writer serializes all mutation, matching spec §4.4's
	// "single-writer durability" without needing an app-level mutex.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("state: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- File records ---

// UpsertFileRecord inserts or replaces the file record at rec.Path.
func (s *Store) UpsertFileRecord(ctx context.Context, rec *FileRecord) error {
	chunks, err := json.Marshal(rec.ChunkHashes)
	if err != nil {
		return fmt.Errorf("state: encoding chunk_hashes: %w", err)
	}

	const q = `
		INSERT INTO file_records
			(path, size, content_hash, server_version, local_mtime, local_size, chunk_hashes, is_deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size           = excluded.size,
			content_hash   = excluded.content_hash,
			server_version = excluded.server_version,
			local_mtime    = excluded.local_mtime,
			local_size     = excluded.local_size,
			chunk_hashes   = excluded.chunk_hashes,
			is_deleted     = excluded.is_deleted,
			updated_at     = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		rec.Path, rec.Size, rec.ContentHash, rec.ServerVersion,
		rec.LocalMtime.UnixNano(), rec.LocalSize, string(chunks), boolToInt(rec.IsDeleted),
		rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("state: upserting file record %s: %w", rec.Path, err)
	}

	return nil
}

// GetFileRecord returns the file record at path, or ErrNotFound.
func (s *Store) GetFileRecord(ctx context.Context, path string) (*FileRecord, error) {
	const q = `
		SELECT path, size, content_hash, server_version, local_mtime, local_size, chunk_hashes, is_deleted, updated_at
		FROM file_records WHERE path = ?`

	row := s.db.QueryRowContext(ctx, q, path)

	return scanFileRecord(row)
}

// DeleteFileRecord removes the file record at path entirely (a hard delete,
// used once a delete transfer, local- or remote-originated, has succeeded).
func (s *Store) DeleteFileRecord(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM file_records WHERE path = ?`, path); err != nil {
		return fmt.Errorf("state: deleting file record %s: %w", path, err)
	}

	return nil
}

// ListFileRecords returns every non-deleted file record, ordered by path for
// deterministic iteration (used by full reconciliation scans).
func (s *Store) ListFileRecords(ctx context.Context) ([]*FileRecord, error) {
	const q = `
		SELECT path, size, content_hash, server_version, local_mtime, local_size, chunk_hashes, is_deleted, updated_at
		FROM file_records WHERE is_deleted = 0 ORDER BY path`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("state: listing file records: %w", err)
	}
	defer rows.Close()

	var out []*FileRecord

	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileRecord(row rowScanner) (*FileRecord, error) {
	var (
		rec                   FileRecord
		localMtime, updatedAt int64
		chunksJSON            string
		isDeleted             int
	)

	err := row.Scan(&rec.Path, &rec.Size, &rec.ContentHash, &rec.ServerVersion,
		&localMtime, &rec.LocalSize, &chunksJSON, &isDeleted, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("state: scanning file record: %w", err)
	}

	if err := json.Unmarshal([]byte(chunksJSON), &rec.ChunkHashes); err != nil {
		return nil, fmt.Errorf("state: decoding chunk_hashes: %w", err)
	}

	rec.LocalMtime = time.Unix(0, localMtime).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	rec.IsDeleted = isDeleted != 0

	return &rec, nil
}

// --- Upload progress ---

// SaveUploadProgress creates or updates the upload progress record at p.Path
// (spec §3 "created when an upload begins, mutated as chunks are acknowledged").
func (s *Store) SaveUploadProgress(ctx context.Context, p *UploadProgress) error {
	chunks, err := json.Marshal(p.ChunkHashes)
	if err != nil {
		return fmt.Errorf("state: encoding chunk_hashes: %w", err)
	}

	uploaded, err := json.Marshal(p.UploadedHashes)
	if err != nil {
		return fmt.Errorf("state: encoding uploaded_hashes: %w", err)
	}

	const q = `
		INSERT INTO upload_progress (path, chunk_hashes, uploaded_hashes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			chunk_hashes    = excluded.chunk_hashes,
			uploaded_hashes = excluded.uploaded_hashes,
			updated_at      = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q, p.Path, string(chunks), string(uploaded),
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("state: saving upload progress %s: %w", p.Path, err)
	}

	return nil
}

// GetUploadProgress returns the upload progress record at path, or ErrNotFound.
func (s *Store) GetUploadProgress(ctx context.Context, path string) (*UploadProgress, error) {
	const q = `
		SELECT path, chunk_hashes, uploaded_hashes, created_at, updated_at
		FROM upload_progress WHERE path = ?`

	var (
		p                    UploadProgress
		chunksJSON, upJSON   string
		createdAt, updatedAt int64
	)

	err := s.db.QueryRowContext(ctx, q, path).Scan(&p.Path, &chunksJSON, &upJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("state: getting upload progress %s: %w", path, err)
	}

	if err := json.Unmarshal([]byte(chunksJSON), &p.ChunkHashes); err != nil {
		return nil, fmt.Errorf("state: decoding chunk_hashes: %w", err)
	}

	if err := json.Unmarshal([]byte(upJSON), &p.UploadedHashes); err != nil {
		return nil, fmt.Errorf("state: decoding uploaded_hashes: %w", err)
	}

	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return &p, nil
}

// DeleteUploadProgress destroys the upload progress record at path, on
// success or on detection that the plan no longer matches the current file
// (spec §3 "destroyed on success or on detection that the plan no longer
// matches the current file").
func (s *Store) DeleteUploadProgress(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM upload_progress WHERE path = ?`, path); err != nil {
		return fmt.Errorf("state: deleting upload progress %s: %w", path, err)
	}

	return nil
}

// --- Change cursor ---

// GetChangeCursor returns the current change cursor, or ErrNotFound if sync
// has never completed successfully (spec §3 "created on first successful sync").
func (s *Store) GetChangeCursor(ctx context.Context) (string, error) {
	var cursor string

	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM change_cursor WHERE id = 1`).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("state: getting change cursor: %w", err)
	}

	return cursor, nil
}

// SaveChangeCursor updates the singleton change cursor row (spec §3
// "updated after each fully processed batch").
func (s *Store) SaveChangeCursor(ctx context.Context, cursor string, now time.Time) error {
	const q = `
		INSERT INTO change_cursor (id, cursor, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, cursor, now.UnixNano()); err != nil {
		return fmt.Errorf("state: saving change cursor: %w", err)
	}

	return nil
}

// --- Registration ---

// GetRegistration returns the stored registration data, or ErrNotFound.
func (s *Store) GetRegistration(ctx context.Context) (*Registration, error) {
	const q = `SELECT server_url, auth_token, machine_name, updated_at FROM registration WHERE id = 1`

	var (
		reg       Registration
		updatedAt int64
	)

	err := s.db.QueryRowContext(ctx, q).Scan(&reg.ServerURL, &reg.AuthToken, &reg.MachineName, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("state: getting registration: %w", err)
	}

	reg.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return &reg, nil
}

// SaveRegistration writes the singleton registration row, mirroring
// config.json so a snapshot transaction can read it alongside sync state
// (see DESIGN.md).
func (s *Store) SaveRegistration(ctx context.Context, reg *Registration) error {
	const q = `
		INSERT INTO registration (id, server_url, auth_token, machine_name, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			server_url   = excluded.server_url,
			auth_token   = excluded.auth_token,
			machine_name = excluded.machine_name,
			updated_at   = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q, reg.ServerURL, reg.AuthToken, reg.MachineName, reg.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("state: saving registration: %w", err)
	}

	return nil
}

// Snapshot runs fn inside a read-only transaction, giving the coordinator's
// decision step a consistent view across tables with no torn reads (spec
// §4.4 "Readers observe a consistent snapshot").
func (s *Store) Snapshot(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("state: beginning snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after read-only commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
