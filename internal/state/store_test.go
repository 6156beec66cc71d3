package state_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/engine/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *state.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state.db")

	s, err := state.Open(context.Background(), path, discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestFileRecordRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &state.FileRecord{
		Path:          "docs/report.pdf",
		Size:          4096,
		ContentHash:   "abc123",
		ServerVersion: 1,
		LocalMtime:    time.Unix(1700000000, 0).UTC(),
		LocalSize:     4096,
		ChunkHashes:   []string{"h1", "h2"},
		UpdatedAt:     time.Unix(1700000001, 0).UTC(),
	}

	require.NoError(t, s.UpsertFileRecord(ctx, rec))

	got, err := s.GetFileRecord(ctx, "docs/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, rec.Path, got.Path)
	assert.Equal(t, rec.ContentHash, got.ContentHash)
	assert.Equal(t, rec.ChunkHashes, got.ChunkHashes)
	assert.True(t, rec.LocalMtime.Equal(got.LocalMtime))
}

func TestGetFileRecordNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetFileRecord(context.Background(), "missing")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestUpsertFileRecordReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &state.FileRecord{Path: "a.txt", ContentHash: "v1", UpdatedAt: time.Now()}
	require.NoError(t, s.UpsertFileRecord(ctx, rec))

	rec.ContentHash = "v2"
	require.NoError(t, s.UpsertFileRecord(ctx, rec))

	got, err := s.GetFileRecord(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ContentHash)
}

func TestDeleteFileRecord(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFileRecord(ctx, &state.FileRecord{Path: "gone.txt", UpdatedAt: time.Now()}))
	require.NoError(t, s.DeleteFileRecord(ctx, "gone.txt"))

	_, err := s.GetFileRecord(ctx, "gone.txt")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestListFileRecordsExcludesDeleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFileRecord(ctx, &state.FileRecord{Path: "b.txt", UpdatedAt: time.Now()}))
	require.NoError(t, s.UpsertFileRecord(ctx, &state.FileRecord{Path: "a.txt", UpdatedAt: time.Now()}))
	require.NoError(t, s.UpsertFileRecord(ctx, &state.FileRecord{Path: "c.txt", IsDeleted: true, UpdatedAt: time.Now()}))

	recs, err := s.ListFileRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a.txt", recs[0].Path)
	assert.Equal(t, "b.txt", recs[1].Path)
}

func TestUploadProgressRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	p := &state.UploadProgress{
		Path:           "big.bin",
		ChunkHashes:    []string{"h1", "h2", "h3"},
		UploadedHashes: []string{"h1"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	require.NoError(t, s.SaveUploadProgress(ctx, p))

	got, err := s.GetUploadProgress(ctx, "big.bin")
	require.NoError(t, err)
	assert.Equal(t, p.ChunkHashes, got.ChunkHashes)
	assert.Equal(t, p.UploadedHashes, got.UploadedHashes)

	require.NoError(t, s.DeleteUploadProgress(ctx, "big.bin"))

	_, err = s.GetUploadProgress(ctx, "big.bin")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestChangeCursorRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetChangeCursor(ctx)
	require.ErrorIs(t, err, state.ErrNotFound)

	require.NoError(t, s.SaveChangeCursor(ctx, "cursor-1", time.Now()))

	got, err := s.GetChangeCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cursor-1", got)

	require.NoError(t, s.SaveChangeCursor(ctx, "cursor-2", time.Now()))

	got, err = s.GetChangeCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cursor-2", got)
}

func TestRegistrationRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	reg := &state.Registration{
		ServerURL:   "https://relay.example.com",
		AuthToken:   "tok",
		MachineName: "laptop",
		UpdatedAt:   time.Now().UTC(),
	}

	require.NoError(t, s.SaveRegistration(ctx, reg))

	got, err := s.GetRegistration(ctx)
	require.NoError(t, err)
	assert.Equal(t, reg.ServerURL, got.ServerURL)
	assert.Equal(t, reg.AuthToken, got.AuthToken)
}

func TestSnapshotSeesConsistentState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFileRecord(ctx, &state.FileRecord{Path: "x.txt", UpdatedAt: time.Now()}))
	require.NoError(t, s.SaveChangeCursor(ctx, "cur", time.Now()))

	err := s.Snapshot(ctx, func(tx *sql.Tx) error {
		var count int
		return tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM file_records").Scan(&count)
	})
	require.NoError(t, err)
}
