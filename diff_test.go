package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syncagent/engine/internal/eventqueue"
	"github.com/syncagent/engine/internal/ignore"
	"github.com/syncagent/engine/internal/remote"
	"github.com/syncagent/engine/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRig builds a rig with a real state store and a fake HTTP server
// standing in for the relay, enough to exercise seedOneShotEvents without
// the rest of buildRig's key-unlocking machinery.
func newTestRig(t *testing.T, remoteFiles []remote.FileRecord) (*rig, string) {
	t.Helper()

	ctx := context.Background()
	logger := discardLogger()

	syncRoot := t.TempDir()

	matcher, err := ignore.New(syncRoot)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(remoteFiles)
	}))
	t.Cleanup(srv.Close)

	store, err := state.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := remote.NewClient(srv.URL, "test-token", nil, logger)

	return &rig{
		store:  store,
		client: client,
		ignore: matcher,
		queue:  eventqueue.New(),
	}, syncRoot
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()

	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestSeedOneShotEvents_NewLocalFileBecomesLocalCreated(t *testing.T) {
	r, syncRoot := newTestRig(t, nil)

	writeFile(t, syncRoot, "notes.txt", "hello")

	seeded, err := seedOneShotEvents(context.Background(), r, syncRoot)
	require.NoError(t, err)
	require.Equal(t, 1, seeded)
	require.Equal(t, 1, r.queue.Len())

	ev, err := r.queue.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, eventqueue.LocalCreated, ev.Type)
	require.Equal(t, "notes.txt", ev.Path)
}

func TestSeedOneShotEvents_UnchangedTrackedFileProducesNoEvent(t *testing.T) {
	r, syncRoot := newTestRig(t, nil)

	writeFile(t, syncRoot, "notes.txt", "hello")

	info, err := os.Stat(filepath.Join(syncRoot, "notes.txt"))
	require.NoError(t, err)

	require.NoError(t, r.store.UpsertFileRecord(context.Background(), &state.FileRecord{
		Path:      "notes.txt",
		Size:      info.Size(),
		UpdatedAt: info.ModTime().Add(time.Hour), // known record is newer than the file's mtime
	}))

	seeded, err := seedOneShotEvents(context.Background(), r, syncRoot)
	require.NoError(t, err)
	require.Equal(t, 0, seeded)
	require.Equal(t, 0, r.queue.Len())
}

func TestSeedOneShotEvents_DeletedLocalFileProducesLocalDeleted(t *testing.T) {
	r, syncRoot := newTestRig(t, nil)

	require.NoError(t, r.store.UpsertFileRecord(context.Background(), &state.FileRecord{
		Path:      "gone.txt",
		UpdatedAt: time.Now(),
	}))

	seeded, err := seedOneShotEvents(context.Background(), r, syncRoot)
	require.NoError(t, err)
	require.Equal(t, 1, seeded)

	ev, err := r.queue.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, eventqueue.LocalDeleted, ev.Type)
	require.Equal(t, "gone.txt", ev.Path)
}

func TestSeedOneShotEvents_NewRemoteFileBecomesRemoteCreated(t *testing.T) {
	r, syncRoot := newTestRig(t, []remote.FileRecord{
		{Path: "shared.txt", ServerVersion: 1},
	})

	seeded, err := seedOneShotEvents(context.Background(), r, syncRoot)
	require.NoError(t, err)
	require.Equal(t, 1, seeded)

	ev, err := r.queue.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, eventqueue.RemoteCreated, ev.Type)
	require.Equal(t, "shared.txt", ev.Path)
}

func TestSeedOneShotEvents_NewerServerVersionBecomesRemoteModified(t *testing.T) {
	r, syncRoot := newTestRig(t, []remote.FileRecord{
		{Path: "shared.txt", ServerVersion: 3},
	})

	writeFile(t, syncRoot, "shared.txt", "old contents")

	info, err := os.Stat(filepath.Join(syncRoot, "shared.txt"))
	require.NoError(t, err)

	// Local side matches the known record exactly, so only the server
	// version bump should produce an event.
	require.NoError(t, r.store.UpsertFileRecord(context.Background(), &state.FileRecord{
		Path:          "shared.txt",
		Size:          info.Size(),
		ServerVersion: 2,
		UpdatedAt:     info.ModTime().Add(time.Hour),
	}))

	seeded, err := seedOneShotEvents(context.Background(), r, syncRoot)
	require.NoError(t, err)
	require.Equal(t, 1, seeded)

	ev, err := r.queue.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, eventqueue.RemoteModified, ev.Type)
}

func TestSeedOneShotEvents_RemovedFromServerBecomesRemoteDeleted(t *testing.T) {
	r, syncRoot := newTestRig(t, nil)

	writeFile(t, syncRoot, "was-remote.txt", "still here locally")

	info, err := os.Stat(filepath.Join(syncRoot, "was-remote.txt"))
	require.NoError(t, err)

	// Local side matches the known record exactly; the server simply no
	// longer lists the file, which alone should produce RemoteDeleted.
	require.NoError(t, r.store.UpsertFileRecord(context.Background(), &state.FileRecord{
		Path:          "was-remote.txt",
		Size:          info.Size(),
		ServerVersion: 5,
		UpdatedAt:     info.ModTime().Add(time.Hour),
	}))

	seeded, err := seedOneShotEvents(context.Background(), r, syncRoot)
	require.NoError(t, err)
	require.Equal(t, 1, seeded)

	ev, err := r.queue.Pop(context.Background())
	require.NoError(t, err)
	require.Equal(t, eventqueue.RemoteDeleted, ev.Type)
	require.Equal(t, "was-remote.txt", ev.Path)
}

func TestScanLocalFiles_SkipsIgnoredDirectories(t *testing.T) {
	syncRoot := t.TempDir()

	writeFile(t, syncRoot, "keep.txt", "a")
	writeFile(t, syncRoot, ".git/HEAD", "ref: refs/heads/main")
	writeFile(t, syncRoot, "build.tmp", "scratch")

	matcher, err := ignore.New(syncRoot)
	require.NoError(t, err)

	files, err := scanLocalFiles(syncRoot, matcher)
	require.NoError(t, err)

	require.Contains(t, files, "keep.txt")
	require.NotContains(t, files, ".git/HEAD")
	require.NotContains(t, files, "build.tmp")
}
