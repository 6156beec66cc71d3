package transfer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/engine/internal/remote"
	"github.com/syncagent/engine/internal/transfer"
)

func TestDeleteLocalCallsServer(t *testing.T) {
	var deletedPath string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deletedPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	client := remote.NewClient(ts.URL, "test-token", nil, nil)

	err := transfer.DeleteLocal(context.Background(), client, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/api/files/docs/a.txt", deletedPath)
}

func TestDeleteRemoteRemovesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, transfer.DeleteRemote(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteRemoteMissingFileIsSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "absent.txt")

	assert.NoError(t, transfer.DeleteRemote(path))
}
