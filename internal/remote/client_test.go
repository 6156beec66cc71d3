package remote_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/engine/internal/errtypes"
	"github.com/syncagent/engine/internal/remote"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*remote.Client, func()) {
	t.Helper()

	srv := httptest.NewServer(handler)
	client := remote.NewClient(srv.URL, "test-token", nil, nil)

	return client, srv.Close
}

func TestRegisterSuccess(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/machines/register", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "laptop", body["name"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(remote.RegisterResult{
			Token:   "issued-token",
			Machine: remote.MachineInfo{ID: 1, Name: "laptop", Platform: "linux"},
		})
	})
	defer closeFn()

	result, err := client.Register(t.Context(), "laptop", "linux", "invite-123")
	require.NoError(t, err)
	assert.Equal(t, "issued-token", result.Token)
	assert.Equal(t, "laptop", result.Machine.Name)
}

func TestRegisterNameTakenReturnsConflict(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("name taken"))
	})
	defer closeFn()

	_, err := client.Register(t.Context(), "laptop", "linux", "invite")
	require.Error(t, err)
	assert.Equal(t, errtypes.KindConflict, errtypes.Classify(err))
}

func TestGetFileNotFound(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotFound)
	})
	defer closeFn()

	_, err := client.GetFile(t.Context(), "a/b.txt")
	require.Error(t, err)
	assert.Equal(t, errtypes.KindNotFound, errtypes.Classify(err))
}

func TestUpdateFileConflict(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"current_version":4}`))
	})
	defer closeFn()

	_, err := client.UpdateFile(t.Context(), "doc.txt", remote.UpdateFileRequest{ParentVersion: 3})
	require.Error(t, err)
	assert.Equal(t, errtypes.KindConflict, errtypes.Classify(err))

	var syncErr *errtypes.SyncError
	require.ErrorAs(t, err, &syncErr)
	require.NotNil(t, syncErr.CurrentVersion)
	assert.Equal(t, int64(4), *syncErr.CurrentVersion)
}

func TestDeleteFileTreatsNotFoundAsSuccess(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer closeFn()

	err := client.DeleteFile(t.Context(), "gone.txt")
	assert.NoError(t, err)
}

func TestHasChunkPresentAndAbsent(t *testing.T) {
	present := true

	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)

		if present {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	})
	defer closeFn()

	ok, err := client.HasChunk(t.Context(), "hash1")
	require.NoError(t, err)
	assert.True(t, ok)

	present = false

	ok, err = client.HasChunk(t.Context(), "hash2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutAndGetChunkRoundtrip(t *testing.T) {
	var stored []byte

	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			stored = body
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			_, _ = w.Write(stored)
		}
	})
	defer closeFn()

	require.NoError(t, client.PutChunk(t.Context(), "hash1", []byte("ciphertext")))

	got, err := client.GetChunk(t.Context(), "hash1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), got)
}

func TestHealthSuccess(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	defer closeFn()

	require.NoError(t, client.Health(t.Context()))
}

func TestHealthFailureIsConnectivity(t *testing.T) {
	client := remote.NewClient("http://127.0.0.1:1", "tok", nil, nil)

	err := client.Health(t.Context())
	require.Error(t, err)
	assert.Equal(t, errtypes.KindConnectivity, errtypes.Classify(err))
}

func TestGetChangesReturnsCursorFields(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-01-01T00:00:00Z", r.URL.Query().Get("since"))
		_ = json.NewEncoder(w).Encode(remote.ChangesResult{
			Changes:         []remote.ChangeEntry{{Action: "CREATED", Path: "a.txt", Timestamp: "t1"}},
			HasMore:         false,
			LatestTimestamp: "t1",
		})
	})
	defer closeFn()

	result, err := client.GetChanges(t.Context(), "2026-01-01T00:00:00Z", 100)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, "a.txt", result.Changes[0].Path)
	assert.Equal(t, "t1", result.LatestTimestamp)
}
