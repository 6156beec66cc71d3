// Package remote implements the client side of the wire protocol (spec §6):
// a bearer-token REST client for the relay server's file/chunk/change
// endpoints, and a persistent push-channel Listener. Grounded in the
// teacher's internal/graph/client.go request-construction and error-
// classification shape, adapted from OAuth2 TokenSource + Graph-specific
// GraphError to a static bearer token and the internal/errtypes taxonomy.
// Unlike the teacher, Client performs a single attempt per call and
// returns a classified error; retry policy belongs to the caller (spec
// §4.11 "callers pick the mode"), not the client.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/syncagent/engine/internal/errtypes"
)

const userAgent = "syncengine/0.1"

// Client is a bearer-token HTTP client for the relay server's REST surface.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Client. baseURL is the server's base URL with no
// trailing slash (e.g. "https://relay.example.com"); authToken is the
// bearer token obtained at registration time.
func NewClient(baseURL, authToken string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		authToken:  authToken,
		httpClient: httpClient,
		logger:     logger,
	}
}

// WithAuthToken returns a shallow copy of c using a different bearer token,
// used after a successful Register call replaces the placeholder token.
func (c *Client) WithAuthToken(token string) *Client {
	clone := *c
	clone.authToken = token

	return &clone
}

// FileRecord mirrors the server's JSON file-record representation (spec §6
// GET /api/files, /api/files/{path}).
type FileRecord struct {
	Path          string   `json:"path"`
	Size          int64    `json:"size"`
	ContentHash   string   `json:"content_hash"`
	ServerVersion int64    `json:"server_version"`
	ChunkHashes   []string `json:"chunks,omitempty"`
}

// MachineInfo is the nested machine object returned by Register.
type MachineInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

// RegisterResult is the response body of POST /api/machines/register.
type RegisterResult struct {
	Token   string      `json:"token"`
	Machine MachineInfo `json:"machine"`
}

// ChangesResult is the response body of GET /api/changes.
type ChangesResult struct {
	Changes         []ChangeEntry `json:"changes"`
	HasMore         bool          `json:"has_more"`
	LatestTimestamp string        `json:"latest_timestamp"`
}

// ChangeEntry is one element of ChangesResult.Changes, matching the push
// message shape so the listener's reconnect-catchup path can reuse the same
// decoding (spec §4.7 "fetch... and emit them as remote events").
type ChangeEntry struct {
	Action    string `json:"action"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// Register exchanges an invitation token for a machine bearer token (spec §6
// POST /api/machines/register).
func (c *Client) Register(ctx context.Context, name, platform, invitationToken string) (*RegisterResult, error) {
	reqBody, err := json.Marshal(map[string]string{
		"name":             name,
		"platform":         platform,
		"invitation_token": invitationToken,
	})
	if err != nil {
		return nil, errtypes.Wrap(errtypes.KindValidation, "", err)
	}

	resp, err := c.doOnce(ctx, http.MethodPost, "/api/machines/register", bytes.NewReader(reqBody), false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result RegisterResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, "", err)
	}

	return &result, nil
}

// ListFiles fetches file records whose path starts with prefix (spec §6 GET
// /api/files?prefix=...).
func (c *Client) ListFiles(ctx context.Context, prefix string) ([]FileRecord, error) {
	path := "/api/files"
	if prefix != "" {
		path += "?prefix=" + url.QueryEscape(prefix)
	}

	resp, err := c.doOnce(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var records []FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, "", err)
	}

	return records, nil
}

// GetFile fetches the record for relPath (spec §6 GET /api/files/{path});
// returns a KindNotFound *errtypes.SyncError on 404.
func (c *Client) GetFile(ctx context.Context, relPath string) (*FileRecord, error) {
	resp, err := c.doOnce(ctx, http.MethodGet, "/api/files/"+encodePath(relPath), nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rec FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	return &rec, nil
}

// CreateFileRequest is the body of POST /api/files.
type CreateFileRequest struct {
	Path        string   `json:"path"`
	Size        int64    `json:"size"`
	ContentHash string   `json:"content_hash"`
	Chunks      []string `json:"chunks"`
}

// CreateFile commits new file metadata (spec §6 POST /api/files, §4.12
// "parent_version is None -> POST create metadata").
func (c *Client) CreateFile(ctx context.Context, req CreateFileRequest) (*FileRecord, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errtypes.Wrap(errtypes.KindValidation, req.Path, err)
	}

	resp, err := c.doOnce(ctx, http.MethodPost, "/api/files", bytes.NewReader(body), true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rec FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, req.Path, err)
	}

	return &rec, nil
}

// UpdateFileRequest is the body of PUT /api/files/{path}.
type UpdateFileRequest struct {
	Size          int64    `json:"size"`
	ContentHash   string   `json:"content_hash"`
	ParentVersion int64    `json:"parent_version"`
	Chunks        []string `json:"chunks"`
}

// UpdateFile commits an update against parentVersion (spec §6 PUT
// /api/files/{path}, §4.12 optimistic concurrency). On 409 it returns a
// *errtypes.SyncError with KindConflict; if the response body carried a
// current_version field, it is attached to the error's CurrentVersion field
// for the conflict resolver to inspect.
func (c *Client) UpdateFile(ctx context.Context, relPath string, req UpdateFileRequest) (*FileRecord, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errtypes.Wrap(errtypes.KindValidation, relPath, err)
	}

	resp, err := c.doOnce(ctx, http.MethodPut, "/api/files/"+encodePath(relPath), bytes.NewReader(body), true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rec FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	return &rec, nil
}

// DeleteFile removes the server-side metadata for relPath (spec §6 DELETE
// /api/files/{path}).
func (c *Client) DeleteFile(ctx context.Context, relPath string) error {
	resp, err := c.doOnce(ctx, http.MethodDelete, "/api/files/"+encodePath(relPath), nil, true)
	if err != nil {
		if errtypes.Classify(err) == errtypes.KindNotFound {
			return nil
		}

		return err
	}
	defer resp.Body.Close()

	return nil
}

// GetChunkHashes fetches the ordered chunk-hash list for relPath (spec §6
// GET /api/chunks/{path}).
func (c *Client) GetChunkHashes(ctx context.Context, relPath string) ([]string, error) {
	resp, err := c.doOnce(ctx, http.MethodGet, "/api/chunks/"+encodePath(relPath), nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var hashes []string
	if err := json.NewDecoder(resp.Body).Decode(&hashes); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	return hashes, nil
}

// HasChunk reports whether the server already stores the chunk identified
// by hash (spec §6 HEAD /api/storage/chunks/{hash}, §4.12 upload dedup).
func (c *Client) HasChunk(ctx context.Context, hash string) (bool, error) {
	resp, err := c.doOnce(ctx, http.MethodHead, "/api/storage/chunks/"+hash, nil, true)
	if err != nil {
		if errtypes.Classify(err) == errtypes.KindNotFound {
			return false, nil
		}

		return false, err
	}
	defer resp.Body.Close()

	return true, nil
}

// PutChunk uploads the raw encrypted chunk bytes (spec §6 PUT
// /api/storage/chunks/{hash}).
func (c *Client) PutChunk(ctx context.Context, hash string, ciphertext []byte) error {
	resp, err := c.doOnce(ctx, http.MethodPut, "/api/storage/chunks/"+hash, bytes.NewReader(ciphertext), true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// GetChunk downloads the raw encrypted chunk bytes identified by hash (spec
// §6 GET /api/storage/chunks/{hash}).
func (c *Client) GetChunk(ctx context.Context, hash string) ([]byte, error) {
	resp, err := c.doOnce(ctx, http.MethodGet, "/api/storage/chunks/"+hash, nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errtypes.Wrap(errtypes.KindConnectivity, hash, err)
	}

	return data, nil
}

// GetChanges fetches the change log since the given cursor (spec §6 GET
// /api/changes?since=...&limit=N).
func (c *Client) GetChanges(ctx context.Context, since string, limit int) (*ChangesResult, error) {
	path := fmt.Sprintf("/api/changes?since=%s&limit=%d", url.QueryEscape(since), limit)

	resp, err := c.doOnce(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result ChangesResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, "", err)
	}

	return &result, nil
}

// Health probes server liveness (spec §6 GET /health, §4.11 network-wait
// probe). Satisfies retry.HealthProbe.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doOnce(ctx, http.MethodGet, "/health", nil, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// doOnce performs a single HTTP round trip and classifies any failure per
// internal/errtypes. It never retries; retry policy is the caller's
// responsibility (spec §4.11).
func (c *Client) doOnce(ctx context.Context, method, path string, body io.Reader, authenticated bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errtypes.Wrap(errtypes.KindValidation, path, err)
	}

	req.Header.Set("User-Agent", userAgent)

	if authenticated {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errtypes.Wrap(errtypes.KindCancelled, path, ctx.Err())
		}

		c.logger.Debug("request failed", "method", method, "path", path, "error", err)

		return nil, errtypes.Wrap(errtypes.KindConnectivity, path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	errBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	kind := errtypes.ClassifyHTTPStatus(resp.StatusCode)

	c.logger.Warn("request failed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"kind", kind.String(),
	)

	syncErr := errtypes.Wrap(kind, path, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))

	if kind == errtypes.KindConflict {
		var conflictBody struct {
			CurrentVersion int64 `json:"current_version"`
		}

		if err := json.Unmarshal(errBody, &conflictBody); err == nil {
			syncErr = syncErr.WithCurrentVersion(conflictBody.CurrentVersion)
		}
	}

	return nil, syncErr
}

// encodePath escapes relPath for embedding as a URL path segment sequence,
// preserving '/' as the directory separator.
func encodePath(relPath string) string {
	parts := strings.Split(relPath, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}

	return strings.Join(parts, "/")
}
