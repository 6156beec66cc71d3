package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncagent/engine/internal/eventqueue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	idx      int
	closed   bool
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.idx >= len(f.messages) {
		<-ctx.Done()
		return 0, nil, ctx.Err()
	}

	msg := f.messages[f.idx]
	f.idx++

	return websocket.MessageText, msg, nil
}

func (f *fakeConn) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

type fakeChangesFetcher struct {
	result *ChangesResult
	err    error
	since  string
}

func (f *fakeChangesFetcher) GetChanges(ctx context.Context, since string, limit int) (*ChangesResult, error) {
	f.since = since
	return f.result, f.err
}

type fakeCursorStore struct {
	mu     sync.Mutex
	cursor string
	hasErr bool
}

func (f *fakeCursorStore) GetChangeCursor(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.hasErr {
		return "", errCursorNotFound
	}

	return f.cursor, nil
}

func (f *fakeCursorStore) SaveChangeCursor(ctx context.Context, cursor string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cursor = cursor

	return nil
}

var errCursorNotFound = errors.New("cursor not found")

func TestHandleMessageEmitsKnownActions(t *testing.T) {
	l := NewListener(DefaultListenerConfig("ws://example"), &fakeChangesFetcher{}, &fakeCursorStore{}, discardLogger())

	var emitted []eventqueue.SyncEvent
	emit := func(e eventqueue.SyncEvent) { emitted = append(emitted, e) }

	l.handleMessage([]byte(`{"type":"file_change","action":"CREATED","path":"a.txt"}`), emit)
	l.handleMessage([]byte(`{"type":"file_change","action":"UPDATED","path":"b.txt"}`), emit)
	l.handleMessage([]byte(`{"type":"file_change","action":"DELETED","path":"c.txt"}`), emit)

	require.Len(t, emitted, 3)
	assert.Equal(t, eventqueue.RemoteCreated, emitted[0].Type)
	assert.Equal(t, eventqueue.RemoteModified, emitted[1].Type)
	assert.Equal(t, eventqueue.RemoteDeleted, emitted[2].Type)
}

func TestHandleMessageIgnoresUnknownType(t *testing.T) {
	l := NewListener(DefaultListenerConfig("ws://example"), &fakeChangesFetcher{}, &fakeCursorStore{}, discardLogger())

	var emitted []eventqueue.SyncEvent
	l.handleMessage([]byte(`{"type":"heartbeat"}`), func(e eventqueue.SyncEvent) { emitted = append(emitted, e) })

	assert.Empty(t, emitted)
}

func TestHandleMessageLogsInvalidJSON(t *testing.T) {
	l := NewListener(DefaultListenerConfig("ws://example"), &fakeChangesFetcher{}, &fakeCursorStore{}, discardLogger())

	var emitted []eventqueue.SyncEvent
	l.handleMessage([]byte(`not json`), func(e eventqueue.SyncEvent) { emitted = append(emitted, e) })

	assert.Empty(t, emitted)
}

func TestFetchMissedChangesUpdatesCursor(t *testing.T) {
	fetcher := &fakeChangesFetcher{
		result: &ChangesResult{
			Changes:         []ChangeEntry{{Action: "CREATED", Path: "x.txt"}},
			HasMore:         false,
			LatestTimestamp: "t2",
		},
	}
	cursors := &fakeCursorStore{cursor: "t1"}

	l := NewListener(DefaultListenerConfig("ws://example"), fetcher, cursors, discardLogger())

	var emitted []eventqueue.SyncEvent
	err := l.fetchMissedChanges(context.Background(), func(e eventqueue.SyncEvent) { emitted = append(emitted, e) })

	require.NoError(t, err)
	require.Len(t, emitted, 1)
	assert.Equal(t, "t1", fetcher.since)
	assert.Equal(t, "t2", cursors.cursor)
}

func TestListenEmitsMessagesAndStopsOnQuietTimeout(t *testing.T) {
	conn := &fakeConn{
		messages: [][]byte{
			[]byte(`{"type":"file_change","action":"CREATED","path":"a.txt"}`),
		},
	}

	cfg := DefaultListenerConfig("ws://example")
	cfg.MessageQuietLimit = 20 * time.Millisecond

	l := NewListener(cfg, &fakeChangesFetcher{}, &fakeCursorStore{}, discardLogger())

	var emitted []eventqueue.SyncEvent
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	l.listen(ctx, conn, func(e eventqueue.SyncEvent) { emitted = append(emitted, e) })

	require.Len(t, emitted, 1)
	assert.Equal(t, "a.txt", emitted[0].Path)
}
