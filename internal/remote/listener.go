package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/syncagent/engine/internal/eventqueue"
)

// pushMessage is the JSON shape the server sends over the push channel
// (spec §4.7, §6 "Push channel"). Fields beyond type/action/path/timestamp
// are ignored.
type pushMessage struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// CursorStore persists and retrieves the change cursor, satisfied by
// *state.Store.
type CursorStore interface {
	GetChangeCursor(ctx context.Context) (string, error)
	SaveChangeCursor(ctx context.Context, cursor string, updatedAt time.Time) error
}

// ChangesFetcher fetches the change log since a cursor, satisfied by
// *Client.
type ChangesFetcher interface {
	GetChanges(ctx context.Context, since string, limit int) (*ChangesResult, error)
}

// ListenerConfig parametrizes Listener.
type ListenerConfig struct {
	WSURL string // ws(s)://.../ws/client/<token>

	ReconnectDelay    time.Duration // default 5s, spec §4.7
	OpenTimeout       time.Duration // default 10s, spec §5
	MessageQuietLimit time.Duration // default 30s, spec §5

	ChangesPageSize int
}

// DefaultListenerConfig returns the spec-mandated timeouts.
func DefaultListenerConfig(wsURL string) ListenerConfig {
	return ListenerConfig{
		WSURL:             wsURL,
		ReconnectDelay:    5 * time.Second,
		OpenTimeout:       10 * time.Second,
		MessageQuietLimit: 30 * time.Second,
		ChangesPageSize:   500,
	}
}

// Listener maintains the persistent push connection to the relay server
// (spec §4.7), grounded in the original implementation's
// RemoteChangeListener (connect, listen-with-quiet-timeout, reconnect with
// missed-changes catchup against the stored cursor).
type Listener struct {
	cfg      ListenerConfig
	changes  ChangesFetcher
	cursors  CursorStore
	logger   *slog.Logger
	dialFunc func(ctx context.Context, url string) (wsConn, error)
}

// wsConn abstracts the subset of *websocket.Conn the listener uses, so
// tests can inject a fake.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Close(code websocket.StatusCode, reason string) error
}

// NewListener builds a Listener. changes fetches the missed-changes delta on
// reconnect; cursors persists the change cursor across restarts.
func NewListener(cfg ListenerConfig, changes ChangesFetcher, cursors CursorStore, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Listener{cfg: cfg, changes: changes, cursors: cursors, logger: logger}
	l.dialFunc = func(ctx context.Context, url string) (wsConn, error) {
		conn, _, err := websocket.Dial(ctx, url, nil)
		return conn, err
	}

	return l
}

// Run blocks until ctx is canceled, maintaining the push connection and
// emitting remote SyncEvents to emit. Transport-level disconnects trigger
// the reconnect loop and are never returned; once ctx is canceled it
// returns nil.
func (l *Listener) Run(ctx context.Context, emit func(eventqueue.SyncEvent)) error {
	wasConnected := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := l.connect(ctx)
		if err != nil {
			l.logger.Warn("push connection failed", "error", err)
		} else {
			if wasConnected {
				l.logger.Info("reconnected, fetching missed changes")
			}

			if fetchErr := l.fetchMissedChanges(ctx, emit); fetchErr != nil {
				l.logger.Warn("failed to fetch missed changes", "error", fetchErr)
			}

			wasConnected = true

			l.listen(ctx, conn, emit)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}

		if ctx.Err() != nil {
			return nil
		}

		l.logger.Info("reconnecting", "delay", l.cfg.ReconnectDelay)

		if sleepErr := sleepInterruptible(ctx, l.cfg.ReconnectDelay); sleepErr != nil {
			return nil
		}
	}
}

func (l *Listener) connect(ctx context.Context) (wsConn, error) {
	openCtx, cancel := context.WithTimeout(ctx, l.cfg.OpenTimeout)
	defer cancel()

	conn, err := l.dialFunc(openCtx, l.cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("remote: dialing push channel: %w", err)
	}

	l.logger.Info("push channel connected")

	return conn, nil
}

// listen reads messages until the connection errors, closes, or goes quiet
// for longer than MessageQuietLimit (spec §5 "periodic message timeout that
// forces reconnection if quiet").
func (l *Listener) listen(ctx context.Context, conn wsConn, emit func(eventqueue.SyncEvent)) {
	quiet := l.cfg.MessageQuietLimit
	if quiet <= 0 {
		quiet = 30 * time.Second
	}

	for {
		readCtx, cancel := context.WithTimeout(ctx, quiet)
		_, data, err := conn.Read(readCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}

			l.logger.Info("push channel closed", "error", err)

			return
		}

		l.handleMessage(data, emit)
	}
}

// handleMessage decodes one push message, ignoring unknown types and
// logging invalid JSON (spec §4.7 invariant).
func (l *Listener) handleMessage(data []byte, emit func(eventqueue.SyncEvent)) {
	var msg pushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		l.logger.Warn("invalid push message", "error", err)
		return
	}

	if msg.Type != "file_change" {
		return
	}

	if msg.Action == "" || msg.Path == "" {
		l.logger.Warn("invalid file_change message", "action", msg.Action, "path", msg.Path)
		return
	}

	evt, ok := toSyncEvent(msg.Action, msg.Path)
	if !ok {
		l.logger.Warn("unknown push action", "action", msg.Action)
		return
	}

	emit(evt)
}

// fetchMissedChanges requests changes since the stored cursor and emits
// them before live mode resumes (spec §4.7 "before resuming live mode").
func (l *Listener) fetchMissedChanges(ctx context.Context, emit func(eventqueue.SyncEvent)) error {
	// A lookup error means no cursor has ever been stored (first run after
	// registration); start the catchup from the beginning of the log.
	cursor, _ := l.cursors.GetChangeCursor(ctx)

	pageSize := l.cfg.ChangesPageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	var total int

	for {
		result, err := l.changes.GetChanges(ctx, cursor, pageSize)
		if err != nil {
			return err
		}

		for _, c := range result.Changes {
			if evt, ok := toSyncEvent(c.Action, c.Path); ok {
				emit(evt)
				total++
			}
		}

		if result.LatestTimestamp != "" {
			cursor = result.LatestTimestamp

			if saveErr := l.cursors.SaveChangeCursor(ctx, cursor, time.Now()); saveErr != nil {
				return saveErr
			}
		}

		if !result.HasMore {
			break
		}
	}

	if total > 0 {
		l.logger.Info("fetched missed changes", "count", total)
	}

	return nil
}

func toSyncEvent(action, path string) (eventqueue.SyncEvent, bool) {
	now := time.Now()

	switch action {
	case "CREATED":
		return eventqueue.SyncEvent{Type: eventqueue.RemoteCreated, Source: eventqueue.SourceRemote, Path: path, Timestamp: now}, true
	case "UPDATED":
		return eventqueue.SyncEvent{Type: eventqueue.RemoteModified, Source: eventqueue.SourceRemote, Path: path, Timestamp: now}, true
	case "DELETED":
		return eventqueue.SyncEvent{Type: eventqueue.RemoteDeleted, Source: eventqueue.SourceRemote, Path: path, Timestamp: now}, true
	default:
		return eventqueue.SyncEvent{}, false
	}
}

func sleepInterruptible(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
