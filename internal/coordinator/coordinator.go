// Package coordinator implements the top-level event loop (spec §4.15):
// pop the next event, consult the tracker and decision engine, submit a
// transfer to the worker pool or apply the decided action, then fold the
// transfer's outcome back into local state. Grounded in the teacher's
// internal/sync/orchestrator.go and engine.go for the STOPPED/STARTING/
// RUNNING/STOPPING lifecycle and the spawn-children-then-select-loop shape,
// generalized from the teacher's per-drive RunOnce/RunWatch split down to
// this specification's single continuously-running sync root.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syncagent/engine/internal/conflict"
	"github.com/syncagent/engine/internal/decision"
	"github.com/syncagent/engine/internal/eventqueue"
	"github.com/syncagent/engine/internal/remote"
	"github.com/syncagent/engine/internal/state"
	"github.com/syncagent/engine/internal/tracker"
	"github.com/syncagent/engine/internal/transfer"
	"github.com/syncagent/engine/internal/watcher"
	"github.com/syncagent/engine/internal/worker"
)

// requeueDelay is the "short delay" spec §4.15 step 3 asks CANCEL_AND_REQUEUE
// to wait before the superseding event becomes visible again, giving the
// cancelled worker a moment to actually unwind before its replacement starts.
const requeueDelay = 200 * time.Millisecond

// State is the coordinator's lifecycle state (spec §4.15).
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// ErrWrongState is returned by Start/Stop when called from a state that
// does not allow the requested transition.
var ErrWrongState = errors.New("coordinator: invalid state transition")

// FsWatcher is the subset of *watcher.Watcher the coordinator drives.
type FsWatcher interface {
	Watch(ctx context.Context, emit func(watcher.FileChange)) error
}

// PushListener is the subset of *remote.Listener the coordinator drives.
type PushListener interface {
	Run(ctx context.Context, emit func(eventqueue.SyncEvent)) error
}

// Config wires every collaborator the coordinator owns or borrows (spec §5
// "Ownership").
type Config struct {
	SyncRoot    string
	MachineName string

	Watcher  FsWatcher
	Listener PushListener
	Queue    *eventqueue.Queue
	Tracker  *tracker.Tracker
	Pool     *worker.Pool

	Store      *state.Store
	Client     *remote.Client
	Uploader   *transfer.Uploader
	Downloader *transfer.Downloader
	Resolver   *conflict.Resolver

	Logger *slog.Logger
}

// Coordinator owns the Tracker and Queue for mutation (spec §5 "Ownership")
// and drives the watcher, listener, and worker pool it was built with.
type Coordinator struct {
	cfg Config

	mu    sync.Mutex
	state State

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopDone chan struct{}

	resultsMu sync.Mutex
	results   map[string]*transferOutcome
}

// transferOutcome is the bookkeeping payload a completed worker task stashes
// for the coordinator loop to fold into local state when it processes the
// matching TRANSFER_COMPLETE/TRANSFER_FAILED event (spec §4.15 steps 4-5).
type transferOutcome struct {
	kind     tracker.Kind
	relPath  string
	localErr error

	upload   *transfer.UploadResult
	download *transfer.DownloadResult
}

// New builds a Coordinator in the STOPPED state.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Coordinator{
		cfg:     cfg,
		state:   Stopped,
		results: make(map[string]*transferOutcome),
	}
}

// State reports the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Start transitions STOPPED -> STARTING -> RUNNING, spawning the watcher,
// remote listener, and pool (spec §4.15).
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Stopped {
		c.mu.Unlock()
		return fmt.Errorf("%w: Start requires STOPPED, got %s", ErrWrongState, c.state)
	}
	c.state = Starting
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.loopDone = make(chan struct{})

	c.cfg.Pool.Start(runCtx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := c.cfg.Watcher.Watch(runCtx, c.onLocalChange); err != nil && runCtx.Err() == nil {
			c.cfg.Logger.Error("watcher exited", "error", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := c.cfg.Listener.Run(runCtx, c.cfg.Queue.Push); err != nil && runCtx.Err() == nil {
			c.cfg.Logger.Error("remote listener exited", "error", err)
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.loopDone)

		c.loop(runCtx)
	}()

	c.mu.Lock()
	c.state = Running
	c.mu.Unlock()

	c.cfg.Logger.Info("coordinator started", "sync_root", c.cfg.SyncRoot)

	return nil
}

// Stop transitions RUNNING -> STOPPING, signals shutdown to every child, and
// waits for workers to finish or be cancelled, then settles at STOPPED.
func (c *Coordinator) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return fmt.Errorf("%w: Stop requires RUNNING, got %s", ErrWrongState, c.state)
	}
	c.state = Stopping
	c.mu.Unlock()

	c.cfg.Tracker.CancelAll()
	c.cfg.Queue.Close()
	c.cancel()

	poolErr := c.cfg.Pool.Stop(timeout)

	c.wg.Wait()

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()

	c.cfg.Logger.Info("coordinator stopped")

	return poolErr
}

// onLocalChange adapts a watcher.FileChange into a queued eventqueue.SyncEvent.
func (c *Coordinator) onLocalChange(fc watcher.FileChange) {
	eventType, ok := localEventType(fc.Kind)
	if !ok {
		return
	}

	meta := eventqueue.Metadata{}

	if !fc.IsDirectory {
		if info, err := osStat(c.cfg.SyncRoot, fc.Path); err == nil {
			meta.HasMtime = true
			meta.Mtime = info.ModTime()
			meta.Size = info.Size()
		}
	}

	c.cfg.Queue.Push(eventqueue.SyncEvent{
		Type:      eventType,
		Source:    eventqueue.SourceLocal,
		Path:      fc.Path,
		Timestamp: fc.Timestamp,
		Metadata:  meta,
	})
}

func localEventType(k watcher.Kind) (eventqueue.EventType, bool) {
	switch k {
	case watcher.Created:
		return eventqueue.LocalCreated, true
	case watcher.Modified, watcher.Moved:
		return eventqueue.LocalModified, true
	case watcher.Deleted:
		return eventqueue.LocalDeleted, true
	default:
		return 0, false
	}
}

// loop is the coordinator's single consumer goroutine (spec §4.15 "the
// top-level event loop").
func (c *Coordinator) loop(ctx context.Context) {
	for {
		event, err := c.cfg.Queue.Pop(ctx)
		if err != nil {
			return
		}

		c.handleEvent(ctx, event)
	}
}

// handleEvent implements spec §4.15 steps 2-5 for a single popped event.
func (c *Coordinator) handleEvent(ctx context.Context, event eventqueue.SyncEvent) {
	if event.Type == eventqueue.TransferComplete || event.Type == eventqueue.TransferFailed {
		c.applyOutcome(ctx, event)
		return
	}

	active := c.cfg.Tracker.Active(event.Path)

	if active == nil {
		c.dispatch(ctx, event)
		return
	}

	action := decision.Decide(event, active)

	switch action {
	case decision.ActionIgnore:
		return

	case decision.ActionCancelAndRequeue:
		c.cfg.Pool.Cancel(event.Path)
		active.RequestCancel()

		go func(e eventqueue.SyncEvent) {
			time.Sleep(requeueDelay)
			c.cfg.Queue.Push(e)
		}(event)

	case decision.ActionMarkConflict:
		active.MarkConflict("version", nil)

	case decision.ActionCreateConflictCopy:
		c.cfg.Pool.Cancel(event.Path)
		active.MarkConflict("deleted", nil)

		c.wg.Add(1)
		go func(path string) {
			defer c.wg.Done()
			c.resolveConflict(ctx, path)
		}(event.Path)

	case decision.ActionNone:
		// unreachable: Decide never returns ActionNone for a non-nil active transfer.
	}
}

// dispatch submits a new transfer matching event's direction (spec §4.15
// step 2: LOCAL_* -> UPLOAD, REMOTE_* -> DOWNLOAD, *_DELETED -> DELETE).
func (c *Coordinator) dispatch(ctx context.Context, event eventqueue.SyncEvent) {
	switch {
	case event.Type == eventqueue.LocalDeleted:
		c.submitDelete(event, true)

	case event.Type == eventqueue.RemoteDeleted:
		c.submitDelete(event, false)

	case event.Type.IsLocal():
		c.submitUpload(ctx, event)

	case event.Type.IsRemote():
		c.submitDownload(ctx, event)
	}
}

func (c *Coordinator) localPath(relPath string) string {
	return joinSyncRoot(c.cfg.SyncRoot, relPath)
}
