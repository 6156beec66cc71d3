// Package worker implements the bounded transfer worker pool (spec §4.13):
// a small reusable executor around a single transfer primitive, and a pool
// that runs a bounded number of them concurrently. Grounded in the original
// implementation's workers/base.py (BaseWorker, WorkerState, execute())
// for the per-worker state machine and combined cancellation check, and in
// the teacher's internal/sync/worker.go (WorkerPool) for the channel-based
// flat pool shape.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/syncagent/engine/internal/errtypes"
)

// State is a Worker's lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	case Cancelled:
		return "CANCELLED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// CancelFunc reports whether cancellation has been requested. Its signature
// matches internal/transfer.CancelFunc so a Worker's combined check can be
// passed directly into a transfer primitive.
type CancelFunc func() bool

// ProgressFunc reports (bytesDone, bytesTotal) as a task progresses (spec
// §4.13 "Progress is reported as (bytes_done, bytes_total) callbacks").
type ProgressFunc func(bytesDone, bytesTotal int64)

// Task is one unit of work submitted to a Pool.
type Task struct {
	// Path identifies the file this task operates on; the pool tracks at
	// most one active worker per path.
	Path string

	// Run performs the operation. It must poll cancel between atomic units
	// of work and return a *errtypes.SyncError classified KindCancelled if
	// it unwinds because of it.
	Run func(ctx context.Context, progress ProgressFunc, cancel CancelFunc) error

	// OnDone, if set, is invoked once with the task's outcome after Run
	// returns, always from the worker's own goroutine.
	OnDone func(err error)
}

// ErrAlreadyRunning is returned by Execute if the Worker is already running.
var ErrAlreadyRunning = fmt.Errorf("worker: already running")

// Worker is a small, reusable executor around a single Task (spec §4.13).
// It owns a cancel_requested flag and a lifecycle state, combining its own
// flag with an externally supplied cancel check so both the transfer
// tracker and the pool can force cancellation.
type Worker struct {
	mu              sync.Mutex
	state           State
	cancelRequested bool
}

// NewWorker returns an idle Worker.
func NewWorker() *Worker {
	return &Worker{state: Idle}
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state
}

// RequestCancel sets the cancellation flag. Returns false if the worker is
// not currently running (nothing to cancel).
func (w *Worker) RequestCancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Running {
		return false
	}

	w.cancelRequested = true

	return true
}

// Execute runs task to completion, combining the worker's own cancel flag
// (set by RequestCancel, which Pool.Cancel uses) with external, an optional
// outside check such as the tracker's cancel flag. It is not safe to call
// concurrently on the same Worker.
func (w *Worker) Execute(ctx context.Context, task Task, progress ProgressFunc, external CancelFunc) error {
	w.mu.Lock()
	if w.state == Running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}

	w.state = Running
	w.cancelRequested = false
	w.mu.Unlock()

	combined := func() bool {
		w.mu.Lock()
		if w.cancelRequested {
			w.mu.Unlock()
			return true
		}
		w.mu.Unlock()

		if external != nil && external() {
			w.mu.Lock()
			w.cancelRequested = true
			w.mu.Unlock()

			return true
		}

		return false
	}

	err := task.Run(ctx, progress, combined)

	w.mu.Lock()
	switch {
	case errtypes.Classify(err) == errtypes.KindCancelled:
		w.state = Cancelled
	case err != nil:
		w.state = Failed
	default:
		w.state = Completed
	}
	w.mu.Unlock()

	if task.OnDone != nil {
		task.OnDone(err)
	}

	return err
}
