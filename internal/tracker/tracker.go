// Package tracker implements the per-path transfer state machine (spec
// §4.10), grounded in the original implementation's
// domain/transfers.py (Transfer, TransferTracker, VALID_TRANSITIONS).
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syncagent/engine/internal/eventqueue"
)

// Kind is the operation a Transfer performs.
type Kind int

const (
	Upload Kind = iota
	Download
	Delete
)

func (k Kind) String() string {
	switch k {
	case Upload:
		return "UPLOAD"
	case Download:
		return "DOWNLOAD"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Status is a Transfer's place in the state machine.
type Status int

const (
	Pending Status = iota
	InProgress
	Completed
	Cancelled
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InProgress:
		return "IN_PROGRESS"
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

// IsTerminal reports whether s has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// validTransitions mirrors the original VALID_TRANSITIONS table exactly.
var validTransitions = map[Status]map[Status]bool{
	Pending:    {InProgress: true, Cancelled: true},
	InProgress: {Completed: true, Cancelled: true, Failed: true},
	Completed:  {},
	Cancelled:  {},
	Failed:     {},
}

// InvalidTransition is returned when a transition is not in validTransitions.
type InvalidTransition struct {
	From, To Status
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("tracker: cannot transition from %s to %s", e.From, e.To)
}

// ErrNoActiveTransfer reports that no transfer is tracked for a path. No
// method in this package returns it.
var ErrNoActiveTransfer = errors.New("tracker: no transfer tracked for path")

// Transfer is a tracked upload/download/delete operation for one path (spec
// §3 "Transfer").
type Transfer struct {
	mu sync.Mutex

	Path      string
	Kind      Kind
	Status    Status
	Event     eventqueue.SyncEvent
	StartedAt time.Time

	CancelRequested bool
	Error           string

	BaseVersion           *int64
	DetectedServerVersion *int64
	HasConflict           bool
	ConflictKind          string
}

// transitionLocked validates and applies a status change. Caller must hold t.mu.
func (t *Transfer) transitionLocked(to Status) error {
	allowed, ok := validTransitions[t.Status]
	if !ok || !allowed[to] {
		return &InvalidTransition{From: t.Status, To: to}
	}

	t.Status = to

	return nil
}

// Start transitions PENDING -> IN_PROGRESS.
func (t *Transfer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.transitionLocked(InProgress)
}

// Complete transitions IN_PROGRESS -> COMPLETED.
func (t *Transfer) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.transitionLocked(Completed)
}

// Fail transitions IN_PROGRESS -> FAILED, recording reason.
func (t *Transfer) Fail(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transitionLocked(Failed); err != nil {
		return err
	}

	t.Error = reason

	return nil
}

// Cancel transitions PENDING or IN_PROGRESS -> CANCELLED. Unlike Start/
// Complete/Fail it is a no-op (not an error) if already terminal, mirroring
// the original's Transfer.cancel(), which only acts on non-terminal status.
func (t *Transfer) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return nil
	}

	return t.transitionLocked(Cancelled)
}

// RequestCancel sets the cooperative cancel flag without changing status;
// workers observe it between atomic units of work (spec §4.10).
func (t *Transfer) RequestCancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.CancelRequested = true
}

// IsCancelRequested reports the cooperative cancel flag.
func (t *Transfer) IsCancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.CancelRequested
}

// MarkConflict sets has_conflict, records detected_server_version, and
// requests cancellation (spec §4.10 "mark_conflict(kind, version)").
func (t *Transfer) MarkConflict(kind string, serverVersion *int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.HasConflict = true
	t.ConflictKind = kind

	if serverVersion != nil {
		t.DetectedServerVersion = serverVersion
	}

	t.CancelRequested = true
}

// Snapshot returns a value copy of the transfer's fields for safe reading
// outside the tracker's lock.
func (t *Transfer) Snapshot() Transfer {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Transfer{
		Path:                  t.Path,
		Kind:                  t.Kind,
		Status:                t.Status,
		Event:                 t.Event,
		StartedAt:             t.StartedAt,
		CancelRequested:       t.CancelRequested,
		Error:                 t.Error,
		BaseVersion:           t.BaseVersion,
		DetectedServerVersion: t.DetectedServerVersion,
		HasConflict:           t.HasConflict,
		ConflictKind:          t.ConflictKind,
	}
}

// IsTerminal reports whether the transfer has reached a terminal status.
func (t *Transfer) IsTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.Status.IsTerminal()
}

// Tracker tracks at most one non-terminal Transfer per path (spec §4.10
// invariant), owned exclusively by the coordinator (spec §3 "Ownership").
type Tracker struct {
	mu        sync.Mutex
	transfers map[string]*Transfer
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{transfers: make(map[string]*Transfer)}
}

// Begin creates and tracks a new PENDING transfer for path. It returns an
// error if a non-terminal transfer already exists for path.
func (tr *Tracker) Begin(path string, kind Kind, event eventqueue.SyncEvent, baseVersion *int64) (*Transfer, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if existing, ok := tr.transfers[path]; ok && !existing.IsTerminal() {
		return nil, fmt.Errorf("tracker: active transfer already exists for %q", path)
	}

	t := &Transfer{
		Path:        path,
		Kind:        kind,
		Status:      Pending,
		Event:       event,
		StartedAt:   time.Now(),
		BaseVersion: baseVersion,
	}
	tr.transfers[path] = t

	return t, nil
}

// Active returns the non-terminal transfer for path, if any.
func (tr *Tracker) Active(path string) *Transfer {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	t, ok := tr.transfers[path]
	if !ok || t.IsTerminal() {
		return nil
	}

	return t
}

// Remove stops tracking path entirely (called once a terminal transfer's
// result has been recorded to local state).
func (tr *Tracker) Remove(path string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	delete(tr.transfers, path)
}

// AllActive returns every non-terminal transfer currently tracked.
func (tr *Tracker) AllActive() []*Transfer {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	active := make([]*Transfer, 0, len(tr.transfers))

	for _, t := range tr.transfers {
		if !t.IsTerminal() {
			active = append(active, t)
		}
	}

	return active
}

// CancelAll requests cancellation on every active transfer, used during
// coordinator shutdown.
func (tr *Tracker) CancelAll() {
	for _, t := range tr.AllActive() {
		t.RequestCancel()
	}
}
