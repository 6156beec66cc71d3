// Package decision implements the pure decision engine (spec §4.9): given a
// newly arrived event and the transfer already active for its path (if
// any), it decides what the coordinator should do next. No I/O, no locks —
// a total function over (event, active transfer).
package decision

import (
	"github.com/syncagent/engine/internal/eventqueue"
	"github.com/syncagent/engine/internal/tracker"
)

// Action is the coordinator's next step for an event against an active
// transfer (spec §4.9 table).
type Action int

const (
	// ActionNone means no transfer is active for the path; the coordinator
	// submits a new transfer matching the event's direction.
	ActionNone Action = iota
	ActionIgnore
	ActionCancelAndRequeue
	ActionMarkConflict
	ActionCreateConflictCopy
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionIgnore:
		return "IGNORE"
	case ActionCancelAndRequeue:
		return "CANCEL_AND_REQUEUE"
	case ActionMarkConflict:
		return "MARK_CONFLICT"
	case ActionCreateConflictCopy:
		return "CREATE_CONFLICT_COPY"
	default:
		return "UNKNOWN"
	}
}

// Decide resolves the action for newEvent given the active transfer for its
// path, if any, following the table in spec §4.9 exactly.
func Decide(newEvent eventqueue.SyncEvent, active *tracker.Transfer) Action {
	if active == nil {
		return ActionNone
	}

	kind := active.Snapshot().Kind

	switch {
	case kind == tracker.Delete:
		// "anything | DELETE | IGNORE | Delete is terminal intent"
		return ActionIgnore

	case newEvent.Type.IsLocal() && kind == tracker.Download:
		// "LOCAL_* | DOWNLOAD | CANCEL_AND_REQUEUE | Local edits dominate incoming remote"
		return ActionCancelAndRequeue

	case newEvent.Type == eventqueue.RemoteModified && kind == tracker.Upload:
		// "REMOTE_MODIFIED | UPLOAD | MARK_CONFLICT | May conflict at commit"
		return ActionMarkConflict

	case newEvent.Type == eventqueue.RemoteDeleted && kind == tracker.Upload:
		// "REMOTE_DELETED | UPLOAD | CREATE_CONFLICT_COPY | Preserve user's local work"
		return ActionCreateConflictCopy

	case newEvent.Type.IsRemote() && kind == tracker.Download:
		// "REMOTE_* | DOWNLOAD | IGNORE | Already fetching latest"
		return ActionIgnore

	case newEvent.Type.IsLocal() && kind == tracker.Upload:
		// "LOCAL_* | UPLOAD | IGNORE | Already handling local"
		return ActionIgnore

	default:
		return ActionIgnore
	}
}
