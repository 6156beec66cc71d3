// Package eventqueue implements the priority queue that sits between the
// watcher/listener producers and the coordinator (spec §4.8). Events are
// ordered by priority, then by timestamp within a priority, and deduplicated
// by path under a single lock so the queue can be shared by multiple
// producer goroutines.
package eventqueue

import "time"

// EventType enumerates the sync event kinds (spec §3 "Sync event").
type EventType int

const (
	LocalCreated EventType = iota
	LocalModified
	LocalDeleted
	RemoteCreated
	RemoteModified
	RemoteDeleted
	TransferComplete
	TransferFailed
)

func (t EventType) String() string {
	switch t {
	case LocalCreated:
		return "LOCAL_CREATED"
	case LocalModified:
		return "LOCAL_MODIFIED"
	case LocalDeleted:
		return "LOCAL_DELETED"
	case RemoteCreated:
		return "REMOTE_CREATED"
	case RemoteModified:
		return "REMOTE_MODIFIED"
	case RemoteDeleted:
		return "REMOTE_DELETED"
	case TransferComplete:
		return "TRANSFER_COMPLETE"
	case TransferFailed:
		return "TRANSFER_FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsLocal reports whether t originates from the local filesystem watcher.
func (t EventType) IsLocal() bool {
	return t == LocalCreated || t == LocalModified || t == LocalDeleted
}

// IsRemote reports whether t originates from the remote listener.
func (t EventType) IsRemote() bool {
	return t == RemoteCreated || t == RemoteModified || t == RemoteDeleted
}

// IsDeleted reports whether t represents a deletion, local or remote.
func (t EventType) IsDeleted() bool {
	return t == LocalDeleted || t == RemoteDeleted
}

// Source identifies who produced a SyncEvent.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
	SourceInternal
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "LOCAL"
	case SourceRemote:
		return "REMOTE"
	case SourceInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Metadata carries the optional per-event attributes spec §3 allows
// ("metadata may carry mtime, size, parent_version").
type Metadata struct {
	Mtime         time.Time
	HasMtime      bool
	Size          int64
	ParentVersion *int64
}

// SyncEvent is the unit flowing through the queue (spec §3 "Sync event").
type SyncEvent struct {
	Type      EventType
	Source    Source
	Path      string
	Timestamp time.Time
	Metadata  Metadata
}

// priorityFor returns the queue priority for an event's type, lower meaning
// sooner, per spec §4.8 (deletions 10, local create/modify 20, remote
// create/modify 30, internal bookkeeping 90).
func priorityFor(e SyncEvent) int {
	switch {
	case e.Type.IsDeleted():
		return 10
	case e.Type == LocalCreated || e.Type == LocalModified:
		return 20
	case e.Type == RemoteCreated || e.Type == RemoteModified:
		return 30
	default:
		return 90
	}
}
