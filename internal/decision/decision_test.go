package decision_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syncagent/engine/internal/decision"
	"github.com/syncagent/engine/internal/eventqueue"
	"github.com/syncagent/engine/internal/tracker"
)

func transferOfKind(kind tracker.Kind) *tracker.Transfer {
	return &tracker.Transfer{Kind: kind, Status: tracker.InProgress}
}

func TestNoActiveTransferReturnsNone(t *testing.T) {
	got := decision.Decide(eventqueue.SyncEvent{Type: eventqueue.LocalCreated}, nil)
	assert.Equal(t, decision.ActionNone, got)
}

func TestLocalAgainstDownloadCancelsAndRequeues(t *testing.T) {
	active := transferOfKind(tracker.Download)

	for _, typ := range []eventqueue.EventType{eventqueue.LocalCreated, eventqueue.LocalModified, eventqueue.LocalDeleted} {
		got := decision.Decide(eventqueue.SyncEvent{Type: typ}, active)
		assert.Equal(t, decision.ActionCancelAndRequeue, got, typ.String())
	}
}

func TestRemoteModifiedAgainstUploadMarksConflict(t *testing.T) {
	active := transferOfKind(tracker.Upload)

	got := decision.Decide(eventqueue.SyncEvent{Type: eventqueue.RemoteModified}, active)
	assert.Equal(t, decision.ActionMarkConflict, got)
}

func TestRemoteDeletedAgainstUploadCreatesConflictCopy(t *testing.T) {
	active := transferOfKind(tracker.Upload)

	got := decision.Decide(eventqueue.SyncEvent{Type: eventqueue.RemoteDeleted}, active)
	assert.Equal(t, decision.ActionCreateConflictCopy, got)
}

func TestRemoteAgainstDownloadIgnores(t *testing.T) {
	active := transferOfKind(tracker.Download)

	for _, typ := range []eventqueue.EventType{eventqueue.RemoteCreated, eventqueue.RemoteModified, eventqueue.RemoteDeleted} {
		got := decision.Decide(eventqueue.SyncEvent{Type: typ}, active)
		assert.Equal(t, decision.ActionIgnore, got, typ.String())
	}
}

func TestLocalAgainstUploadIgnores(t *testing.T) {
	active := transferOfKind(tracker.Upload)

	for _, typ := range []eventqueue.EventType{eventqueue.LocalCreated, eventqueue.LocalModified, eventqueue.LocalDeleted} {
		got := decision.Decide(eventqueue.SyncEvent{Type: typ}, active)
		assert.Equal(t, decision.ActionIgnore, got, typ.String())
	}
}

func TestAnythingAgainstDeleteIgnores(t *testing.T) {
	active := transferOfKind(tracker.Delete)

	for typ := eventqueue.LocalCreated; typ <= eventqueue.TransferFailed; typ++ {
		got := decision.Decide(eventqueue.SyncEvent{Type: typ}, active)
		assert.Equal(t, decision.ActionIgnore, got, typ.String())
	}
}

// TestDecideIsTotal exercises every (event type, active kind) combination
// and asserts Decide never panics and always returns a defined Action,
// satisfying spec §8 property 7 ("decide returns exactly one action for
// every triple").
func TestDecideIsTotal(t *testing.T) {
	kinds := []tracker.Kind{tracker.Upload, tracker.Download, tracker.Delete}

	for typ := eventqueue.LocalCreated; typ <= eventqueue.TransferFailed; typ++ {
		for _, kind := range kinds {
			active := transferOfKind(kind)
			got := decision.Decide(eventqueue.SyncEvent{Type: typ}, active)
			assert.Contains(t, []decision.Action{
				decision.ActionIgnore,
				decision.ActionCancelAndRequeue,
				decision.ActionMarkConflict,
				decision.ActionCreateConflictCopy,
			}, got)
		}

		assert.Equal(t, decision.ActionNone, decision.Decide(eventqueue.SyncEvent{Type: typ}, nil))
	}
}
