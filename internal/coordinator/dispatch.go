package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/syncagent/engine/internal/conflict"
	"github.com/syncagent/engine/internal/errtypes"
	"github.com/syncagent/engine/internal/eventqueue"
	"github.com/syncagent/engine/internal/state"
	"github.com/syncagent/engine/internal/tracker"
	"github.com/syncagent/engine/internal/transfer"
	"github.com/syncagent/engine/internal/worker"
)

// joinSyncRoot resolves relPath against syncRoot the way every other
// filesystem-facing package in this engine does (watcher, conflict).
func joinSyncRoot(syncRoot, relPath string) string {
	return filepath.Join(syncRoot, filepath.FromSlash(relPath))
}

func osStat(syncRoot, relPath string) (os.FileInfo, error) {
	return os.Stat(joinSyncRoot(syncRoot, relPath))
}

// submitUpload begins an UPLOAD transfer for event.Path, resolving the
// parent version from any existing file record so the server can detect a
// stale-base update.
func (c *Coordinator) submitUpload(ctx context.Context, event eventqueue.SyncEvent) {
	relPath := event.Path

	var parentVersion *int64
	if rec, err := c.cfg.Store.GetFileRecord(ctx, relPath); err == nil {
		v := rec.ServerVersion
		parentVersion = &v
	}

	t, err := c.cfg.Tracker.Begin(relPath, tracker.Upload, event, parentVersion)
	if err != nil {
		c.cfg.Logger.Warn("upload not started, transfer already active", "path", relPath, "error", err)
		return
	}

	if err := t.Start(); err != nil {
		c.cfg.Logger.Warn("upload transfer failed to start", "path", relPath, "error", err)
		return
	}

	localPath := c.localPath(relPath)

	task := worker.Task{
		Path: relPath,
		Run: func(ctx context.Context, progress worker.ProgressFunc, cancel worker.CancelFunc) error {
			result, err := c.cfg.Uploader.Upload(ctx, localPath, relPath, parentVersion, adaptProgress(progress), transfer.CancelFunc(cancel))

			c.stashOutcome(relPath, &transferOutcome{kind: tracker.Upload, relPath: relPath, localErr: err, upload: result})

			return err
		},
		OnDone: func(err error) {
			c.finishTransfer(relPath, err)
		},
	}

	if err := c.cfg.Pool.Submit(task); err != nil {
		c.cfg.Logger.Warn("upload not submitted", "path", relPath, "error", err)
		c.cfg.Tracker.Remove(relPath)
	}
}

// submitDownload begins a DOWNLOAD transfer for event.Path, fetching the
// server's current file record to learn its chunk list.
func (c *Coordinator) submitDownload(ctx context.Context, event eventqueue.SyncEvent) {
	relPath := event.Path

	serverRec, err := c.cfg.Client.GetFile(ctx, relPath)
	if err != nil {
		c.cfg.Logger.Warn("download not started, could not fetch file record", "path", relPath, "error", err)
		return
	}

	t, err := c.cfg.Tracker.Begin(relPath, tracker.Download, event, &serverRec.ServerVersion)
	if err != nil {
		c.cfg.Logger.Warn("download not started, transfer already active", "path", relPath, "error", err)
		return
	}

	if err := t.Start(); err != nil {
		c.cfg.Logger.Warn("download transfer failed to start", "path", relPath, "error", err)
		return
	}

	localPath := c.localPath(relPath)

	task := worker.Task{
		Path: relPath,
		Run: func(ctx context.Context, progress worker.ProgressFunc, cancel worker.CancelFunc) error {
			result, err := c.cfg.Downloader.Download(ctx, serverRec, localPath, adaptProgress(progress), transfer.CancelFunc(cancel))

			c.stashOutcome(relPath, &transferOutcome{kind: tracker.Download, relPath: relPath, localErr: err, download: result})

			return err
		},
		OnDone: func(err error) {
			c.finishTransfer(relPath, err)
		},
	}

	if err := c.cfg.Pool.Submit(task); err != nil {
		c.cfg.Logger.Warn("download not submitted", "path", relPath, "error", err)
		c.cfg.Tracker.Remove(relPath)
	}
}

// submitDelete begins a DELETE transfer. localOriginated distinguishes a
// user-deleted local file (which must delete the server's metadata) from a
// server-originated deletion (which must remove the local file if present),
// per spec §4.12 "Delete".
func (c *Coordinator) submitDelete(event eventqueue.SyncEvent, localOriginated bool) {
	relPath := event.Path

	t, err := c.cfg.Tracker.Begin(relPath, tracker.Delete, event, nil)
	if err != nil {
		c.cfg.Logger.Warn("delete not started, transfer already active", "path", relPath, "error", err)
		return
	}

	if err := t.Start(); err != nil {
		c.cfg.Logger.Warn("delete transfer failed to start", "path", relPath, "error", err)
		return
	}

	localPath := c.localPath(relPath)

	task := worker.Task{
		Path: relPath,
		Run: func(ctx context.Context, progress worker.ProgressFunc, cancel worker.CancelFunc) error {
			var err error
			if localOriginated {
				err = transfer.DeleteLocal(ctx, c.cfg.Client, relPath)
			} else {
				err = transfer.DeleteRemote(localPath)
			}

			c.stashOutcome(relPath, &transferOutcome{kind: tracker.Delete, relPath: relPath, localErr: err})

			return err
		},
		OnDone: func(err error) {
			c.finishTransfer(relPath, err)
		},
	}

	if err := c.cfg.Pool.Submit(task); err != nil {
		c.cfg.Logger.Warn("delete not submitted", "path", relPath, "error", err)
		c.cfg.Tracker.Remove(relPath)
	}
}

func (c *Coordinator) stashOutcome(relPath string, o *transferOutcome) {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()

	c.results[relPath] = o
}

func (c *Coordinator) takeOutcome(relPath string) *transferOutcome {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()

	o := c.results[relPath]
	delete(c.results, relPath)

	return o
}

// finishTransfer transitions the tracked transfer to its terminal status and
// enqueues the bookkeeping event spec §4.15 step 4 asks for, so the actual
// local-state update happens serialized on the coordinator's own loop
// goroutine rather than racing with it from a worker goroutine.
func (c *Coordinator) finishTransfer(relPath string, err error) {
	t := c.cfg.Tracker.Active(relPath)

	eventType := eventqueue.TransferComplete

	if err != nil {
		eventType = eventqueue.TransferFailed

		if t != nil {
			if classifyIsCancelled(err) {
				_ = t.Cancel()
			} else {
				_ = t.Fail(err.Error())
			}
		}
	} else if t != nil {
		_ = t.Complete()
	}

	c.cfg.Queue.Push(eventqueue.SyncEvent{
		Type:   eventType,
		Source: eventqueue.SourceInternal,
		Path:   relPath,
	})
}

func classifyIsCancelled(err error) bool {
	return errtypes.Classify(err) == errtypes.KindCancelled
}

// applyOutcome implements spec §4.15 step 5: fold a finished transfer's
// result into the local state store, then stop tracking its path.
func (c *Coordinator) applyOutcome(ctx context.Context, event eventqueue.SyncEvent) {
	outcome := c.takeOutcome(event.Path)
	defer c.cfg.Tracker.Remove(event.Path)

	if outcome == nil {
		return
	}

	switch outcome.kind {
	case tracker.Delete:
		if outcome.localErr == nil {
			if err := c.cfg.Store.DeleteFileRecord(ctx, outcome.relPath); err != nil {
				c.cfg.Logger.Warn("failed to purge local state after delete", "path", outcome.relPath, "error", err)
			}
		}

	case tracker.Upload:
		if outcome.localErr != nil {
			if errtypes.Classify(outcome.localErr) == errtypes.KindConflict {
				c.resolveConflict(ctx, outcome.relPath)
			}

			return
		}

		if outcome.upload == nil {
			return
		}

		if err := c.cfg.Store.UpsertFileRecord(ctx, &state.FileRecord{
			Path:          outcome.relPath,
			Size:          outcome.upload.Size,
			ContentHash:   outcome.upload.ContentHash,
			ServerVersion: outcome.upload.ServerVersion,
			ChunkHashes:   outcome.upload.ChunkHashes,
			UpdatedAt:     time.Now(),
		}); err != nil {
			c.cfg.Logger.Warn("failed to record upload result", "path", outcome.relPath, "error", err)
		}

	case tracker.Download:
		if outcome.localErr != nil || outcome.download == nil {
			return
		}

		if info, statErr := os.Stat(outcome.download.LocalPath); statErr == nil {
			if err := c.cfg.Store.UpsertFileRecord(ctx, &state.FileRecord{
				Path:          outcome.relPath,
				Size:          outcome.download.Size,
				ServerVersion: outcome.download.Version,
				LocalMtime:    info.ModTime(),
				LocalSize:     info.Size(),
				UpdatedAt:     time.Now(),
			}); err != nil {
				c.cfg.Logger.Warn("failed to record download result", "path", outcome.relPath, "error", err)
			}
		}
	}
}

// resolveConflict runs the conflict resolver for path, fetching the
// server's current record first (spec §4.14, triggered by a
// CREATE_CONFLICT_COPY decision and by an upload that fails with a
// KindConflict error). A RetryNeeded outcome re-enqueues a
// synthetic local-modified event so the coordinator tries again.
func (c *Coordinator) resolveConflict(ctx context.Context, relPath string) {
	defer c.cfg.Tracker.Remove(relPath)

	serverRec, err := c.cfg.Client.GetFile(ctx, relPath)
	if err != nil {
		c.cfg.Logger.Warn("conflict resolution could not fetch server record", "path", relPath, "error", err)
		return
	}

	localPath := c.localPath(relPath)

	outcome, err := c.cfg.Resolver.Resolve(ctx, relPath, localPath, serverRec)
	if err != nil {
		c.cfg.Logger.Warn("conflict resolution failed", "path", relPath, "error", err)
		return
	}

	switch outcome {
	case conflict.RetryNeeded:
		c.cfg.Queue.Push(eventqueue.SyncEvent{
			Type:   eventqueue.LocalModified,
			Source: eventqueue.SourceInternal,
			Path:   relPath,
		})

	case conflict.Resolved, conflict.AlreadySynced:
		if err := c.cfg.Store.UpsertFileRecord(ctx, &state.FileRecord{
			Path:          relPath,
			Size:          serverRec.Size,
			ContentHash:   serverRec.ContentHash,
			ServerVersion: serverRec.ServerVersion,
			ChunkHashes:   serverRec.ChunkHashes,
			UpdatedAt:     time.Now(),
		}); err != nil {
			c.cfg.Logger.Warn("failed to record conflict resolution", "path", relPath, "error", err)
		}
	}
}

// adaptProgress bridges worker.ProgressFunc's (bytesDone, bytesTotal) shape
// to transfer.ProgressFunc's richer Progress struct.
func adaptProgress(p worker.ProgressFunc) transfer.ProgressFunc {
	if p == nil {
		return nil
	}

	return func(tp transfer.Progress) {
		p(tp.BytesTransferred, tp.FileSize)
	}
}
