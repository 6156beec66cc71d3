package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/syncagent/engine/internal/eventqueue"
	"github.com/syncagent/engine/internal/ignore"
	"github.com/syncagent/engine/internal/remote"
	"github.com/syncagent/engine/internal/state"
)

// seedOneShotEvents walks the local sync tree and the server's file list,
// diffs both against the local state store, and pushes the events a running
// watcher/listener pair would have produced incrementally — letting a
// one-shot `sync` run drive the same coordinator loop as `watch` (spec §4.15
// "single continuously-running sync root", here run until the backlog
// drains instead of forever).
func seedOneShotEvents(ctx context.Context, r *rig, syncRoot string) (int, error) {
	seeded := 0

	localFiles, err := scanLocalFiles(syncRoot, r.ignore)
	if err != nil {
		return 0, err
	}

	remoteFiles, err := r.client.ListFiles(ctx, "")
	if err != nil {
		return 0, err
	}

	remoteByPath := make(map[string]remote.FileRecord, len(remoteFiles))
	for _, rec := range remoteFiles {
		remoteByPath[rec.Path] = rec
	}

	records, err := r.store.ListFileRecords(ctx)
	if err != nil {
		return 0, err
	}

	knownByPath := make(map[string]*state.FileRecord, len(records))
	for _, rec := range records {
		knownByPath[rec.Path] = rec
	}

	for relPath, info := range localFiles {
		known, tracked := knownByPath[relPath]

		switch {
		case !tracked:
			pushLocal(r.queue, eventqueue.LocalCreated, relPath, info)
			seeded++
		case info.ModTime().After(known.UpdatedAt) || info.Size() != known.Size:
			pushLocal(r.queue, eventqueue.LocalModified, relPath, info)
			seeded++
		}
	}

	for relPath, known := range knownByPath {
		if _, stillLocal := localFiles[relPath]; !stillLocal {
			r.queue.Push(eventqueue.SyncEvent{
				Type:      eventqueue.LocalDeleted,
				Source:    eventqueue.SourceLocal,
				Path:      relPath,
				Timestamp: time.Now(),
			})
			seeded++
		}
	}

	for relPath, rec := range remoteByPath {
		known, tracked := knownByPath[relPath]

		switch {
		case !tracked:
			pushRemote(r.queue, eventqueue.RemoteCreated, relPath)
			seeded++
		case rec.ServerVersion > known.ServerVersion:
			pushRemote(r.queue, eventqueue.RemoteModified, relPath)
			seeded++
		}
	}

	for relPath, known := range knownByPath {
		if _, stillRemote := remoteByPath[relPath]; !stillRemote && known.ServerVersion > 0 {
			pushRemote(r.queue, eventqueue.RemoteDeleted, relPath)
			seeded++
		}
	}

	return seeded, nil
}

// scanLocalFiles walks syncRoot and returns every non-ignored regular file,
// keyed by its path relative to syncRoot.
func scanLocalFiles(syncRoot string, matcher *ignore.Matcher) (map[string]os.FileInfo, error) {
	files := make(map[string]os.FileInfo)

	err := filepath.WalkDir(syncRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == syncRoot {
			return nil
		}

		relPath, relErr := filepath.Rel(syncRoot, path)
		if relErr != nil {
			return relErr
		}

		isSymlink := d.Type()&fs.ModeSymlink != 0

		if matcher.Ignored(relPath, isSymlink) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		files[relPath] = info

		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func pushLocal(q *eventqueue.Queue, typ eventqueue.EventType, relPath string, info os.FileInfo) {
	q.Push(eventqueue.SyncEvent{
		Type:      typ,
		Source:    eventqueue.SourceLocal,
		Path:      relPath,
		Timestamp: time.Now(),
		Metadata: eventqueue.Metadata{
			HasMtime: true,
			Mtime:    info.ModTime(),
			Size:     info.Size(),
		},
	})
}

func pushRemote(q *eventqueue.Queue, typ eventqueue.EventType, relPath string) {
	q.Push(eventqueue.SyncEvent{
		Type:      typ,
		Source:    eventqueue.SourceRemote,
		Path:      relPath,
		Timestamp: time.Now(),
	})
}
