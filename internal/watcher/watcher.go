// Package watcher observes the local sync root for filesystem changes and
// delivers a debounced, coalesced stream of FileChange events (spec §4.6).
// It is grounded in the teacher's internal/sync/observer_local.go: the
// FsWatcher interface and fsnotifyWrapper are adapted almost verbatim, while
// the baseline-diff full-scan logic is replaced by a per-path debounce timer
// that is reset on every event and fires after the quiet delay.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a FileChange (spec §4.6).
type Kind int

const (
	Created Kind = iota
	Modified
	Deleted
	Moved
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// FileChange is the event delivered to the watch callback (spec §4.6).
type FileChange struct {
	Path        string
	Kind        Kind
	IsDirectory bool
	Timestamp   time.Time
	DestPath    string // never populated: a rename is reported as Moved on the old path only
}

// NosyncFileName guards against syncing a directory that may not actually be
// mounted (spec's ambient guard-file convention, grounded in the teacher's
// ErrNosyncGuard / nosyncFileName in observer_local.go).
const NosyncFileName = ".nosync"

// ErrNosyncGuard is returned when the guard file is present in the sync root.
var ErrNosyncGuard = errors.New("watcher: .nosync guard file present, sync root may not be mounted")

// IgnoreChecker decides whether a relative path should be excluded from the
// event stream, satisfied by *ignore.Matcher.
type IgnoreChecker interface {
	Ignored(relPath string, isSymlink bool) bool
}

// FsWatcher abstracts filesystem event monitoring, satisfied by
// *fsnotify.Watcher; tests inject a fake.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error      { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// Watcher monitors syncRoot and emits one debounced FileChange per path as
// that path settles; changes are not grouped into batches.
type Watcher struct {
	syncRoot string
	ignore   IgnoreChecker
	logger   *slog.Logger

	coalesceWindow time.Duration
	quietDelay     time.Duration

	watcherFactory func() (FsWatcher, error)
}

// New builds a Watcher (defaults 250ms / 3s, per internal/config). Only
// quietDelay drives the debounce; coalesceWindow is stored but not read,
// since the quiet-delay timer already merges events that arrive closer
// together than the coalesce window.
func New(syncRoot string, ignore IgnoreChecker, coalesceWindow, quietDelay time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		syncRoot:       syncRoot,
		ignore:         ignore,
		logger:         logger,
		coalesceWindow: coalesceWindow,
		quietDelay:     quietDelay,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// pending tracks the most-recently-seen event for one path while it is
// inside its quiet-delay window.
type pending struct {
	change FileChange
	timer  *time.Timer
}

// Watch blocks until ctx is canceled, calling emit once per debounced
// change. The callback runs on the goroutine of that path's quiet-delay
// timer and must not block for long (spec §4.6 concurrency note).
func (w *Watcher) Watch(ctx context.Context, emit func(FileChange)) error {
	if _, err := os.Stat(filepath.Join(w.syncRoot, NosyncFileName)); err == nil {
		return ErrNosyncGuard
	}

	fw, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("watcher: creating filesystem watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addWatchesRecursive(fw); err != nil {
		return fmt.Errorf("watcher: adding initial watches: %w", err)
	}

	return w.loop(ctx, fw, emit)
}

func (w *Watcher) addWatchesRecursive(fw FsWatcher) error {
	return filepath.WalkDir(w.syncRoot, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("walk error during watch setup", "path", fsPath, "error", walkErr)
			return skipEntry(d)
		}

		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(w.syncRoot, fsPath)
		if relErr == nil && rel != "." && w.ignore.Ignored(filepath.ToSlash(rel), false) {
			return filepath.SkipDir
		}

		if addErr := fw.Add(fsPath); addErr != nil {
			w.logger.Warn("failed to add watch", "path", fsPath, "error", addErr)
		}

		return nil
	})
}

func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}

// loop pulls raw fsnotify events, applies the coalesce-then-quiet-delay
// debounce, and emits a FileChange per path once it settles.
func (w *Watcher) loop(ctx context.Context, fw FsWatcher, emit func(FileChange)) error {
	var mu sync.Mutex

	pendingByPath := make(map[string]*pending)

	fire := func(path string) {
		mu.Lock()
		p, ok := pendingByPath[path]
		if ok {
			delete(pendingByPath, path)
		}
		mu.Unlock()

		if ok {
			emit(p.change)
		}
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, p := range pendingByPath {
				p.timer.Stop()
			}
			mu.Unlock()

			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handleRawEvent(fw, ev, &mu, pendingByPath, fire)

		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleRawEvent(fw FsWatcher, ev fsnotify.Event, mu *sync.Mutex, pendingByPath map[string]*pending, fire func(string)) {
	rel, err := filepath.Rel(w.syncRoot, ev.Name)
	if err != nil {
		return
	}

	rel = filepath.ToSlash(rel)

	info, statErr := os.Lstat(ev.Name)
	isSymlink := statErr == nil && info.Mode()&os.ModeSymlink != 0

	if w.ignore.Ignored(rel, isSymlink) {
		return
	}

	kind, ok := classify(ev)
	if !ok {
		return
	}

	isDir := statErr == nil && info.IsDir()

	if kind == Created && isDir {
		if addErr := fw.Add(ev.Name); addErr != nil {
			w.logger.Warn("failed to add watch for new directory", "path", ev.Name, "error", addErr)
		}
	}

	change := FileChange{
		Path:        rel,
		Kind:        kind,
		IsDirectory: isDir,
		Timestamp:   time.Now(),
	}

	w.scheduleDebounced(mu, pendingByPath, rel, change, fire)
}

// scheduleDebounced implements the debounce: events for the same path are
// merged (keeping the latest kind) as long as that path's quiet-delay timer
// has not fired, and the timer is reset on every event so emission happens
// quietDelay after the *last* event for the path, not the first.
func (w *Watcher) scheduleDebounced(mu *sync.Mutex, pendingByPath map[string]*pending, path string, change FileChange, fire func(string)) {
	mu.Lock()
	defer mu.Unlock()

	if p, ok := pendingByPath[path]; ok {
		p.change = change
		p.timer.Stop()
		p.timer = time.AfterFunc(w.quietDelay, func() { fire(path) })

		return
	}

	pendingByPath[path] = &pending{
		change: change,
		timer:  time.AfterFunc(w.quietDelay, func() { fire(path) }),
	}
}

func classify(ev fsnotify.Event) (Kind, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return Created, true
	case ev.Has(fsnotify.Write):
		return Modified, true
	case ev.Has(fsnotify.Remove):
		return Deleted, true
	case ev.Has(fsnotify.Rename):
		return Moved, true
	case ev.Has(fsnotify.Chmod):
		return Kind(0), false
	default:
		return Kind(0), false
	}
}
