// Package conflict implements the "server wins, local preserved" resolution
// policy (spec §4.14). When a local upload loses a version race, the local
// file is renamed to a timestamped conflict copy and the server's version is
// downloaded over the original path, so neither side's edit is lost.
// Grounded in the original implementation's conflict.py
// (generate_conflict_filename) and domain/conflicts.py (ConflictOutcome),
// and in the teacher's internal/sync/conflict.go (generateConflictPath,
// ConflictHandler.resolveKeepBothDownload) for the rename-then-download
// shape and dotfile-safe stem/extension split.
package conflict

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/syncagent/engine/internal/cryptoprim"
	"github.com/syncagent/engine/internal/errtypes"
	"github.com/syncagent/engine/internal/remote"
	"github.com/syncagent/engine/internal/state"
	"github.com/syncagent/engine/internal/transfer"
)

// maxConflictSuffix bounds the numeric collision-avoidance suffix tried when
// a conflict path already exists.
const maxConflictSuffix = 1000

// Outcome is the result of conflict detection/resolution (spec §4.14).
type Outcome int

const (
	NoConflict Outcome = iota
	AlreadySynced
	Resolved
	RetryNeeded
	Abort
)

func (o Outcome) String() string {
	switch o {
	case NoConflict:
		return "NO_CONFLICT"
	case AlreadySynced:
		return "ALREADY_SYNCED"
	case Resolved:
		return "RESOLVED"
	case RetryNeeded:
		return "RETRY_NEEDED"
	case Abort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Resolver resolves upload/version conflicts detected against the server.
type Resolver struct {
	downloader  *transfer.Downloader
	store       *state.Store
	machineName string
}

// NewResolver builds a Resolver. machineName is used in generated conflict
// filenames (spec §4.14 "<stem>.conflict-YYYYMMDD-HHMMSS-<machine>.<ext>").
func NewResolver(downloader *transfer.Downloader, store *state.Store, machineName string) *Resolver {
	return &Resolver{
		downloader:  downloader,
		store:       store,
		machineName: machineName,
	}
}

// Resolve implements the server-wins-local-preserved policy for a local file
// at localPath (synced path relPath) that lost a version race against
// serverRec. It returns AlreadySynced without touching the filesystem if the
// local content already matches the server's, Resolved after renaming the
// local file aside and downloading the server version over the original
// path, RetryNeeded if the local file changed again during resolution (a
// race the caller should retry), or an error on unrecoverable failure.
func (r *Resolver) Resolve(ctx context.Context, relPath, localPath string, serverRec *remote.FileRecord) (Outcome, error) {
	beforeInfo, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return r.downloadOver(ctx, relPath, localPath, serverRec)
		}

		return Abort, errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	localHash, err := fileContentHash(localPath)
	if err != nil {
		return Abort, errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	if localHash == serverRec.ContentHash {
		return AlreadySynced, nil
	}

	conflictPath := generateConflictPath(localPath, r.machineName)

	if err := checkUnchanged(localPath, beforeInfo); err != nil {
		return RetryNeeded, nil
	}

	if err := os.Rename(localPath, conflictPath); err != nil {
		return Abort, errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	return r.downloadOver(ctx, relPath, localPath, serverRec)
}

// downloadOver fetches the server's version over localPath and records its
// version/content hash in the state store on success.
func (r *Resolver) downloadOver(ctx context.Context, relPath, localPath string, serverRec *remote.FileRecord) (Outcome, error) {
	if _, err := r.downloader.Download(ctx, serverRec, localPath, nil, nil); err != nil {
		return Abort, err
	}

	if r.store != nil {
		_ = r.store.UpsertFileRecord(ctx, &state.FileRecord{
			Path:          relPath,
			Size:          serverRec.Size,
			ContentHash:   serverRec.ContentHash,
			ServerVersion: serverRec.ServerVersion,
			ChunkHashes:   serverRec.ChunkHashes,
			UpdatedAt:     time.Now(),
		})
	}

	return Resolved, nil
}

// checkUnchanged returns an error if localPath's mtime or size has moved on
// from before, meaning the file was touched again during resolution.
func checkUnchanged(localPath string, before os.FileInfo) error {
	after, err := os.Stat(localPath)
	if err != nil {
		return err
	}

	if after.ModTime() != before.ModTime() || after.Size() != before.Size() {
		return fmt.Errorf("conflict: %s changed during resolution", localPath)
	}

	return nil
}

func fileContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return cryptoprim.HashReader(f)
}

// generateConflictPath builds "<stem>.conflict-<timestamp>-<machine><ext>",
// avoiding collisions with a numeric suffix. Dotfiles whose only dot is the
// leading one (".bashrc") are treated as having an empty extension so the
// suffix is appended to the full name rather than splitting on that dot.
func generateConflictPath(originalPath, machineName string) string {
	stem, ext := conflictStemExt(originalPath)
	ts := time.Now().UTC().Format("20060102-150405")

	base := fmt.Sprintf("%s.conflict-%s-%s%s", stem, ts, machineName, ext)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base
	}

	for i := 1; i <= maxConflictSuffix; i++ {
		candidate := fmt.Sprintf("%s.conflict-%s-%s-%d%s", stem, ts, machineName, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}

	return base
}

func conflictStemExt(originalPath string) (stem, ext string) {
	base := filepath.Base(originalPath)
	dir := originalPath[:len(originalPath)-len(base)]

	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return dir + base, ""
	}

	ext = filepath.Ext(base)
	stem = dir + base[:len(base)-len(ext)]

	return stem, ext
}
