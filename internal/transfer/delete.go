package transfer

import (
	"context"
	"errors"
	"os"

	"github.com/syncagent/engine/internal/errtypes"
	"github.com/syncagent/engine/internal/remote"
)

// DeleteLocal removes the server-side metadata for relPath (spec §4.12
// "For local-originated deletions: DELETE the server metadata, mark path
// untracked in state"). Marking state untracked is the caller's
// responsibility, mirroring Upload/Download leaving state bookkeeping to
// the coordinator.
func DeleteLocal(ctx context.Context, client *remote.Client, relPath string) error {
	return client.DeleteFile(ctx, relPath)
}

// DeleteRemote removes the local file or empty directory at localPath, if
// present (spec §4.12 "For remote-originated deletions: remove the local
// file... if present"). A missing file is success.
func DeleteRemote(localPath string) error {
	err := os.Remove(localPath)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return errtypes.Wrap(errtypes.KindFatal, localPath, err)
}
