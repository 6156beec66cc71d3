// Package transfer implements the upload, download, and delete primitives
// (spec §4.12): chunking/encryption/dedup for uploads, fetch/decrypt/atomic-
// rename for downloads, and local-vs-remote-originated delete semantics.
// Grounded in the original implementation's upload.py/download.py
// (FileUploader/FileDownloader), translated from exception-based control
// flow (UploadError/DownloadError) to explicit *errtypes.SyncError returns.
package transfer

import (
	"fmt"

	"github.com/syncagent/engine/internal/errtypes"
)

// Progress reports a transfer's position, mirroring the original's
// SyncProgress dataclass (file_path, file_size, current_chunk, total_chunks,
// bytes_transferred, operation).
type Progress struct {
	Path             string
	Operation        string // "upload" or "download"
	FileSize         int64
	CurrentChunk     int
	TotalChunks      int
	BytesTransferred int64
}

// ProgressFunc receives Progress updates; nil is permitted and means no
// reporting.
type ProgressFunc func(Progress)

// CancelFunc reports whether the caller has requested cancellation. It is
// polled between atomic units of work (spec §5 "Cancellation... checked
// between atomic units: before each chunk transfer, before each network
// call, before finalization").
type CancelFunc func() bool

func isCancelled(cancel CancelFunc) bool {
	return cancel != nil && cancel()
}

func cancelledError(path, op string) error {
	return errtypes.New(errtypes.KindCancelled, path, fmt.Sprintf("%s cancelled", op))
}
