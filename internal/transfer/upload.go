package transfer

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/syncagent/engine/internal/chunker"
	"github.com/syncagent/engine/internal/cryptoprim"
	"github.com/syncagent/engine/internal/errtypes"
	"github.com/syncagent/engine/internal/remote"
	"github.com/syncagent/engine/internal/retry"
	"github.com/syncagent/engine/internal/state"
)

// UploadResult mirrors the original's UploadResult dataclass.
type UploadResult struct {
	Path          string
	ServerFileID  int64
	ServerVersion int64
	ChunkHashes   []string
	Size          int64
	ContentHash   string
}

// Uploader uploads local files to the relay server, resuming partial
// uploads via the state store's upload_progress table (spec §4.12 "Upload").
type Uploader struct {
	client *remote.Client
	store  *state.Store
	key    [cryptoprim.KeySize]byte
	probe  retry.HealthProbe
	obs    retry.Observer
}

// NewUploader builds an Uploader. probe and obs drive the network-wait retry
// used for each chunk PUT; obs may be the zero value for no observation.
func NewUploader(client *remote.Client, store *state.Store, key [cryptoprim.KeySize]byte, probe retry.HealthProbe, obs retry.Observer) *Uploader {
	return &Uploader{client: client, store: store, key: key, probe: probe, obs: obs}
}

// Upload chunks, encrypts, and uploads localPath to relPath, resuming any
// matching in-flight upload record. parentVersion is nil for new files.
func (u *Uploader) Upload(ctx context.Context, localPath, relPath string, parentVersion *int64, progress ProgressFunc, cancel CancelFunc) (*UploadResult, error) {
	chunks, err := chunker.ChunkFile(localPath)
	if err != nil {
		return nil, errtypes.Wrap(errtypes.KindIntegrity, relPath, err)
	}

	chunkHashes := chunker.Hashes(chunks)

	contentHash, err := fileContentHash(localPath)
	if err != nil {
		return nil, errtypes.Wrap(errtypes.KindIntegrity, relPath, err)
	}

	var size int64
	for _, c := range chunks {
		size += int64(len(c.Data))
	}

	uploaded, err := u.resumeState(ctx, relPath, chunkHashes)
	if err != nil {
		return nil, err
	}

	var bytesTransferred int64

	for i, c := range chunks {
		if isCancelled(cancel) {
			return nil, cancelledError(relPath, "upload")
		}

		if !uploaded[c.Hash] {
			if err := u.uploadChunk(ctx, c.Hash, c.Data); err != nil {
				return nil, err
			}

			uploaded[c.Hash] = true

			if err := u.saveProgress(ctx, relPath, chunkHashes, uploaded); err != nil {
				return nil, err
			}
		}

		bytesTransferred += int64(len(c.Data))

		if progress != nil {
			progress(Progress{
				Path:             relPath,
				Operation:        "upload",
				FileSize:         size,
				CurrentChunk:     i + 1,
				TotalChunks:      len(chunks),
				BytesTransferred: bytesTransferred,
			})
		}
	}

	if isCancelled(cancel) {
		return nil, cancelledError(relPath, "upload")
	}

	rec, err := u.commitMetadata(ctx, relPath, size, contentHash, chunkHashes, parentVersion)
	if err != nil {
		return nil, err
	}

	if err := u.store.DeleteUploadProgress(ctx, relPath); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	return &UploadResult{
		Path:          relPath,
		ServerFileID:  0,
		ServerVersion: rec.ServerVersion,
		ChunkHashes:   chunkHashes,
		Size:          size,
		ContentHash:   contentHash,
	}, nil
}

// resumeState loads any existing upload_progress record for relPath. If its
// chunk list matches the file's current chunk_hashes, the already-uploaded
// set is returned; otherwise the stale record is cleared and a fresh one
// started (spec §4.12 step 2).
func (u *Uploader) resumeState(ctx context.Context, relPath string, chunkHashes []string) (map[string]bool, error) {
	uploaded := make(map[string]bool)

	prior, err := u.store.GetUploadProgress(ctx, relPath)
	if errors.Is(err, state.ErrNotFound) {
		if saveErr := u.saveProgress(ctx, relPath, chunkHashes, uploaded); saveErr != nil {
			return nil, saveErr
		}

		return uploaded, nil
	}

	if err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	if sameHashes(prior.ChunkHashes, chunkHashes) {
		for _, h := range prior.UploadedHashes {
			uploaded[h] = true
		}

		return uploaded, nil
	}

	if err := u.store.DeleteUploadProgress(ctx, relPath); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	if err := u.saveProgress(ctx, relPath, chunkHashes, uploaded); err != nil {
		return nil, err
	}

	return uploaded, nil
}

func (u *Uploader) saveProgress(ctx context.Context, relPath string, chunkHashes []string, uploaded map[string]bool) error {
	now := time.Now().UTC()

	uploadedList := make([]string, 0, len(uploaded))
	for h := range uploaded {
		uploadedList = append(uploadedList, h)
	}

	p := &state.UploadProgress{
		Path:           relPath,
		ChunkHashes:    chunkHashes,
		UploadedHashes: uploadedList,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := u.store.SaveUploadProgress(ctx, p); err != nil {
		return errtypes.Wrap(errtypes.KindFatal, relPath, err)
	}

	return nil
}

// uploadChunk deduplicates against the server's chunk store, then encrypts
// and PUTs the chunk under network-wait retry (spec §4.12 step 3).
func (u *Uploader) uploadChunk(ctx context.Context, hash string, plaintext []byte) error {
	exists, err := u.client.HasChunk(ctx, hash)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	ciphertext, err := cryptoprim.Encrypt(plaintext, u.key)
	if err != nil {
		return errtypes.Wrap(errtypes.KindFatal, hash, err)
	}

	cfg := retry.DefaultNetworkWaitConfig()

	return retry.NetworkWait(ctx, func() error {
		return u.client.PutChunk(ctx, hash, ciphertext)
	}, u.probe, cfg, u.obs)
}

// commitMetadata creates or updates the server's file metadata depending on
// whether parentVersion is set (spec §4.12 step 4).
func (u *Uploader) commitMetadata(ctx context.Context, relPath string, size int64, contentHash string, chunkHashes []string, parentVersion *int64) (*remote.FileRecord, error) {
	if parentVersion == nil {
		return u.client.CreateFile(ctx, remote.CreateFileRequest{
			Path:        relPath,
			Size:        size,
			ContentHash: contentHash,
			Chunks:      chunkHashes,
		})
	}

	return u.client.UpdateFile(ctx, relPath, remote.UpdateFileRequest{
		Size:          size,
		ContentHash:   contentHash,
		ParentVersion: *parentVersion,
		Chunks:        chunkHashes,
	})
}

func sameHashes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func fileContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return cryptoprim.HashReader(f)
}
