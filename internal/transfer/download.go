package transfer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/syncagent/engine/internal/cryptoprim"
	"github.com/syncagent/engine/internal/errtypes"
	"github.com/syncagent/engine/internal/remote"
	"github.com/syncagent/engine/internal/retry"
)

// DownloadResult mirrors the original's DownloadResult dataclass.
type DownloadResult struct {
	Path      string
	LocalPath string
	Size      int64
	Version   int64
}

// Downloader fetches server files to local disk via a temp-file-then-rename
// sequence (spec §4.12 "Download").
type Downloader struct {
	client *remote.Client
	key    [cryptoprim.KeySize]byte
	probe  retry.HealthProbe
	obs    retry.Observer
}

// NewDownloader builds a Downloader.
func NewDownloader(client *remote.Client, key [cryptoprim.KeySize]byte, probe retry.HealthProbe, obs retry.Observer) *Downloader {
	return &Downloader{client: client, key: key, probe: probe, obs: obs}
}

// Download fetches serverRec's chunks, decrypts, and assembles them at
// localPath via a sibling ".tmp" file and an atomic rename.
func (d *Downloader) Download(ctx context.Context, serverRec *remote.FileRecord, localPath string, progress ProgressFunc, cancel CancelFunc) (*DownloadResult, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, errtypes.Wrap(errtypes.KindFatal, serverRec.Path, err)
	}

	chunkHashes := serverRec.ChunkHashes
	if len(chunkHashes) == 0 {
		hashes, err := d.client.GetChunkHashes(ctx, serverRec.Path)
		if err != nil {
			return nil, err
		}

		chunkHashes = hashes
	}

	tmpPath := localPath + ".tmp"

	if err := d.writeChunks(ctx, serverRec, tmpPath, chunkHashes, progress, cancel); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	if _, err := os.Stat(localPath); err == nil {
		if err := os.Remove(localPath); err != nil {
			os.Remove(tmpPath)
			return nil, errtypes.Wrap(errtypes.KindFatal, serverRec.Path, err)
		}
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return nil, errtypes.Wrap(errtypes.KindFatal, serverRec.Path, err)
	}

	return &DownloadResult{
		Path:      serverRec.Path,
		LocalPath: localPath,
		Size:      serverRec.Size,
		Version:   serverRec.ServerVersion,
	}, nil
}

func (d *Downloader) writeChunks(ctx context.Context, serverRec *remote.FileRecord, tmpPath string, chunkHashes []string, progress ProgressFunc, cancel CancelFunc) error {
	f, err := os.Create(tmpPath)
	if err != nil {
		return errtypes.Wrap(errtypes.KindFatal, serverRec.Path, err)
	}
	defer f.Close()

	var bytesTransferred int64

	for i, hash := range chunkHashes {
		if isCancelled(cancel) {
			return cancelledError(serverRec.Path, "download")
		}

		plaintext, err := d.fetchChunk(ctx, hash)
		if err != nil {
			return err
		}

		if _, err := f.Write(plaintext); err != nil {
			return errtypes.Wrap(errtypes.KindFatal, serverRec.Path, err)
		}

		bytesTransferred += int64(len(plaintext))

		if progress != nil {
			progress(Progress{
				Path:             serverRec.Path,
				Operation:        "download",
				FileSize:         serverRec.Size,
				CurrentChunk:     i + 1,
				TotalChunks:      len(chunkHashes),
				BytesTransferred: bytesTransferred,
			})
		}
	}

	return nil
}

// fetchChunk downloads and decrypts one chunk under network-wait retry. A
// decryption failure (tampering or wrong key) is fatal and never retried
// (spec §4.12 "BadKeyOrTampered is fatal").
func (d *Downloader) fetchChunk(ctx context.Context, hash string) ([]byte, error) {
	var ciphertext []byte

	cfg := retry.DefaultNetworkWaitConfig()

	err := retry.NetworkWait(ctx, func() error {
		data, err := d.client.GetChunk(ctx, hash)
		if err != nil {
			return err
		}

		ciphertext = data

		return nil
	}, d.probe, cfg, d.obs)
	if err != nil {
		return nil, err
	}

	plaintext, err := cryptoprim.Decrypt(ciphertext, d.key)
	if err != nil {
		return nil, errtypes.Wrap(errtypes.KindIntegrity, hash, err)
	}

	return plaintext, nil
}
