// Package chunker implements deterministic content-defined chunking (CDC) on
// top of github.com/restic/chunker's Rabin-fingerprint rolling hash, grounded
// in the pack's own FastCDC wrapper (other_examples/...FairForge-vaultaire__
// internal-crypto-chunker.go.go). Boundaries are chosen so that identical
// input bytes always produce identical chunks, and a localized edit only
// perturbs chunks near the edit (spec §4.2, §8 properties 2-4).
package chunker

import (
	"bytes"
	"fmt"
	"io"
	"os"

	resticchunker "github.com/restic/chunker"

	"github.com/syncagent/engine/internal/cryptoprim"
)

// Size bounds for chunk boundaries (spec §3, §6): min 1 MiB, max 8 MiB,
// target average 4 MiB.
const (
	MinSize = 1 << 20 // 1 MiB
	MaxSize = 8 << 20 // 8 MiB

	// averageBits sets the expected distance between cut points to
	// 2^22 bytes (4 MiB); restic/chunker's own default is 20 bits.
	averageBits = 22
)

// fixedPolynomial is a constant irreducible polynomial used for the rolling
// hash. Unlike resticchunker.RandomPolynomial(), this value never changes
// across processes or machines — determinism (spec §8 property 2) requires
// every client to cut the same file at the same offsets, so the polynomial
// cannot be randomized per run.
const fixedPolynomial resticchunker.Pol = 0x3DA3358B4DC173

// Info describes one chunk produced by chunking a stream.
type Info struct {
	Index  int
	Offset int64
	Data   []byte
	Hash   string // hex-encoded SHA-256 of Data
}

// Chunk splits r into content-defined chunks. Returns an empty, non-nil
// slice for empty input (spec §4.2 "For empty input the output is empty").
func Chunk(r io.Reader) ([]Info, error) {
	c := resticchunker.NewWithBoundaries(r, fixedPolynomial, MinSize, MaxSize)
	c.SetAverageBits(averageBits)

	buf := make([]byte, MaxSize)

	var (
		chunks []Info
		index  int
		offset int64
	)

	for {
		ch, err := c.Next(buf)
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("chunker: reading chunk %d at offset %d: %w", index, offset, err)
		}

		data := make([]byte, ch.Length)
		copy(data, ch.Data)

		chunks = append(chunks, Info{
			Index:  index,
			Offset: offset,
			Data:   data,
			Hash:   cryptoprim.HashHex(data),
		})

		offset += int64(ch.Length)
		index++
	}

	if chunks == nil {
		chunks = []Info{}
	}

	return chunks, nil
}

// ChunkBytes is a convenience wrapper for in-memory byte slices, used by
// property tests (spec §8 properties 2-4).
func ChunkBytes(data []byte) ([]Info, error) {
	return Chunk(bytes.NewReader(data))
}

// ChunkFile chunks the file at path, which must exist and be readable.
func ChunkFile(path string) ([]Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: opening %s: %w", path, err)
	}
	defer f.Close()

	return Chunk(f)
}

// Hashes extracts the ordered hash list from a chunk slice, the form stored
// as Item.ChunkHashes / transmitted as the `chunks[]` wire field (spec §6).
func Hashes(chunks []Info) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Hash
	}

	return out
}

// Reassemble concatenates the plaintext of each chunk, verifying the
// File record invariant from spec §3 ("the concatenation of the plaintexts
// ... equals the file").
func Reassemble(chunks []Info) []byte {
	var total int
	for _, c := range chunks {
		total += len(c.Data)
	}

	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Data...)
	}

	return out
}
