package dupscan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// DefaultChunkSize is the read size used when streaming files through the hasher.
const DefaultChunkSize = 1 << 20

// Digest is the SHA-256 of a file's full content.
type Digest [sha256.Size]byte

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest decodes a 64-character hex string.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(len(d)) {
		return d, fmt.Errorf("digest must be %d hex characters, got %d", hex.EncodedLen(len(d)), len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("decoding digest: %w", err)
	}
	return d, nil
}

// hashReader streams r through SHA-256 in chunkSize reads, checking ctx between chunks.
func hashReader(ctx context.Context, r io.Reader, chunkSize int) (Digest, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	h := sha256.New()
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return Digest{}, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Digest{}, err
		}
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// HashFile computes the digest of the file at path without building a record.
func HashFile(ctx context.Context, fsmgr FilesystemManager, path string, chunkSize int) (Digest, error) {
	f, err := fsmgr.Open(path)
	if err != nil {
		return Digest{}, entryError(ErrIO, "open", path, err)
	}
	defer f.Close()

	d, err := hashReader(ctx, f, chunkSize)
	if err != nil {
		return Digest{}, entryError(ErrIO, "hash", path, err)
	}
	return d, nil
}
