package testutil

import (
	"crypto/sha256"
	"encoding/hex"

	"dupscan/internal/dupscan"
)

// SHA256Hex returns the SHA-256 checksum of data as a lowercase hex string,
// the form digests take in snapshot documents.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// DigestOf returns the content digest a FileRecord holding data would compute.
func DigestOf(data []byte) dupscan.Digest {
	return dupscan.Digest(sha256.Sum256(data))
}
