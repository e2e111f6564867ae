package vaultsync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// hashBytes returns the hex-encoded SHA-256 digest of data.
func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hashReader streams r through SHA-256 without holding the whole file beyond
// the caller's own buffer. Used when hashing local files directly from disk
// rather than from an already-loaded byte slice.
func hashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("vaultsync: hash stream: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
