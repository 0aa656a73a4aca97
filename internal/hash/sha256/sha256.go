// Package sha256 provides SHA-256 content digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// MetadataKey is the object metadata key under which snapshot digests are stored.
const MetadataKey = "content-sha256"

// Hasher implements boxoffice.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
