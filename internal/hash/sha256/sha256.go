// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Digest is an io.Writer that accumulates a SHA-256 sum of everything
// written to it.
type Digest struct {
	h hash.Hash
}

// NewDigest returns an empty Digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write feeds p into the running sum. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p) //nolint:wrapcheck // hash.Hash.Write never returns an error
}

// Hex returns the hex-encoded sum of the bytes written so far.
func (d *Digest) Hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Sum hashes data in one shot and returns a hex digest.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
