// Package sha256 includes tests for the SHA-256 helpers.
package sha256

import (
	"io"
	"strings"
	"testing"
)

const helloWorld = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestSum(t *testing.T) {
	t.Parallel()

	if got := Sum([]byte("hello world")); got != helloWorld {
		t.Fatalf("expected %s, got %s", helloWorld, got)
	}
}

// TestDigestStreaming ensures chunked writes produce the one-shot digest.
func TestDigestStreaming(t *testing.T) {
	t.Parallel()

	d := NewDigest()
	if _, err := io.Copy(d, strings.NewReader("hello world")); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if got := d.Hex(); got != helloWorld {
		t.Fatalf("expected %s, got %s", helloWorld, got)
	}
}
