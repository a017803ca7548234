// Package storage selects where finished artifacts are mirrored.
// This abstraction keeps the job service independent of a specific backend
// (Google Cloud Storage, the local filesystem or memory).
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/JakeFAU/docgen-gateway/internal/config"
	"github.com/JakeFAU/docgen-gateway/internal/storage/gcs"
	"github.com/JakeFAU/docgen-gateway/internal/storage/local"
	"github.com/JakeFAU/docgen-gateway/internal/storage/memory"
)

// BlobStore is the common interface of every backend.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the backend named by cfg.Backend. It returns a nil BlobStore
// when mirroring is disabled. The returned closer is always non-nil.
func New(ctx context.Context, cfg config.StorageConfig) (BlobStore, io.Closer, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nopCloser{}, nil
	case "memory":
		return memory.NewBlobStore(), nopCloser{}, nil
	case "local":
		s, err := local.New(cfg.Local)
		if err != nil {
			return nil, nil, fmt.Errorf("local blob store: %w", err)
		}
		return s, nopCloser{}, nil
	case "gcs":
		s, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
