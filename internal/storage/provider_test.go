package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docgen-gateway/internal/config"
	"github.com/JakeFAU/docgen-gateway/internal/storage"
	"github.com/JakeFAU/docgen-gateway/internal/storage/local"
	"github.com/JakeFAU/docgen-gateway/internal/storage/memory"
)

func TestNewDisabled(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{"", "none"} {
		s, closer, err := storage.New(context.Background(), config.StorageConfig{Backend: backend})
		require.NoError(t, err)
		assert.Nil(t, s)
		assert.NoError(t, closer.Close())
	}
}

func TestNewMemory(t *testing.T) {
	t.Parallel()

	s, closer, err := storage.New(context.Background(), config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.BlobStore{}, s)
	assert.NoError(t, closer.Close())
}

func TestNewLocal(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "mirror")
	s, _, err := storage.New(context.Background(), config.StorageConfig{
		Backend: "local",
		Local:   local.Config{BaseDir: dir},
	})
	require.NoError(t, err)
	assert.IsType(t, &local.BlobStore{}, s)

	_, _, err = storage.New(context.Background(), config.StorageConfig{Backend: "local"})
	require.Error(t, err)
}

func TestNewUnknown(t *testing.T) {
	t.Parallel()

	_, _, err := storage.New(context.Background(), config.StorageConfig{Backend: "s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3")
}
