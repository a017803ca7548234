package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a testify mock of BlobStore.
type MockBlobStore struct {
	mock.Mock
}

// PutObject records the call. The reader is drained so callers observe the
// same side effects as with a real backend.
func (m *MockBlobStore) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, data)
	args := m.Called(ctx, path, contentType)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
