// Package staging persists uploaded inputs under a private directory before
// they are handed to the worker.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/docgen-gateway/internal/apperrors"
	"github.com/JakeFAU/docgen-gateway/internal/hash/sha256"
)

// IDGenerator produces the identity used to name a staged file.
type IDGenerator interface {
	NewID() (string, error)
}

// Staged describes one staged upload.
type Staged struct {
	ID        string
	Path      string
	Extension string
	Size      int64
	SHA256    string
}

// Store writes uploads into Dir as {id}{ext}.
type Store struct {
	dir   string
	idGen IDGenerator
}

// New creates the staging directory if needed and checks that it is writable.
func New(dir string, idGen IDGenerator) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("staging directory is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if err := ensureWritableDir(dir); err != nil {
		return nil, err
	}
	return &Store{dir: dir, idGen: idGen}, nil
}

// Dir returns the staging directory.
func (s *Store) Dir() string {
	return s.dir
}

// Extension returns the lower-cased extension of an uploaded filename,
// including the dot, or "" when it has none. Leading dots belong to the
// name, so ".pdf" has no extension.
func Extension(originalName string) string {
	// Browsers on Windows may send a full path.
	base := filepath.Base(strings.ReplaceAll(originalName, `\`, "/"))
	return strings.ToLower(filepath.Ext(strings.TrimLeft(base, ".")))
}

// Stage copies content to a freshly named file and returns once every byte
// is on disk. Any failure removes the partial file and is reported as an
// internal error.
func (s *Store) Stage(ctx context.Context, originalName string, content io.Reader) (Staged, error) {
	if err := ctx.Err(); err != nil {
		return Staged{}, apperrors.Internal("staging.stage", err)
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return Staged{}, apperrors.Internal("staging.id", err)
	}
	ext := Extension(originalName)
	path := filepath.Join(s.dir, id+ext)

	// #nosec G304 -- path is built from a generated id inside the staging dir.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Staged{}, apperrors.Internal("staging.create", err)
	}

	digest := sha256.NewDigest()
	n, copyErr := io.Copy(io.MultiWriter(f, digest), content)
	if copyErr == nil {
		copyErr = f.Sync()
	}
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return Staged{}, apperrors.Internal("staging.write", err)
	}

	return Staged{
		ID:        id,
		Path:      path,
		Extension: ext,
		Size:      n,
		SHA256:    digest.Hex(),
	}, nil
}

// Remove deletes a staged file. Removing a file that is already gone is not
// an error. Paths outside the staging directory are refused.
func (s *Store) Remove(path string) error {
	clean := filepath.Clean(path)
	if filepath.Dir(clean) != filepath.Clean(s.dir) {
		return fmt.Errorf("refusing to remove %q outside staging dir", path)
	}
	if err := os.Remove(clean); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged input: %w", err)
	}
	return nil
}

func ensureWritableDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("failed to create staging directory: %w", mkErr)
		}
	case err != nil:
		return fmt.Errorf("failed to stat staging directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("staging path %q is not a directory", dir)
	}

	probe, err := os.CreateTemp(dir, ".writable_*")
	if err != nil {
		return fmt.Errorf("staging directory is not writable: %w", err)
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return fmt.Errorf("close probe file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("failed to clean up probe file: %w", err)
	}
	return nil
}
