// Package download serves generated artifacts out of the output directory.
//
// Callers supply a name taken from a download URL. Only the final path
// component is honored, so a request can never reach outside the output
// directory regardless of how the name is encoded.
package download

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/docgen-gateway/internal/apperrors"
)

const defaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".pdf":  "application/pdf",
	".csv":  "text/csv; charset=utf-8",
}

// File is an artifact that exists on disk and may be served.
type File struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// ContentType returns the MIME type announced for the file.
func (f File) ContentType() string {
	return ContentTypeFor(f.Name)
}

// ContentTypeFor maps a file name to a MIME type by extension.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}

// Gateway resolves download names against a fixed root directory.
type Gateway struct {
	root string
}

// New returns a Gateway rooted at dir.
func New(dir string) (*Gateway, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("download root is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve download root: %w", err)
	}
	return &Gateway{root: abs}, nil
}

// Root returns the absolute output directory.
func (g *Gateway) Root() string {
	return g.root
}

// BaseName percent-decodes raw and strips every directory component,
// treating both slash and backslash as separators.
func BaseName(raw string) (string, error) {
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("decode %q: %w", raw, err)
	}
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name, nil
}

// Fetch locates the artifact named by raw.
func (g *Gateway) Fetch(raw string) (File, error) {
	name, err := BaseName(raw)
	if err != nil {
		return File{}, apperrors.NotFound("file", raw)
	}
	switch name {
	case "", ".", "..":
		return File{}, apperrors.NotFound("file", raw)
	}

	full := filepath.Join(g.root, name)
	rel, err := filepath.Rel(g.root, full)
	if err != nil || rel != name {
		return File{}, apperrors.NotFound("file", name)
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, apperrors.NotFound("file", name)
		}
		return File{}, apperrors.Internal("download.stat", err)
	}
	if !info.Mode().IsRegular() {
		return File{}, apperrors.NotFound("file", name)
	}
	return File{Name: name, Path: full, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Serve writes f to w as an attachment. Range and conditional requests are
// handled by http.ServeContent.
func Serve(w http.ResponseWriter, r *http.Request, f File) error {
	// #nosec G304 -- f.Path was produced by Fetch and stays under the root.
	fh, err := os.Open(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.NotFound("file", f.Name)
		}
		return apperrors.Internal("download.open", err)
	}
	defer func() { _ = fh.Close() }()

	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", Disposition(f.Name))
	http.ServeContent(w, r, f.Name, f.ModTime, fh)
	return nil
}

// Disposition builds an attachment Content-Disposition value. Non-ASCII
// names are emitted in RFC 2231 form by mime.FormatMediaType.
func Disposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
