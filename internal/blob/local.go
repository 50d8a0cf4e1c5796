// Package blob is a local-disk stand-in for the blob storage
// collaborator. The engine only stores and relays the returned URL.
package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// maxUploadBytes bounds a single image upload.
const maxUploadBytes = 5 << 20 // 5MB

// LocalStore writes uploads under dir and serves them at
// baseURL + "/uploads/<file>".
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates the upload directory if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the storage directory, for the file server route.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Put stores one upload and returns its durable URL. The reader is
// copied under the caller's context deadline; uploads are the one
// abortable long transfer in the system.
func (s *LocalStore) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	fileName := uuid.New().String() + sanitizeExt(name)
	path := filepath.Join(s.dir, fileName)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	limited := io.LimitReader(r, maxUploadBytes)
	if _, err := io.Copy(f, &contextReader{ctx: ctx, r: limited}); err != nil {
		os.Remove(path)
		return "", err
	}

	return s.baseURL + "/uploads/" + fileName, nil
}

// sanitizeExt keeps only a plain file extension from the client name.
func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return ext
	default:
		return ""
	}
}

// contextReader aborts a copy when the context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
