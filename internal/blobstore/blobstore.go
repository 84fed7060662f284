// Package blobstore keeps run output on the local filesystem, addressed by the
// SHA-1 hex digest of its content.
package blobstore

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // content address, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/natefinch/atomic"

	"github.com/sevigo/testrunner/internal/core"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// FileStore is a content-addressed BlobStore rooted at a directory.
type FileStore struct {
	dir string
}

var _ core.BlobStore = (*FileStore)(nil)

// New creates the directory if needed and returns a store rooted at it.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// ValidHash reports whether hash is a lowercase SHA-1 hex digest.
func ValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}

// Hash returns the content address of data.
func Hash(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Put stores data under its hash. Writing the same content twice is a no-op
// apart from replacing the file with identical bytes.
func (s *FileStore) Put(data []byte) (string, error) {
	hash := Hash(data)
	if err := atomic.WriteFile(s.path(hash), bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", hash, err)
	}
	return hash, nil
}

// Open returns a reader for the blob. It returns core.ErrNotFound for unknown
// hashes and core.ErrInvalidInput for anything that is not a digest.
func (s *FileStore) Open(hash string) (io.ReadCloser, error) {
	if !ValidHash(hash) {
		return nil, fmt.Errorf("%w: malformed blob hash %q", core.ErrInvalidInput, hash)
	}
	f, err := os.Open(s.path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", hash, err)
	}
	return f, nil
}

func (s *FileStore) path(hash string) string {
	return filepath.Join(s.dir, hash)
}
