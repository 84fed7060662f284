package blobstore

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/testrunner/internal/core"
)

func TestFileStore_PutAndOpen(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	hash, err := store.Put([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", hash)

	// Same content, same address.
	again, err := store.Put([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	rc, err := store.Open(hash)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFileStore_EmptyOutput(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	hash, err := store.Put(nil)
	require.NoError(t, err)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", hash)
}

func TestFileStore_OpenErrors(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name    string
		hash    string
		wantErr error
	}{
		{name: "unknown hash", hash: "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed", wantErr: core.ErrNotFound},
		{name: "path traversal", hash: "../../etc/passwd", wantErr: core.ErrInvalidInput},
		{name: "uppercase", hash: "2AAE6C35C94FCFB415DBE95F408B9CE91EE846ED", wantErr: core.ErrInvalidInput},
		{name: "short", hash: "abc", wantErr: core.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Open(tt.hash)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
