package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sevigo/testrunner/internal/core"
)

// OutputHandler serves stored test output by content hash.
type OutputHandler struct {
	blobs  core.BlobStore
	logger *slog.Logger
}

// NewOutputHandler creates the /out/{sha} handler.
func NewOutputHandler(blobs core.BlobStore, logger *slog.Logger) *OutputHandler {
	return &OutputHandler{blobs: blobs, logger: logger}
}

// Handle writes the blob as plain text.
func (h *OutputHandler) Handle(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "sha")
	rc, err := h.blobs.Open(hash)
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("output %q: %w", hash, err))
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream output", "sha", hash, "error", err)
	}
}
