// Package handler provides the HTTP handlers for the testrunner service.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sevigo/testrunner/internal/core"
)

// Machine-readable error codes returned to clients.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeNotFound      = "NOT_FOUND"
	CodeTimeout       = "TIMEOUT"
	CodeInternalError = "INTERNAL_ERROR"
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Code        string `json:"error_code"`
	Description string `json:"error_description,omitempty"`
}

// maxBodyBytes bounds request bodies; finish reports carry test output.
const maxBodyBytes = 64 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and error body. Internal details are
// logged but never returned to the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Description: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Description: err.Error()})
	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: CodeInternalError, Description: "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(core.ErrInvalidInput, err)
	}
	return nil
}
