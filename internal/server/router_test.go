package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/testrunner/internal/blobstore"
	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
	"github.com/sevigo/testrunner/internal/ingest"
	"github.com/sevigo/testrunner/internal/jobs"
)

type stubIngestor struct{}

func (stubIngestor) Ingest(_ context.Context, _, deliveryID string, _ []byte) (*ingest.Result, error) {
	return &ingest.Result{DeliveryID: deliveryID}, nil
}

type stubWork struct{}

func (stubWork) WaitForWork(context.Context, []string, string) (*core.WorkAssignment, error) {
	return nil, jobs.ErrRequestTimeout
}

type stubRuns struct{}

func (stubRuns) FinishRun(context.Context, jobs.FinishReport) error { return nil }

func (stubRuns) QueryCommits(_ context.Context, _ string, shas []string) ([]jobs.CommitQueryResult, error) {
	return []jobs.CommitQueryResult{{SHA: shas[0]}}, nil
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(cfg, Handlers{
		Ingestor: stubIngestor{},
		Work:     stubWork{},
		Runs:     stubRuns{},
		Blobs:    blobs,
	}, logger)
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t, &config.Config{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRouter_WorkerBasicAuth(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{ClientUsername: "worker", ClientPassword: "pw"}}
	r := newTestRouter(t, cfg)

	paths := []string{"/get-commit-simple", "/accept-commit-simple", "/finish-commit-simple", "/query-commit-simple"}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"contexts":["lint"],"sha":"abc"}`))
			r.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = httptest.NewRecorder()
			req = httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{"contexts":["lint"],"sha":"abc"}`))
			req.SetBasicAuth("worker", "pw")
			r.ServeHTTP(rec, req)
			assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRouter_WebhookIsNotBehindBasicAuth(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{ClientUsername: "worker", ClientPassword: "pw"}}
	r := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/github-webhook", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "ping")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_OpenWorkerAPI(t *testing.T) {
	r := newTestRouter(t, &config.Config{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/get-commit-simple", bytes.NewBufferString(`{"contexts":["lint"]}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"error_code":"TIMEOUT","error_description":"no work became available before the request timed out"}`, rec.Body.String())
}
