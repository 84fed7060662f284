package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sevigo/testrunner/internal/core"
	"github.com/sevigo/testrunner/internal/jobs"
)

// WorkSource hands out work to long-polling clients.
type WorkSource interface {
	WaitForWork(ctx context.Context, contexts []string, clientName string) (*core.WorkAssignment, error)
}

// RunService records completion reports and answers commit queries.
type RunService interface {
	FinishRun(ctx context.Context, report jobs.FinishReport) error
	QueryCommits(ctx context.Context, repoFull string, shas []string) ([]jobs.CommitQueryResult, error)
}

// WorkerHandler serves the worker API.
type WorkerHandler struct {
	work   WorkSource
	runs   RunService
	logger *slog.Logger
}

// NewWorkerHandler creates the worker API handlers.
func NewWorkerHandler(work WorkSource, runs RunService, logger *slog.Logger) *WorkerHandler {
	return &WorkerHandler{work: work, runs: runs, logger: logger}
}

type getCommitRequest struct {
	Contexts   []string `json:"contexts"`
	ClientName string   `json:"client_name"`
}

// GetCommit long-polls until a run is assigned to the client. Expiry is
// reported as error_code TIMEOUT with HTTP 200 so clients simply ask again.
func (h *WorkerHandler) GetCommit(w http.ResponseWriter, r *http.Request) {
	var req getCommitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	assignment, err := h.work.WaitForWork(r.Context(), req.Contexts, req.ClientName)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, assignment)
	case errors.Is(err, jobs.ErrRequestTimeout):
		writeJSON(w, http.StatusOK, ErrorResponse{Code: CodeTimeout, Description: err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Debug("client left before work was assigned", "client_name", req.ClientName)
	default:
		writeError(w, h.logger, err)
	}
}

// AcceptCommit acknowledges an assignment. Runs are marked started when they
// are assigned, so there is nothing to record.
func (h *WorkerHandler) AcceptCommit(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type finishCommitRequest struct {
	RepoFull    string          `json:"repo_full"`
	SHA         string          `json:"sha"`
	Context     string          `json:"context"`
	State       string          `json:"state"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
	// Text is base64 in the JSON body.
	Text []byte `json:"text"`
}

// FinishCommit stores a worker's completion report.
func (h *WorkerHandler) FinishCommit(w http.ResponseWriter, r *http.Request) {
	var req finishCommitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	err := h.runs.FinishRun(r.Context(), jobs.FinishReport{
		RepoFull:    req.RepoFull,
		SHA:         req.SHA,
		Context:     req.Context,
		State:       req.State,
		Description: req.Description,
		Result:      req.Result,
		Output:      req.Text,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type queryCommitRequest struct {
	RepoFull string   `json:"repo_full"`
	SHA      string   `json:"sha"`
	SHAList  []string `json:"sha_list"`
}

type notFoundItem struct {
	SHA string `json:"sha"`
	ErrorResponse
}

// QueryCommit returns the commit job for sha, or one item per entry of
// sha_list where unknown commits are reported inline as NOT_FOUND.
func (h *WorkerHandler) QueryCommit(w http.ResponseWriter, r *http.Request) {
	var req queryCommitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.SHAList == nil {
		if req.SHA == "" {
			writeError(w, h.logger, fmt.Errorf("%w: sha or sha_list is required", core.ErrInvalidInput))
			return
		}
		results, err := h.runs.QueryCommits(r.Context(), req.RepoFull, []string{req.SHA})
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if results[0].Job == nil {
			writeError(w, h.logger, fmt.Errorf("%w: no commit job for %s@%s", core.ErrNotFound, req.RepoFull, req.SHA))
			return
		}
		writeJSON(w, http.StatusOK, results[0].Job)
		return
	}

	results, err := h.runs.QueryCommits(r.Context(), req.RepoFull, req.SHAList)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]any, 0, len(results))
	for _, res := range results {
		if res.Job == nil {
			items = append(items, notFoundItem{
				SHA:           res.SHA,
				ErrorResponse: ErrorResponse{Code: CodeNotFound, Description: "no commit job for " + res.SHA},
			})
			continue
		}
		items = append(items, res.Job)
	}
	writeJSON(w, http.StatusOK, items)
}
