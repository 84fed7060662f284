package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v73/github"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
	"github.com/sevigo/testrunner/internal/ingest"
)

// Ingestor turns a webhook delivery into a commit job.
type Ingestor interface {
	Ingest(ctx context.Context, eventType, deliveryID string, payload []byte) (*ingest.Result, error)
}

// WebhookHandler processes incoming webhooks from GitHub.
type WebhookHandler struct {
	cfg      *config.Config
	ingestor Ingestor
	logger   *slog.Logger
}

// NewWebhookHandler creates a new webhook handler with the given configuration and ingestor.
func NewWebhookHandler(cfg *config.Config, ingestor Ingestor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		cfg:      cfg,
		ingestor: ingestor,
		logger:   logger,
	}
}

// Handle processes GitHub webhook requests. Every parsed delivery is answered
// with {} whether or not it created a job.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var (
		payload []byte
		err     error
	)
	if h.cfg.GitHub.WebhookSecret != "" {
		payload, err = github.ValidatePayload(r, []byte(h.cfg.GitHub.WebhookSecret))
		if err != nil {
			h.logger.Error("invalid webhook payload signature", "error", err)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: CodeUnauthorized, Description: "invalid signature"})
			return
		}
	} else {
		payload, err = github.ValidatePayloadFromBody(r.Header.Get("Content-Type"), r.Body, "", nil)
		if err != nil {
			h.logger.Error("could not read webhook payload", "error", err)
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Description: "could not read payload"})
			return
		}
	}

	eventType := github.WebHookType(r)
	result, err := h.ingestor.Ingest(r.Context(), eventType, github.DeliveryID(r), payload)
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			h.logger.Error("could not parse webhook", "event", eventType, "error", err)
		}
		writeError(w, h.logger, err)
		return
	}

	if result.Job != nil {
		h.logger.Debug("webhook accepted", "delivery_id", result.DeliveryID, "job_id", result.Job.ID)
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
