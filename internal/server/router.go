package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
	"github.com/sevigo/testrunner/internal/server/handler"
)

// Handlers bundles the collaborators the router serves.
type Handlers struct {
	Ingestor handler.Ingestor
	Work     handler.WorkSource
	Runs     handler.RunService
	Blobs    core.BlobStore
}

// NewRouter creates and configures a new HTTP router with middleware and API routes.
func NewRouter(cfg *config.Config, h Handlers, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Configure middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	webhookHandler := handler.NewWebhookHandler(cfg, h.Ingestor, logger)
	outputHandler := handler.NewOutputHandler(h.Blobs, logger)
	workerHandler := handler.NewWorkerHandler(h.Work, h.Runs, logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/github-webhook", webhookHandler.Handle)
		r.Get("/out/{sha}", outputHandler.Handle)
	})

	// Worker API
	r.Group(func(r chi.Router) {
		if cfg.Server.ClientUsername != "" {
			r.Use(middleware.BasicAuth("testrunner", map[string]string{
				cfg.Server.ClientUsername: cfg.Server.ClientPassword,
			}))
		} else {
			logger.Warn("worker API is unauthenticated, set server.client_username to protect it")
		}

		// Long-poll requests outlive the regular request timeout.
		r.Post("/get-commit-simple", workerHandler.GetCommit)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/accept-commit-simple", workerHandler.AcceptCommit)
			r.Post("/finish-commit-simple", workerHandler.FinishCommit)
			r.Post("/query-commit-simple", workerHandler.QueryCommit)
		})
	})

	return r
}
