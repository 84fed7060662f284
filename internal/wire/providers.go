// Package wire assembles the application with google/wire.
package wire

import (
	"log/slog"

	"github.com/google/wire"

	"github.com/sevigo/testrunner/internal/app"
	"github.com/sevigo/testrunner/internal/blobstore"
	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
	"github.com/sevigo/testrunner/internal/db"
	"github.com/sevigo/testrunner/internal/github"
	"github.com/sevigo/testrunner/internal/ingest"
	"github.com/sevigo/testrunner/internal/jobs"
	"github.com/sevigo/testrunner/internal/logger"
	"github.com/sevigo/testrunner/internal/registry"
	"github.com/sevigo/testrunner/internal/server"
	"github.com/sevigo/testrunner/internal/status"
	"github.com/sevigo/testrunner/internal/storage"
)

// AppSet provides every component of the service.
var AppSet = wire.NewSet(
	app.NewApp,
	server.NewServer,
	config.LoadConfig,
	db.NewDatabase,
	storage.NewStore,
	registry.New,
	jobs.NewWorkSignal,
	jobs.NewDispatcher,
	jobs.NewSweeper,
	jobs.NewService,
	status.NewReconciler,
	github.NewStatusClient,
	ingest.NewIngestor,
	provideBlobStore,
	provideRateLimiter,
	provideHandlers,
	provideLoggerConfig,
	provideSlogLogger,
	provideDBConfig,
	wire.Bind(new(core.JobStore), new(*storage.Store)),
	wire.Bind(new(core.StatusStore), new(*storage.Store)),
	wire.Bind(new(core.DeliveryStore), new(*storage.Store)),
	wire.Bind(new(core.BlobStore), new(*blobstore.FileStore)),
	wire.Bind(new(core.WorkNotifier), new(*jobs.WorkSignal)),
	wire.Bind(new(core.StatusClient), new(*github.StatusClient)),
	wire.Bind(new(core.RunStatusRecorder), new(*status.Reconciler)),
)

func provideLoggerConfig(cfg *config.Config) logger.Config {
	return cfg.Logging
}

// provideSlogLogger lets the logger resolve its own output from the config.
func provideSlogLogger(loggerConfig logger.Config) *slog.Logger {
	return logger.NewLogger(loggerConfig, nil)
}

func provideDBConfig(cfg *config.Config) *config.DBConfig {
	return &cfg.Database
}

func provideBlobStore(cfg *config.Config) (*blobstore.FileStore, error) {
	return blobstore.New(cfg.Storage.DataDumpDirectory)
}

func provideRateLimiter(cfg *config.Config) *status.RateLimiter {
	return status.NewRateLimiter(cfg.GitHub.StatusTokensPerHour)
}

func provideHandlers(ing *ingest.Ingestor, dispatcher *jobs.Dispatcher, service *jobs.Service, blobs *blobstore.FileStore) server.Handlers {
	return server.Handlers{
		Ingestor: ing,
		Work:     dispatcher,
		Runs:     service,
		Blobs:    blobs,
	}
}
