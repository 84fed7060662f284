// Package app initializes and orchestrates the main components of the testrunner service.
// It runs the background loops next to the HTTP server.
package app

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/db"
	"github.com/sevigo/testrunner/internal/github"
	"github.com/sevigo/testrunner/internal/jobs"
	"github.com/sevigo/testrunner/internal/server"
	"github.com/sevigo/testrunner/internal/status"
	"github.com/sevigo/testrunner/internal/storage"
)

// App holds the main application components. The exported fields are used
// by the operator CLI.
type App struct {
	DB           *db.DB
	Store        *storage.Store
	Service      *jobs.Service
	Sweeper      *jobs.Sweeper
	Reconciler   *status.Reconciler
	StatusClient *github.StatusClient

	cfg        *config.Config
	server     *server.Server
	dispatcher *jobs.Dispatcher
	logger     *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	loops   *errgroup.Group
	stopped bool
}

// NewApp sets up the application with all its dependencies.
func NewApp(
	ctx context.Context,
	cfg *config.Config,
	dbConn *db.DB,
	store *storage.Store,
	srv *server.Server,
	dispatcher *jobs.Dispatcher,
	sweeper *jobs.Sweeper,
	service *jobs.Service,
	reconciler *status.Reconciler,
	statusClient *github.StatusClient,
	logger *slog.Logger,
) *App {
	loopCtx, cancel := context.WithCancel(ctx)
	return &App{
		DB:           dbConn,
		Store:        store,
		Service:      service,
		Sweeper:      sweeper,
		Reconciler:   reconciler,
		StatusClient: statusClient,
		cfg:          cfg,
		server:       srv,
		dispatcher:   dispatcher,
		logger:       logger,
		ctx:          loopCtx,
		cancel:       cancel,
		loops:        &errgroup.Group{},
	}
}

// Start launches the dispatcher, sweeper and reconciler loops and runs the
// HTTP server until it is stopped.
func (a *App) Start() error {
	a.logger.Info("starting testrunner",
		"server_port", a.cfg.Server.Port,
		"web_base_uri", a.cfg.Server.WebBaseURI,
		"database", a.cfg.Database.Driver)

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	for _, loop := range []func(context.Context){a.dispatcher.Run, a.Sweeper.Run, a.Reconciler.Run} {
		a.loops.Go(func() error {
			loop(a.ctx)
			return nil
		})
	}
	a.mu.Unlock()

	err := a.server.Start()
	if err != nil {
		a.logger.Error("failed to start HTTP server", "error", err)
		return err
	}

	return nil
}

// Stop shuts down the application cleanly.
func (a *App) Stop() error {
	a.logger.Info("shutting down testrunner services")

	// Stop the HTTP server first to prevent new incoming requests.
	serverErr := a.server.Stop()
	if serverErr != nil {
		a.logger.Error("error during HTTP server shutdown", "error", serverErr)
		// Continue to stop other components even if the server failed.
	}

	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.cancel()
	_ = a.loops.Wait()

	if serverErr != nil {
		a.logger.Error("testrunner stopped with errors", "error", serverErr)
		return serverErr
	}

	a.logger.Info("testrunner stopped successfully")
	return nil
}
