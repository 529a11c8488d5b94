// Package server initializes and runs the vaultsync server: it opens the
// database, runs migrations, wires services to the HTTP API, and handles
// graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okulov/vaultsync/internal/logging"
	"github.com/okulov/vaultsync/internal/server/config"
	"github.com/okulov/vaultsync/internal/server/httpapi"
	"github.com/okulov/vaultsync/internal/server/repositories/repomanager"
	"github.com/okulov/vaultsync/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	api    *httpapi.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	var blobs services.BlobStore
	if cfg.BlobBackend == "s3" {
		blobs, err = services.NewS3BlobStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("blob store init error: %w", err)
		}
	}

	vaultService := services.NewVaultService(db, rm, cfg, blobs)
	userService := services.NewUserService(db, rm, vaultService, cfg)
	api := httpapi.NewServer(userService, vaultService, cfg, logger)

	return &App{config: cfg, logger: logger, db: db, api: api}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: app.api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "server error", "error", err)
		}
	case <-ctx.Done():
		app.logger.Info(ctx, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "shutdown error", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
