// Command caldorad serves shared calendars over CalDAV.
//
// All settings come from CALDORA_* environment variables, see
// internal/config. Users and calendars are created from the YAML file named
// by CALDORA_SEED_FILE.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyp0633/caldora/internal/config"
	"github.com/cyp0633/caldora/internal/telemetry"
	"github.com/cyp0633/caldora/server"
	"github.com/cyp0633/caldora/server/auth"
	authmem "github.com/cyp0633/caldora/server/auth/memory"
	"github.com/cyp0633/caldora/server/recurrence"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/storage/memory"
	"github.com/cyp0633/caldora/server/storage/sqlite"
)

const serviceName = "caldorad"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTELEndpoint, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		return err
	}
	users := authmem.New(
		authmem.WithLogger(logger),
		authmem.WithCalendarAccess(store, cfg.Prefix),
	)
	if err := applySeed(ctx, store, users, seed, logger); err != nil {
		return err
	}

	svc := server.NewService(store,
		server.WithServiceLogger(logger),
		server.WithRecurrenceEngine(recurrence.NewEngineWithConfig(cfg.Engine())),
	)
	handler := server.NewCaldavHandler(cfg.Prefix, cfg.Realm, svc, users, nil, logger)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newMux(handler, users, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting CalDAV server",
			"listen", cfg.Listen,
			"prefix", handler.Prefix,
			"storage", storageKind(cfg))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newMux mounts the CalDAV handler behind Basic auth under its prefix and
// the unauthenticated well-known redirect.
func newMux(handler *server.CaldavHandler, users *authmem.Store, logger *slog.Logger) *http.ServeMux {
	authenticate := auth.Middleware(users, handler.Realm,
		auth.WithDirectory(users),
		auth.WithLogger(logger))
	mux := http.NewServeMux()
	mux.Handle(handler.Prefix, authenticate(handler))
	mux.HandleFunc("/.well-known/caldav", handler.ServeWellKnown)
	return mux
}

// openStore opens the SQLite database at cfg.DBPath, or an in-memory store
// when no path is configured.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, func(), error) {
	if cfg.DBPath == "" {
		return memory.New(memory.WithLogger(logger)), func() {}, nil
	}
	store, err := sqlite.Open(ctx, cfg.DBPath, sqlite.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}, nil
}

func storageKind(cfg *config.Config) string {
	if cfg.DBPath == "" {
		return "memory"
	}
	return "sqlite"
}
