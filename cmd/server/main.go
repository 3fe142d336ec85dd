/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the uniform ordering engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env vars, optional .env file)
  2. Initialize structured logging and metrics
  3. Open SQLite store
  4. Wire API handler, allowance snapshot refresher, router
  5. Start server with graceful shutdown

CONFIGURATION:
  APP_ENV            development | production (default: development)
  LOG_LEVEL          trace..error (default: debug in development)
  DB_PATH            SQLite database path (default: ./data/uniform.db,
                     ":memory:" for throwaway runs)
  HTTP_PORT          Listen port (default: 8080)
  RATE_LIMIT_RPS     Per-client request rate (0 disables)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the snapshot refresher
  4. Close database connection

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - api/refresher.go: Allowance snapshot background refresh
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uniformhq/uniform-engine/api"
	"github.com/uniformhq/uniform-engine/config"
	"github.com/uniformhq/uniform-engine/logger"
	"github.com/uniformhq/uniform-engine/obs"
	"github.com/uniformhq/uniform-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
	obs.Init()

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DB.Path).Msg("failed to open database")
	}
	defer store.Close()

	handler := api.NewHandler(store, log)

	// Snapshot refresher keeps the allowance cache warm and receives
	// reset intents from rule updates.
	refresher := api.NewSnapshotRefresher(store, handler.Engine, log)
	store.SetResetNotifier(refresher)
	refresher.Start()
	defer refresher.Stop()

	router := api.NewRouter(handler, api.RouterConfig{
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("env", cfg.App.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}
