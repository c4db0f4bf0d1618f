// Package main is the entry point for the verdict analysis service.
//
// verdict serves consensus stock analyses through a tiered fallback chain
// (cache, persisted store, quota-gated live computation, stale record) and
// runs the tier classification jobs that move symbols through the selection funnel.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/verdict/internal/config"
	"github.com/aristath/verdict/internal/di"
	"github.com/aristath/verdict/internal/server"
	"github.com/aristath/verdict/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
		App:    "verdict",
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting verdict")

	// Databases, stores, services and jobs
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	go container.RefreshQueue.Run()
	log.Info().Msg("Refresh queue started")

	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop accepting requests first, then background work, then storage
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Scheduler.Stop()

	container.RefreshQueue.Stop()
	log.Info().Msg("Refresh queue stopped")

	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close resources cleanly")
	}

	log.Info().Msg("Server stopped")
}
