package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"watchtower-alerts-go/internal/api"
	"watchtower-alerts-go/internal/config"
	"watchtower-alerts-go/internal/logging"
	"watchtower-alerts-go/internal/services"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg := config.Load()

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Optionally tee logs into the embedded Logdy web viewer
	if cfg.LogdyEnabled {
		if w, url, err := logging.StartLogdy(cfg); err == nil {
			log.Logger = log.Output(io.MultiWriter(zerolog.ConsoleWriter{Out: os.Stderr}, w))
			log.Info().Str("url", url).Msg("Logs mirrored to Logdy")
		} else {
			log.Warn().Err(err).Msg("Failed to start Logdy, continuing without it")
		}
	}

	log.Info().
		Str("service_id", cfg.ServiceID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Dur("sweep_interval", cfg.SweepInterval).
		Bool("simulator_enabled", cfg.SimulatorEnabled).
		Msg("Starting Watchtower alert pipeline")

	// Wire the pipeline
	container, err := services.NewServiceContainer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create services")
	}

	if err := container.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}

	// Create and start server
	server := api.NewServer(cfg, container)
	if err := server.Setup(); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up server")
	}

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := container.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Services forced to shutdown")
	} else {
		log.Info().Msg("Shutdown complete")
	}
}
