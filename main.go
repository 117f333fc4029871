package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/room4-2/livebridge/config"
	"github.com/room4-2/livebridge/functions"
	"github.com/room4-2/livebridge/gemini"
	"github.com/room4-2/livebridge/observability"
	"github.com/room4-2/livebridge/server"
	"github.com/room4-2/livebridge/session"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := gemini.NewClient(ctx, cfg.APIKey, cfg.ClientOptions(logger))
	if err != nil {
		logger.Error("failed to create Gemini client", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics("livebridge", prometheus.DefaultRegisterer)

	base := cfg.SessionConfig()
	base.Tools = functions.Tools()
	if err := base.Validate(); err != nil {
		logger.Error("invalid session config", "error", err)
		os.Exit(1)
	}

	// Create session manager
	sessionManager := session.NewManager(cfg, session.GeminiDialer{Client: client}, session.Options{
		Base:         base,
		DefaultVoice: cfg.DefaultVoice,
		OutboxSize:   cfg.OutboxSize,
		Logger:       logger,
		Metrics:      metrics,
	})

	// Start cleanup routine
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.NewServerWebsocket(cfg, sessionManager, prometheus.DefaultGatherer, logger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting livebridge",
		"model", base.Model,
		"default_voice", cfg.DefaultVoice,
		"max_sessions", cfg.MaxSessions)

	if err := srv.Start(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
