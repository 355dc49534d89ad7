package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/analyzer"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/api"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/bus"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/call"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/config"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/groq"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/pipeline"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("nexus starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Groq client
	if cfg.GroqAPIKey == "" {
		slog.Error("GROQ_API_KEY is required")
		os.Exit(1)
	}
	llm := groq.NewClient(cfg.GroqAPIKey, cfg.GroqModel)
	slog.Info("groq client ready", "model", cfg.GroqModel)

	// Analyzer
	az := analyzer.New(llm, slog.Default())

	// Live call registry
	registry := call.NewRegistry(az, cfg.WindowTurns, slog.Default())

	// NATS
	busClient, err := bus.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer busClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Pipeline: ingress, trigger, finalizer
	pipe := pipeline.New(registry, db, busClient, slog.Default())

	// Subscribe to transport events
	if err := busClient.Subscribe(bus.SubjectUtterance, pipe.HandleUtterance); err != nil {
		slog.Error("failed to subscribe to utterance events", "error", err)
		os.Exit(1)
	}
	if err := busClient.Subscribe(bus.SubjectCallEnded, pipe.HandleCallEnded); err != nil {
		slog.Error("failed to subscribe to call ended events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	verifier, err := api.ParseStaticVerifier(cfg.APITokens)
	if err != nil {
		slog.Error("invalid NEXUS_API_TOKENS", "error", err)
		os.Exit(1)
	}
	srv := api.NewServer(cfg.Port, verifier, registry, pipe, db, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("nexus ready", "port", cfg.Port, "window_turns", cfg.WindowTurns)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("nexus stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
