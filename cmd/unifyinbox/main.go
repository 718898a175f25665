// Unifyinbox server: ingests messages from connected platforms, enriches
// and ranks them, and serves the prioritized feed over HTTP and WebSocket.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/unifyinbox/unifyinbox/pkg/adapters"
	"github.com/unifyinbox/unifyinbox/pkg/agents"
	"github.com/unifyinbox/unifyinbox/pkg/api"
	"github.com/unifyinbox/unifyinbox/pkg/auth"
	"github.com/unifyinbox/unifyinbox/pkg/cache"
	"github.com/unifyinbox/unifyinbox/pkg/config"
	"github.com/unifyinbox/unifyinbox/pkg/database"
	"github.com/unifyinbox/unifyinbox/pkg/events"
	"github.com/unifyinbox/unifyinbox/pkg/llm"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/pipeline"
	"github.com/unifyinbox/unifyinbox/pkg/scheduler"
	"github.com/unifyinbox/unifyinbox/pkg/services"
	"github.com/unifyinbox/unifyinbox/pkg/store"
	"github.com/unifyinbox/unifyinbox/pkg/syncer"
	"github.com/unifyinbox/unifyinbox/pkg/vector"
)

const shutdownTimeout = 15 * time.Second

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
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

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	settings, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(settings.LogLevel)
	slog.Info("Starting unifyinbox", "addr", settings.ServerAddr)

	ctx := context.Background()

	// Database: connection pool plus embedded migrations.
	dbClient, err := database.NewClient(ctx, settings.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL")

	st := store.New(dbClient.DBX())

	ca, err := cache.New(ctx, settings.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer ca.Close()

	// Vector store is optional; an empty URL yields a disabled store.
	vectors, err := vector.New(ctx, settings.ChromaURL)
	if err != nil {
		slog.Warn("Vector store unavailable, similarity search disabled", "error", err)
		vectors, _ = vector.New(ctx, "")
	}

	vault, err := auth.NewTokenVault(settings.EncryptionKey)
	if err != nil {
		slog.Error("Failed to initialize token vault", "error", err)
		os.Exit(1)
	}
	issuer := auth.NewTokenIssuer(settings.JWTSecretKey, settings.JWTExpiry)

	// Enrichment agents share one Anthropic client. Without an API key the
	// agents fall back to their deterministic paths.
	llmClient := llm.NewClient(settings.AnthropicAPIKey)
	runner := agents.NewRunner(llmClient)
	drafts := agents.NewDraftWriter(llmClient)
	summarizer := agents.NewSummarizer(llmClient)

	eventPublisher := events.NewEventPublisher(dbClient.DB())

	var indexer pipeline.Indexer
	if vectors.Enabled() {
		indexer = vectors
	}
	pl := pipeline.New(st, ca, runner, eventPublisher, indexer)

	registry := adapters.NewRegistry(
		adapters.NewGmailAdapter(settings.GoogleClientID, settings.GoogleClientSecret),
		adapters.NewSlackAdapter(),
		adapters.NewTelegramAdapter(),
		adapters.NewDiscordAdapter(),
	)

	engine := syncer.New(st, ca, vault, registry, pl, eventPublisher)

	gateways := adapters.NewGatewayManager(func(userID string, msg *models.Message) {
		gwCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := engine.ProcessWebhookMessage(gwCtx, userID, msg); err != nil {
			slog.Error("Failed to process gateway message", "user_id", userID, "error", err)
		}
	})
	defer gateways.StopAll()

	authService := services.NewAuthService(st, issuer)
	feedService := services.NewFeedService(st, ca, summarizer)
	actionService := services.NewActionService(st, ca, eventPublisher, drafts, vectors, registry, vault)
	platformService := services.NewPlatformService(st, vault, registry, engine, gateways, settings.WebhookBaseURL)

	// Gateway sockets do not survive restarts; reopen them for every
	// stored Discord credential.
	if err := platformService.ResumeGateways(ctx); err != nil {
		slog.Error("Failed to resume discord gateways", "error", err)
	}

	// WebSocket infrastructure: NOTIFY/LISTEN relay plus connection manager.
	catchup := events.NewStoreCatchupAdapter(st)
	connManager := events.NewConnectionManager(catchup, actionService, 10*time.Second)
	listener := events.NewNotifyListener(dbClient.DSN(), connManager)
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start NOTIFY listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(ctx)
	connManager.SetListener(listener)

	sched := scheduler.New(st, ca, engine, eventPublisher, dbClient.DBX(), settings)
	if err := sched.Start(); err != nil {
		slog.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	server := api.NewServer(
		settings,
		authService,
		feedService,
		actionService,
		platformService,
		engine,
		connManager,
		issuer,
		ca,
		dbClient.DB(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Shutdown complete")
}
