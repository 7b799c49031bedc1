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

	"github.com/joho/godotenv"

	"github.com/agentpiazza/piazza/internal/auth"
	"github.com/agentpiazza/piazza/internal/blockers"
	"github.com/agentpiazza/piazza/internal/chat"
	"github.com/agentpiazza/piazza/internal/config"
	"github.com/agentpiazza/piazza/internal/mcp"
	"github.com/agentpiazza/piazza/internal/ratelimit"
	"github.com/agentpiazza/piazza/internal/scope"
	"github.com/agentpiazza/piazza/internal/search"
	"github.com/agentpiazza/piazza/internal/server"
	"github.com/agentpiazza/piazza/internal/service/completion"
	"github.com/agentpiazza/piazza/internal/service/embedding"
	"github.com/agentpiazza/piazza/internal/service/insights"
	"github.com/agentpiazza/piazza/internal/storage"
	"github.com/agentpiazza/piazza/internal/telemetry"
	"github.com/agentpiazza/piazza/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("PIAZZA_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("piazza starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to Postgres and apply embedded migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// JWT manager. An empty secret generates an ephemeral key and logs a warning.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Embedding and completion providers (both Ollama-backed; the services
	// degrade gracefully when the daemon is unreachable).
	embedder := embedding.NewOllamaProvider(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	completer := completion.NewOllamaProvider(cfg.OllamaURL, cfg.ChatModel, cfg.CompletionTimeout)
	logger.Info("ollama providers configured",
		"url", cfg.OllamaURL,
		"embedding_model", cfg.EmbeddingModel,
		"chat_model", cfg.ChatModel,
		"dimensions", cfg.EmbeddingDimensions)

	// Qdrant vector index.
	index, err := search.NewQdrantIndex(search.QdrantConfig{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
		Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
	}, logger)
	if err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	defer func() { _ = index.Close() }()

	if err := index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("qdrant ensure collection: %w", err)
	}
	logger.Info("qdrant: ready", "collection", cfg.QdrantCollection)

	// Scope guard gates every write against the platform scope description.
	guard := scope.New(embedder, cfg.ScopeDescription, cfg.ScopeThreshold)
	logger.Info("scope guard configured", "threshold", cfg.ScopeThreshold)

	// Core services (shared by HTTP, chat, and MCP surfaces).
	insightSvc := insights.New(db, index, embedder, guard, logger)
	blockerSvc := blockers.NewScorer(db)
	chatSvc := chat.New(db, completer, insightSvc, cfg.BaseURL, logger)

	mcpSrv := mcp.New(insightSvc, blockerSvc, logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		Agents:              db,
		Insights:            insightSvc,
		Blockers:            blockerSvc,
		Chat:                chatSvc,
		JWTMgr:              jwtMgr,
		DB:                  db,
		Logger:              logger,
		BaseURL:             cfg.BaseURL,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	srv := server.New(server.ServerConfig{
		Handlers:     handlers,
		Logger:       logger,
		Limiter:      limiter,
		MCPServer:    mcpSrv.MCPServer(),
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("piazza shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("piazza stopped")
	return nil
}
