// Command server starts the curriculum catalog HTTP server.
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

	"github.com/redis/go-redis/v9"

	ai "github.com/fairyhunter13/curriculum-catalog/internal/adapter/ai"
	httpserver "github.com/fairyhunter13/curriculum-catalog/internal/adapter/httpserver"
	"github.com/fairyhunter13/curriculum-catalog/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/curriculum-catalog/internal/app"
	"github.com/fairyhunter13/curriculum-catalog/internal/config"
	"github.com/fairyhunter13/curriculum-catalog/internal/domain"
	"github.com/fairyhunter13/curriculum-catalog/internal/observability"
	"github.com/fairyhunter13/curriculum-catalog/internal/preset"
	"github.com/fairyhunter13/curriculum-catalog/internal/usecase"
)

// redisAdapter narrows *redis.Client to the readiness interface.
type redisAdapter struct{ *redis.Client }

func (r redisAdapter) Ping(ctx context.Context) app.RedisPingResult { return r.Client.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Repositories
	sessionRepo := postgres.NewSessionRepo(pool)
	expectationRepo := postgres.NewExpectationRepo(pool)
	embeddingRepo := postgres.NewEmbeddingRepo(pool)

	// Preset datasets bundled into the binary
	presets, err := preset.NewCatalog()
	if err != nil {
		slog.Error("preset catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("preset catalog loaded", slog.Int("datasets", len(presets.List())))

	// Optional Redis for the shared embedding cache
	var rdb *redis.Client
	if cfg.RedisEnabled() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}

	// Embedding client: real provider when configured, deterministic mock in
	// dev so search works without credentials.
	var embedder domain.EmbeddingClient
	switch {
	case cfg.EmbeddingEnabled():
		embedder = ai.NewClient(cfg)
		if rdb != nil {
			embedder = ai.NewRedisCache(embedder, rdb, cfg.EmbeddingsModel, cfg.RedisCacheTTL)
		}
		embedder = ai.NewEmbedCache(embedder, cfg.EmbedCacheSize)
	case cfg.IsDev():
		embedder = ai.NewMockClient()
		slog.Info("embedding provider not configured; using deterministic mock")
	default:
		slog.Info("embedding provider not configured; search uses text fallback only")
	}

	// Usecases
	confirmEngine := usecase.NewConfirmEngine(expectationRepo)
	indexer := usecase.NewIndexerService(embeddingRepo, embedder, cfg.EmbeddingsModel, cfg.EmbedTimeout)
	sessionSvc := usecase.NewSessionService(sessionRepo, presets, confirmEngine, indexer, cfg.HistoryMaxLimit)
	searchSvc := usecase.NewSearchService(expectationRepo, embedder, cfg.SearchMinScore, cfg.SearchDefaultLimit, cfg.EmbedTimeout)

	// Readiness checks
	var redisClient app.RedisClient
	if rdb != nil {
		redisClient = redisAdapter{rdb}
	}
	dbCheck, redisCheck, providerCheck := app.BuildReadinessChecks(cfg, pool, redisClient)

	srv := httpserver.NewServer(cfg, sessionSvc, searchSvc, indexer, expectationRepo, presets, dbCheck, redisCheck, providerCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
