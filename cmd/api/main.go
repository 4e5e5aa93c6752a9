package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ollamatic/ollamatic/internal/api"
	"github.com/ollamatic/ollamatic/internal/augment"
	"github.com/ollamatic/ollamatic/internal/backend"
	"github.com/ollamatic/ollamatic/internal/config"
	"github.com/ollamatic/ollamatic/internal/database"
	"github.com/ollamatic/ollamatic/internal/experience"
	"github.com/ollamatic/ollamatic/internal/metrics"
	"github.com/ollamatic/ollamatic/internal/proxy"
	"github.com/ollamatic/ollamatic/internal/queue"
	"github.com/ollamatic/ollamatic/internal/template"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
	"github.com/ollamatic/ollamatic/pkg/tokenizer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Database is optional; fall back to in-memory stores without it.
	var (
		store     vectorstore.Store
		templates template.Repository
	)
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Warn("database unavailable, using in-memory stores", "error", err)
		store = vectorstore.NewMemoryStore()
		templates = template.NewMemoryRepository()
	} else {
		defer db.Close()
		if err := database.Migrate(ctx, db, cfg.Backend.EmbedDim); err != nil {
			slog.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		store = vectorstore.NewPgVectorStore(db)
		templates = template.NewPostgresRepository(db)
	}

	// Redis is optional; history and the task queue need it.
	var (
		history metrics.History
		qc      *queue.Client
		rdb     *redis.Client
	)
	rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, using in-memory history", "error", err)
		rdb.Close()
		rdb = nil
		history = metrics.NewMemoryHistory(cfg.History.Size)
	} else {
		defer rdb.Close()
		history = metrics.NewRedisHistory(rdb, cfg.History.Size)
		qc = queue.NewClient(cfg.Redis)
		defer qc.Close()
	}

	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.EmbedModel)
	registry := experience.NewRegistry()
	feedback := experience.NewFeedback(store, client, registry)

	collector := experience.NewCollector(store, client, registry, cfg.Collector.QueueSize, cfg.Collector.MaxRetries)
	collector.Start(cfg.Collector.Workers)
	defer collector.Stop()

	engine := augment.NewEngine(templates, store, client, registry, tokenizer.Estimate, augment.Options{
		TopK:            cfg.Augment.TopK,
		SnippetMaxChars: cfg.Augment.SnippetMaxChars,
		ContextBudget:   cfg.Augment.ContextBudget,
		EmbedCacheSize:  cfg.Augment.EmbedCacheSize,
	})

	p := proxy.New(client, engine, collector, history, tokenizer.Estimate, cfg.Augment.Default)

	router := api.NewRouter(api.Deps{
		Backend:   client,
		Proxy:     p,
		Templates: templates,
		Store:     store,
		Registry:  registry,
		Feedback:  feedback,
		History:   history,
		Queue:     qc,
		DB:        db,
		Redis:     rdb,
	})

	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router.Setup(),
		ReadTimeout: 15 * time.Second,
		// Streamed completions can run for minutes; no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "backend", cfg.Backend.URL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
