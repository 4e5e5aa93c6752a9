package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/ollamatic/ollamatic/internal/backend"
	"github.com/ollamatic/ollamatic/internal/config"
	"github.com/ollamatic/ollamatic/internal/database"
	"github.com/ollamatic/ollamatic/internal/experience"
	"github.com/ollamatic/ollamatic/internal/queue/workers"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
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

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("worker requires the database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := vectorstore.NewPgVectorStore(db)
	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.EmbedModel)
	registry := experience.NewRegistry()
	feedback := experience.NewFeedback(store, client, registry)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	slog.Info("starting worker", "concurrency", 10)
	if err := srv.Run(workers.NewMux(store, feedback)); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
