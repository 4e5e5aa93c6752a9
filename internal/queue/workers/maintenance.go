package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ollamatic/ollamatic/internal/queue"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

// MaintenanceWorker prunes stored experiences by age or score threshold.
type MaintenanceWorker struct {
	store vectorstore.Store
}

func NewMaintenanceWorker(store vectorstore.Store) *MaintenanceWorker {
	return &MaintenanceWorker{store: store}
}

func (w *MaintenanceWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.StorePrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	collections := vectorstore.Collections
	if payload.Collection != "" {
		collections = []string{payload.Collection}
	}

	for _, collection := range collections {
		if payload.ByScore {
			removed, err := w.store.DeleteBelowScore(ctx, collection, payload.MinScore)
			if err != nil {
				return fmt.Errorf("prune %s by score: %w", collection, err)
			}
			slog.Info("pruned collection by score",
				"collection", collection, "min_score", payload.MinScore, "removed", removed)
			continue
		}

		age, err := time.ParseDuration(payload.OlderThan)
		if err != nil {
			return fmt.Errorf("parse older_than: %w", err)
		}
		removed, err := w.store.DeleteOlderThan(ctx, collection, time.Now().UTC().Add(-age))
		if err != nil {
			return fmt.Errorf("prune %s by age: %w", collection, err)
		}
		slog.Info("pruned collection by age",
			"collection", collection, "older_than", payload.OlderThan, "removed", removed)
	}
	return nil
}
