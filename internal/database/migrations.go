package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the schema. embedDim fixes the vector column width and must
// match the embedding model's output dimension.
func Migrate(ctx context.Context, db *pgxpool.Pool, embedDim int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS experiences (
			id         TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			embedding  vector(%d),
			content    TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}',
			score      DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embedDim),

		`CREATE INDEX IF NOT EXISTS idx_experiences_collection
		 ON experiences (collection, created_at DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_experiences_metadata
		 ON experiences USING gin (metadata)`,

		`CREATE TABLE IF NOT EXISTS prompt_templates (
			id            UUID PRIMARY KEY,
			name          TEXT NOT NULL,
			template_text TEXT NOT NULL,
			variables     JSONB NOT NULL DEFAULT '[]',
			model_id      TEXT NOT NULL DEFAULT '*',
			language      TEXT NOT NULL DEFAULT '',
			task_type     TEXT NOT NULL DEFAULT '',
			priority      INTEGER NOT NULL DEFAULT 1,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_prompt_templates_selection
		 ON prompt_templates (model_id, language, task_type, priority DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
