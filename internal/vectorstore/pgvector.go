package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorStore persists embeddings in a single experiences table partitioned
// by the collection column, with cosine-distance search.
type PgVectorStore struct {
	db *pgxpool.Pool
}

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

func (s *PgVectorStore) Upsert(ctx context.Context, collection string, rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO experiences (id, collection, embedding, content, metadata, score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET embedding = $3, content = $4, metadata = $5, score = $6`,
		rec.ID, collection, pgvector.NewVector(rec.Embedding), rec.Text, meta, rec.Score, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert experience %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PgVectorStore) Query(ctx context.Context, collection string, embedding []float32, topK int, filter map[string]string) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}
	if filter == nil {
		filterJSON = []byte(`{}`)
	}

	var (
		query string
		args  []any
	)
	if embedding == nil {
		query = `SELECT id, score, content, metadata
		         FROM experiences
		         WHERE collection = $1 AND metadata @> $2
		         ORDER BY created_at DESC
		         LIMIT $3`
		args = []any{collection, filterJSON, topK}
	} else {
		query = `SELECT id, 1 - (embedding <=> $3) AS score, content, metadata
		         FROM experiences
		         WHERE collection = $1 AND metadata @> $2
		         ORDER BY embedding <=> $3
		         LIMIT $4`
		args = []any{collection, filterJSON, pgvector.NewVector(embedding), topK}
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m    Match
			meta []byte
		)
		if err := rows.Scan(&m.ID, &m.Score, &m.Text, &meta); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PgVectorStore) DeleteOlderThan(ctx context.Context, collection string, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM experiences WHERE collection = $1 AND created_at < $2`,
		collection, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete older than: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgVectorStore) DeleteBelowScore(ctx context.Context, collection string, minScore float64) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM experiences WHERE collection = $1 AND score < $2`,
		collection, minScore,
	)
	if err != nil {
		return 0, fmt.Errorf("delete below score: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgVectorStore) Export(ctx context.Context, collection string) (*Snapshot, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, embedding, content, metadata, score, created_at
		 FROM experiences WHERE collection = $1 ORDER BY created_at`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", collection, err)
	}
	defer rows.Close()

	snap := &Snapshot{Collection: collection, ExportedAt: time.Now().UTC()}
	for rows.Next() {
		var (
			rec  Record
			vec  pgvector.Vector
			meta []byte
		)
		if err := rows.Scan(&rec.ID, &vec, &rec.Text, &meta, &rec.Score, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Embedding = vec.Slice()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, rows.Err()
}

func (s *PgVectorStore) Import(ctx context.Context, collection string, snap *Snapshot) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range snap.Records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO experiences (id, collection, embedding, content, metadata, score, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE
			 SET embedding = $3, content = $4, metadata = $5, score = $6`,
			rec.ID, collection, pgvector.NewVector(rec.Embedding), rec.Text, meta, rec.Score, createdAt,
		)
		if err != nil {
			return fmt.Errorf("import record %s: %w", rec.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PgVectorStore) Collections(ctx context.Context) ([]CollectionStats, error) {
	rows, err := s.db.Query(ctx,
		`SELECT collection, COUNT(*), MAX(created_at)
		 FROM experiences GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("collection stats: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]CollectionStats)
	for rows.Next() {
		var cs CollectionStats
		if err := rows.Scan(&cs.Name, &cs.Count, &cs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		byName[cs.Name] = cs
	}

	stats := make([]CollectionStats, 0, len(Collections))
	for _, name := range Collections {
		if cs, ok := byName[name]; ok {
			stats = append(stats, cs)
		} else {
			stats = append(stats, CollectionStats{Name: name})
		}
	}
	return stats, rows.Err()
}
