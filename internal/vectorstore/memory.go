package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps collections in process. It backs tests and DB-less
// operation; data does not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // collection -> id -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, collection string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.records[collection]
	if !ok {
		col = make(map[string]Record)
		s.records[collection] = col
	}
	// Replacing a record keeps its insertion time, matching the pgvector
	// implementation's ON CONFLICT clause.
	if prev, exists := col[rec.ID]; exists {
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	col[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, embedding []float32, topK int, filter map[string]string) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []Record
	for _, rec := range s.records[collection] {
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		candidates = append(candidates, rec)
	}

	if embedding == nil {
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		})
		matches := make([]Match, 0, topK)
		for _, rec := range candidates {
			if len(matches) == topK {
				break
			}
			matches = append(matches, Match{ID: rec.ID, Score: rec.Score, Text: rec.Text, Metadata: rec.Metadata})
		}
		return matches, nil
	}

	type scored struct {
		rec   Record
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, rec := range candidates {
		ranked = append(ranked, scored{rec, cosineSimilarity(embedding, rec.Embedding)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].rec.ID < ranked[j].rec.ID // stable order for equal scores
	})

	matches := make([]Match, 0, topK)
	for _, r := range ranked {
		if len(matches) == topK {
			break
		}
		matches = append(matches, Match{ID: r.rec.ID, Score: r.score, Text: r.rec.Text, Metadata: r.rec.Metadata})
	}
	return matches, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, collection string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, rec := range s.records[collection] {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records[collection], id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) DeleteBelowScore(_ context.Context, collection string, minScore float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, rec := range s.records[collection] {
		if rec.Score < minScore {
			delete(s.records[collection], id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Export(_ context.Context, collection string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{Collection: collection, ExportedAt: time.Now().UTC()}
	for _, rec := range s.records[collection] {
		snap.Records = append(snap.Records, rec)
	}
	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].CreatedAt.Before(snap.Records[j].CreatedAt)
	})
	return snap, nil
}

func (s *MemoryStore) Import(ctx context.Context, collection string, snap *Snapshot) error {
	for _, rec := range snap.Records {
		if err := s.Upsert(ctx, collection, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Collections(_ context.Context) ([]CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make([]CollectionStats, 0, len(Collections))
	for _, name := range Collections {
		cs := CollectionStats{Name: name, Count: len(s.records[name])}
		for _, rec := range s.records[name] {
			if rec.CreatedAt.After(cs.UpdatedAt) {
				cs.UpdatedAt = rec.CreatedAt
			}
		}
		stats = append(stats, cs)
	}
	return stats, nil
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
