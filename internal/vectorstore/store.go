// Package vectorstore is the adapter boundary for embedding storage and
// similarity search. Collections partition records by artifact kind.
package vectorstore

import (
	"context"
	"time"
)

// Collection names, one per artifact kind.
const (
	CollectionCodeSnippets  = "code_snippets"
	CollectionConversations = "conversations"
	CollectionErrors        = "errors"
)

// Collections lists every known partition.
var Collections = []string{CollectionCodeSnippets, CollectionConversations, CollectionErrors}

// Record is one stored embedding with its source text and metadata. Score is
// the record's own quality signal (success=1, unknown=0.5, failure=0) used by
// score-threshold pruning; it is distinct from a query Match score.
type Record struct {
	ID        string            `json:"id"`
	Embedding []float32         `json:"embedding"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
	Score     float64           `json:"score"`
	CreatedAt time.Time         `json:"created_at"`
}

// Match is one similarity-search hit, ordered most-similar first.
type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Snapshot is a full export of one collection, suitable for re-import.
type Snapshot struct {
	Collection string    `json:"collection"`
	ExportedAt time.Time `json:"exported_at"`
	Records    []Record  `json:"records"`
}

// CollectionStats summarizes one collection for the management API.
type CollectionStats struct {
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"last_updated"`
}

// Store is the external vector-store capability the core consumes. A nil
// query embedding means "match by filter only"; implementations then order
// by recency instead of similarity.
type Store interface {
	Upsert(ctx context.Context, collection string, rec Record) error
	Query(ctx context.Context, collection string, embedding []float32, topK int, filter map[string]string) ([]Match, error)
	DeleteOlderThan(ctx context.Context, collection string, cutoff time.Time) (int, error)
	DeleteBelowScore(ctx context.Context, collection string, minScore float64) (int, error)
	Export(ctx context.Context, collection string) (*Snapshot, error)
	Import(ctx context.Context, collection string, snap *Snapshot) error
	Collections(ctx context.Context) ([]CollectionStats, error)
}
