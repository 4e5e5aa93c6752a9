package experience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

// ErrNotFound is returned when feedback references a request that was never
// recorded (or whose record has since been pruned).
var ErrNotFound = errors.New("experience not found")

// Feedback applies explicit user verdicts to stored experiences.
type Feedback struct {
	store    vectorstore.Store
	embedder Embedder
	registry *Registry
}

func NewFeedback(store vectorstore.Store, embedder Embedder, registry *Registry) *Feedback {
	return &Feedback{store: store, embedder: embedder, registry: registry}
}

// Apply rewrites the stored record for requestID with the user's verdict and
// corrects the matching insight aggregate. The search is filter-only across
// all collections since the original outcome decided where the record lives.
func (f *Feedback) Apply(ctx context.Context, requestID string, success bool, comment string) error {
	collection, match, err := f.find(ctx, requestID)
	if err != nil {
		return err
	}

	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	prior := Outcome(match.Metadata["outcome"])
	if prior == "" {
		prior = OutcomeUnknown
	}

	embedding, err := f.embedder.Embed(ctx, match.Text)
	if err != nil {
		return fmt.Errorf("re-embedding experience: %w", err)
	}

	metadata := make(map[string]string, len(match.Metadata)+2)
	for k, v := range match.Metadata {
		metadata[k] = v
	}
	metadata["outcome"] = string(outcome)
	metadata["feedback_at"] = time.Now().UTC().Format(time.RFC3339)
	if comment != "" {
		metadata["feedback_comment"] = comment
	}

	rec := vectorstore.Record{
		ID:        match.ID,
		Embedding: embedding,
		Text:      match.Text,
		Metadata:  metadata,
		Score:     outcome.Score(),
		CreatedAt: time.Now().UTC(),
	}
	if err := f.store.Upsert(ctx, collection, rec); err != nil {
		return fmt.Errorf("updating experience: %w", err)
	}

	f.registry.Adjust(metadata["pattern_type"], collection, prior, outcome)
	return nil
}

func (f *Feedback) find(ctx context.Context, requestID string) (string, vectorstore.Match, error) {
	filter := map[string]string{"request_id": requestID}
	for _, collection := range vectorstore.Collections {
		matches, err := f.store.Query(ctx, collection, nil, 1, filter)
		if err != nil {
			return "", vectorstore.Match{}, fmt.Errorf("searching %s: %w", collection, err)
		}
		if len(matches) > 0 {
			return collection, matches[0], nil
		}
	}
	return "", vectorstore.Match{}, ErrNotFound
}
