package experience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

func TestFeedbackApplyUpdatesRecordAndInsight(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	registry := NewRegistry()
	embedder := &blockingEmbedder{}

	// persist one experience through the collector first
	c := NewCollector(store, embedder, registry, 4, 1)
	c.Start(1)
	rec := testRecord("req-1")
	rec.Outcome = OutcomeUnknown
	require.True(t, c.Offer(rec))
	c.Stop()

	fb := NewFeedback(store, embedder, registry)
	require.NoError(t, fb.Apply(context.Background(), "req-1", true, "great answer"))

	matches, err := store.Query(context.Background(), vectorstore.CollectionConversations, nil, 1,
		map[string]string{"request_id": "req-1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "success", matches[0].Metadata["outcome"])
	assert.Equal(t, "great answer", matches[0].Metadata["feedback_comment"])
	assert.Equal(t, 1.0, matches[0].Score)

	ins, ok := registry.Get("unknown", vectorstore.CollectionConversations)
	require.True(t, ok)
	assert.Equal(t, 1, ins.Frequency)
	assert.Equal(t, 1.0, ins.SuccessRate, "feedback corrects the aggregate exactly")
}

func TestFeedbackApplyFailureVerdict(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	registry := NewRegistry()
	embedder := &blockingEmbedder{}

	c := NewCollector(store, embedder, registry, 4, 1)
	c.Start(1)
	rec := testRecord("req-2")
	rec.Outcome = OutcomeSuccess
	require.True(t, c.Offer(rec))
	c.Stop()

	fb := NewFeedback(store, embedder, registry)
	require.NoError(t, fb.Apply(context.Background(), "req-2", false, ""))

	matches, err := store.Query(context.Background(), vectorstore.CollectionConversations, nil, 1,
		map[string]string{"request_id": "req-2"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "failure", matches[0].Metadata["outcome"])
	assert.Equal(t, 0.0, matches[0].Score)

	ins, _ := registry.Get("unknown", vectorstore.CollectionConversations)
	assert.Equal(t, 0.0, ins.SuccessRate)
}

func TestFeedbackApplyNotFound(t *testing.T) {
	fb := NewFeedback(vectorstore.NewMemoryStore(), &blockingEmbedder{}, NewRegistry())
	err := fb.Apply(context.Background(), "never-seen", true, "")
	assert.ErrorIs(t, err, ErrNotFound)
}
