package experience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollamatic/ollamatic/internal/protocol"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

type blockingEmbedder struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []float32{1, 0}, nil
}

type errEmbedder struct{ attempts int }

func (e *errEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.attempts++
	return nil, errors.New("embed failed")
}

func testRecord(requestID string) Record {
	return Record{
		Context: protocol.RequestContext{
			RequestID: requestID,
			Model:     "llama3",
			RawPrompt: "hello",
		},
		Response: "hi there",
		Outcome:  OutcomeSuccess,
	}
}

func TestCollectorPersistsAndAggregates(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	registry := NewRegistry()
	c := NewCollector(store, &blockingEmbedder{}, registry, 8, 1)
	c.Start(1)

	require.True(t, c.Offer(testRecord("req-1")))
	c.Stop()

	matches, err := store.Query(context.Background(), vectorstore.CollectionConversations, nil, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "exp_req-1", matches[0].ID)

	ins, ok := registry.Get("unknown", vectorstore.CollectionConversations)
	require.True(t, ok)
	assert.Equal(t, 1, ins.Frequency)
}

// A full queue rejects new records instead of blocking the request path.
func TestCollectorRejectsWhenFull(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	embedder := &blockingEmbedder{release: make(chan struct{})}
	c := NewCollector(store, embedder, NewRegistry(), 1, 1)
	c.Start(1)

	// first record occupies the worker, second fills the queue
	require.True(t, c.Offer(testRecord("in-flight")))
	waitFor(t, func() bool {
		embedder.mu.Lock()
		defer embedder.mu.Unlock()
		return embedder.calls > 0
	})
	require.True(t, c.Offer(testRecord("queued")))

	assert.False(t, c.Offer(testRecord("rejected")), "queue full must reject, never block")

	close(embedder.release)
	c.Stop()

	matches, err := store.Query(context.Background(), vectorstore.CollectionConversations, nil, 10, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 2, "accepted records are still processed")
}

func TestCollectorRetriesBeforeGivingUp(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	registry := NewRegistry()
	embedder := &errEmbedder{}
	c := NewCollector(store, embedder, registry, 4, 2)
	c.Start(1)

	require.True(t, c.Offer(testRecord("req-x")))
	c.Stop()

	assert.Equal(t, 2, embedder.attempts)
	matches, err := store.Query(context.Background(), vectorstore.CollectionConversations, nil, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matches, "nothing is stored after exhausting retries")
	assert.Empty(t, registry.List(), "failed persistence never reaches the aggregates")
}

func TestExampleTextCutsOnRuneBoundary(t *testing.T) {
	rec := testRecord("req-utf8")
	rec.Context.RawPrompt = strings.Repeat("語", 80) // 240 bytes, limit lands mid-rune

	example := exampleText(rec)
	assert.True(t, utf8.ValidString(example))
	assert.LessOrEqual(t, len(example), 200)
	assert.Equal(t, strings.Repeat("語", 66), example)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
