package experience

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ollamatic/ollamatic/internal/metrics"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

// Embedder turns text into a vector. The backend client satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Collector persists experience records off the request path. Records are
// queued on a bounded channel; when the channel is full new records are
// dropped and counted rather than blocking the caller.
type Collector struct {
	store      vectorstore.Store
	embedder   Embedder
	registry   *Registry
	queue      chan Record
	maxRetries int

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewCollector builds a collector with the given queue capacity and retry
// budget. Call Start to launch workers and Stop to drain them.
func NewCollector(store vectorstore.Store, embedder Embedder, registry *Registry, queueSize, maxRetries int) *Collector {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Collector{
		store:      store,
		embedder:   embedder,
		registry:   registry,
		queue:      make(chan Record, queueSize),
		maxRetries: maxRetries,
	}
}

// Start launches n worker goroutines draining the queue.
func (c *Collector) Start(n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		c.wg.Add(1)
		go c.worker()
	}
}

// Stop closes the queue and waits for workers to finish queued records.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.queue) })
	c.wg.Wait()
}

// Offer enqueues a record without blocking. Returns false when the queue is
// full; the drop is counted and logged but the caller is never delayed.
func (c *Collector) Offer(rec Record) bool {
	select {
	case c.queue <- rec:
		return true
	default:
		metrics.RecordDroppedExperience()
		slog.Warn("experience queue full, dropping record",
			"request_id", rec.Context.RequestID,
			"model", rec.Context.Model,
		)
		return false
	}
}

func (c *Collector) worker() {
	defer c.wg.Done()
	for rec := range c.queue {
		c.process(rec)
	}
}

func (c *Collector) process(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := c.persist(ctx, rec); err != nil {
		metrics.RecordFailedExperience()
		slog.Error("storing experience failed",
			"request_id", rec.Context.RequestID,
			"collection", rec.Collection(),
			"error", err,
		)
		return
	}
	c.registry.Record(rec.PatternType(), rec.Collection(), rec.Outcome, exampleText(rec))
}

// persist embeds and upserts with quadratic backoff between attempts.
func (c *Collector) persist(ctx context.Context, rec Record) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		embedding, err := c.embedder.Embed(ctx, rec.SourceText())
		if err == nil {
			err = c.store.Upsert(ctx, rec.Collection(), rec.storeRecord(embedding))
			if err == nil {
				return nil
			}
		}
		lastErr = err
		if attempt < c.maxRetries {
			select {
			case <-time.After(time.Duration(attempt*attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func exampleText(rec Record) string {
	const limit = 200
	prompt := rec.Context.RawPrompt
	if len(prompt) <= limit {
		return prompt
	}
	// cut on a rune boundary so the example stays valid UTF-8
	cut := limit
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut]
}
