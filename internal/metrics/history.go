package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HistoryEntry is one row of the recent-request ring the dashboard reads.
type HistoryEntry struct {
	RequestID     string  `json:"request_id"`
	Model         string  `json:"model"`
	Endpoint      string  `json:"endpoint"`
	TokensUsed    int     `json:"tokens_used"`
	ContextSize   int     `json:"context_size"`
	TotalDuration float64 `json:"total_duration"`
	Generation    float64 `json:"generation_duration"`
	Augmented     bool    `json:"augmented"`
	Timestamp     int64   `json:"timestamp"`
}

// AverageStats summarizes the ring.
type AverageStats struct {
	AverageTokensUsed         float64 `json:"average_tokens_used"`
	AverageTotalDuration      float64 `json:"average_total_duration"`
	AverageGenerationDuration float64 `json:"average_generation_duration"`
}

// History keeps the most recent N requests. Failures to record are the
// caller's to log; history is best-effort and never on the request path's
// critical section.
type History interface {
	Record(ctx context.Context, e HistoryEntry) error
	Recent(ctx context.Context) ([]HistoryEntry, error)
	Averages(ctx context.Context) (AverageStats, error)
}

const historyKey = "ollamatic:request_history"

// RedisHistory stores the ring in a capped redis list so multiple instances
// share one view.
type RedisHistory struct {
	rdb  *redis.Client
	size int64
}

func NewRedisHistory(rdb *redis.Client, size int) *RedisHistory {
	return &RedisHistory{rdb: rdb, size: int64(size)}
}

func (h *RedisHistory) Record(ctx context.Context, e HistoryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	pipe := h.rdb.TxPipeline()
	pipe.LPush(ctx, historyKey, data)
	pipe.LTrim(ctx, historyKey, 0, h.size-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func (h *RedisHistory) Recent(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := h.rdb.LRange(ctx, historyKey, 0, h.size-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	entries := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(row), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (h *RedisHistory) Averages(ctx context.Context) (AverageStats, error) {
	entries, err := h.Recent(ctx)
	if err != nil {
		return AverageStats{}, err
	}
	return averages(entries), nil
}

// MemoryHistory is the in-process fallback used when redis is absent and in
// tests.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []HistoryEntry
	size    int
}

func NewMemoryHistory(size int) *MemoryHistory {
	return &MemoryHistory{size: size}
}

func (h *MemoryHistory) Record(_ context.Context, e HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]HistoryEntry{e}, h.entries...)
	if len(h.entries) > h.size {
		h.entries = h.entries[:h.size]
	}
	return nil
}

func (h *MemoryHistory) Recent(_ context.Context) ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out, nil
}

func (h *MemoryHistory) Averages(ctx context.Context) (AverageStats, error) {
	entries, err := h.Recent(ctx)
	if err != nil {
		return AverageStats{}, err
	}
	return averages(entries), nil
}

func averages(entries []HistoryEntry) AverageStats {
	var stats AverageStats
	if len(entries) == 0 {
		return stats
	}
	n := float64(len(entries))
	for _, e := range entries {
		stats.AverageTokensUsed += float64(e.TokensUsed)
		stats.AverageTotalDuration += e.TotalDuration
		stats.AverageGenerationDuration += e.Generation
	}
	stats.AverageTokensUsed /= n
	stats.AverageTotalDuration /= n
	stats.AverageGenerationDuration /= n
	return stats
}

// NewEntry builds a history row from a finished request's snapshot.
func NewEntry(requestID, endpoint, model string, snap Snapshot, augmented bool) HistoryEntry {
	return HistoryEntry{
		RequestID:     requestID,
		Model:         model,
		Endpoint:      endpoint,
		TokensUsed:    snap.TokensIn + snap.TokensOut,
		ContextSize:   snap.ContextSize,
		TotalDuration: snap.TotalDuration.Seconds(),
		Generation:    snap.GenerationTime.Seconds(),
		Augmented:     augmented,
		Timestamp:     time.Now().Unix(),
	}
}
