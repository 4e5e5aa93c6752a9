// Package metrics observes response streams without touching them. The Tap
// sits beside the forwarding path, keeps running counters per chunk, and
// emits exactly one immutable Snapshot when the stream ends.
package metrics

import (
	"time"

	"github.com/ollamatic/ollamatic/internal/protocol"
	"github.com/ollamatic/ollamatic/pkg/tokenizer"
)

// Snapshot is the per-request metric record. It is built once at stream
// completion or abort and never mutated afterwards.
type Snapshot struct {
	TokensIn          int           `json:"tokens_in"`
	TokensOut         int           `json:"tokens_out"`
	ContextSize       int           `json:"context_size"`
	TotalDuration     time.Duration `json:"total_duration"`
	GenerationTime    time.Duration `json:"generation_time"`
	FirstTokenLatency time.Duration `json:"first_token_latency"`
	Complete          bool          `json:"complete"`
}

// Tap accumulates counters for one stream. Observe does arithmetic on the
// already-decoded chunk and nothing else, so it adds no forwarding latency.
// Not safe for concurrent use; each request owns its own Tap.
type Tap struct {
	counter tokenizer.Counter

	start      time.Time
	firstToken time.Time

	estimated int // tokenizer fallback, summed per chunk
	chunks    int

	// backend-reported numbers, taken verbatim when present
	lastEval  int
	deltaSum  int
	perChunk  bool
	tokensIn  int
	genTime   time.Duration
	totalTime time.Duration

	finished bool
	snapshot Snapshot
}

func NewTap(counter tokenizer.Counter, start time.Time) *Tap {
	if counter == nil {
		counter = tokenizer.Estimate
	}
	return &Tap{counter: counter, start: start}
}

// Observe updates the running counters from one chunk. The chunk is never
// modified or retained.
func (t *Tap) Observe(ch protocol.Chunk) {
	if t.finished {
		return
	}
	if ch.Content != "" {
		if t.firstToken.IsZero() {
			t.firstToken = time.Now()
		}
		t.chunks++
		t.estimated += t.counter(ch.Content)
	}

	// Some backends report a cumulative eval count on every chunk; sum the
	// deltas so partial streams still carry an exact figure.
	if ch.EvalCount > 0 {
		if !ch.Done {
			t.perChunk = true
		}
		if t.perChunk {
			t.deltaSum += ch.EvalCount - t.lastEval
		}
		t.lastEval = ch.EvalCount
	}
	if ch.PromptEvalCount > 0 {
		t.tokensIn = ch.PromptEvalCount
	}
	if ch.EvalDuration > 0 {
		t.genTime = time.Duration(ch.EvalDuration)
	}
	if ch.TotalDuration > 0 {
		t.totalTime = time.Duration(ch.TotalDuration)
	}
}

// Finish freezes the tap and returns the Snapshot. Safe to call more than
// once; later calls return the first result.
func (t *Tap) Finish(complete bool) Snapshot {
	if t.finished {
		return t.snapshot
	}
	t.finished = true

	tokensOut := t.estimated
	switch {
	case complete && t.lastEval > 0:
		// a clean stream's final chunk carries the authoritative total
		tokensOut = t.lastEval
	case t.perChunk:
		tokensOut = t.deltaSum
	}

	total := t.totalTime
	if total == 0 {
		total = time.Since(t.start)
	}
	var firstLatency time.Duration
	if !t.firstToken.IsZero() {
		firstLatency = t.firstToken.Sub(t.start)
	}

	t.snapshot = Snapshot{
		TokensIn:          t.tokensIn,
		TokensOut:         tokensOut,
		ContextSize:       t.tokensIn,
		TotalDuration:     total,
		GenerationTime:    t.genTime,
		FirstTokenLatency: firstLatency,
		Complete:          complete,
	}
	return t.snapshot
}

// Chunks reports how many content-bearing chunks were observed.
func (t *Tap) Chunks() int { return t.chunks }
