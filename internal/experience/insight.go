package experience

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Insight is an aggregate over experiences sharing a pattern type within one
// collection. SuccessRate is always exactly successes/frequency.
type Insight struct {
	PatternType string    `json:"pattern_type"`
	Collection  string    `json:"collection_name"`
	Frequency   int       `json:"frequency"`
	SuccessRate float64   `json:"success_rate"`
	Examples    []string  `json:"examples"`
	LastUsed    time.Time `json:"last_used"`
}

const maxExamples = 10

type insightKey struct {
	patternType string
	collection  string
}

// aggregate keeps the success count as an integer so the rate stays exact
// under any interleaving.
type aggregate struct {
	frequency int
	successes int
	examples  []string
	lastUsed  time.Time
}

// Registry holds all insight aggregates. Every update is an atomic
// read-modify-write under one lock, so concurrent request completions into
// the same aggregate never lose counts.
type Registry struct {
	mu         sync.Mutex
	aggregates map[insightKey]*aggregate
}

func NewRegistry() *Registry {
	return &Registry{aggregates: make(map[insightKey]*aggregate)}
}

// Record folds one experience into its aggregate. Only success counts toward
// the rate; failure and unknown both count as non-success.
func (r *Registry) Record(patternType, collection string, outcome Outcome, example string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := insightKey{patternType, collection}
	agg, ok := r.aggregates[key]
	if !ok {
		agg = &aggregate{}
		r.aggregates[key] = agg
	}

	agg.frequency++
	if outcome == OutcomeSuccess {
		agg.successes++
	}
	agg.examples = append(agg.examples, example)
	if len(agg.examples) > maxExamples {
		agg.examples = agg.examples[len(agg.examples)-maxExamples:]
	}
	agg.lastUsed = time.Now().UTC()
}

// Adjust moves an already-counted experience from one outcome to another
// after feedback. Frequency is unchanged; only the success count moves.
func (r *Registry) Adjust(patternType, collection string, from, to Outcome) {
	if from == to {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	agg, ok := r.aggregates[insightKey{patternType, collection}]
	if !ok {
		return
	}
	if from == OutcomeSuccess {
		agg.successes--
	}
	if to == OutcomeSuccess {
		agg.successes++
	}
	agg.lastUsed = time.Now().UTC()
}

// List returns a snapshot of all insights, ordered by frequency descending.
func (r *Registry) List() []Insight {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Insight, 0, len(r.aggregates))
	for key, agg := range r.aggregates {
		out = append(out, snapshot(key, agg))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].PatternType < out[j].PatternType
	})
	return out
}

// Get returns one insight, or ok=false when the aggregate does not exist.
func (r *Registry) Get(patternType, collection string) (Insight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := insightKey{patternType, collection}
	agg, ok := r.aggregates[key]
	if !ok {
		return Insight{}, false
	}
	return snapshot(key, agg), true
}

// Summaries renders one line per aggregate in a collection, for the
// {learned_patterns} placeholder. Ordered by frequency so the strongest
// pattern leads, deterministic for a fixed registry state.
func (r *Registry) Summaries(collection string) []string {
	all := r.List()
	var out []string
	for _, ins := range all {
		if ins.Collection != collection {
			continue
		}
		out = append(out, fmt.Sprintf("%s: seen %d times, %.0f%% success",
			ins.PatternType, ins.Frequency, ins.SuccessRate*100))
	}
	return out
}

// DropCollection removes every aggregate for a collection; used by wholesale
// collection cleanup only.
func (r *Registry) DropCollection(collection string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.aggregates {
		if key.collection == collection {
			delete(r.aggregates, key)
		}
	}
}

func snapshot(key insightKey, agg *aggregate) Insight {
	rate := 0.0
	if agg.frequency > 0 {
		rate = float64(agg.successes) / float64(agg.frequency)
	}
	examples := make([]string, len(agg.examples))
	copy(examples, agg.examples)
	return Insight{
		PatternType: key.patternType,
		Collection:  key.collection,
		Frequency:   agg.frequency,
		SuccessRate: rate,
		Examples:    examples,
		LastUsed:    agg.lastUsed,
	}
}
