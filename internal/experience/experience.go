// Package experience records request outcomes as embeddings and aggregates
// them into insights. Everything here runs strictly after the client-facing
// path completes; nothing in this package may delay a response.
package experience

import (
	"strconv"
	"time"

	"github.com/ollamatic/ollamatic/internal/augment"
	"github.com/ollamatic/ollamatic/internal/metrics"
	"github.com/ollamatic/ollamatic/internal/protocol"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

// Outcome is the recorded result of one request.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// Score maps an outcome onto the record-quality scale used by
// score-threshold pruning.
func (o Outcome) Score() float64 {
	switch o {
	case OutcomeSuccess:
		return 1
	case OutcomeFailure:
		return 0
	default:
		return 0.5
	}
}

// Record is one completed (or aborted) request handed to the collector.
type Record struct {
	Context  protocol.RequestContext
	Snapshot metrics.Snapshot
	Response string
	Outcome  Outcome
}

// Collection picks the partition for the record's artifact kind.
func (r Record) Collection() string {
	if r.Outcome == OutcomeFailure {
		return vectorstore.CollectionErrors
	}
	if augment.ContainsCode(r.Context.RawPrompt) || augment.ContainsCode(r.Response) {
		return vectorstore.CollectionCodeSnippets
	}
	return vectorstore.CollectionConversations
}

// PatternType groups the record into an insight aggregate: the detected
// language when there is one, otherwise the task type, otherwise "unknown".
func (r Record) PatternType() string {
	if r.Context.Language != "" {
		return r.Context.Language
	}
	if r.Context.TaskType != "" {
		return r.Context.TaskType
	}
	return "unknown"
}

// SourceText is what gets embedded: the exchange as one document.
func (r Record) SourceText() string {
	return "user: " + r.Context.RawPrompt + "\nassistant: " + r.Response
}

// storeRecord flattens the record for the vector store. The id is derived
// from the request id so feedback can address the stored record later.
func (r Record) storeRecord(embedding []float32) vectorstore.Record {
	return vectorstore.Record{
		ID:        "exp_" + r.Context.RequestID,
		Embedding: embedding,
		Text:      r.SourceText(),
		Score:     r.Outcome.Score(),
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]string{
			"request_id":       r.Context.RequestID,
			"protocol_variant": string(r.Context.Variant),
			"model":            r.Context.Model,
			"outcome":          string(r.Outcome),
			"pattern_type":     r.PatternType(),
			"tokens_in":        strconv.Itoa(r.Snapshot.TokensIn),
			"tokens_out":       strconv.Itoa(r.Snapshot.TokensOut),
			"duration_ms":      strconv.FormatInt(r.Snapshot.TotalDuration.Milliseconds(), 10),
			"timestamp":        time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// InferOutcome derives the outcome from how the stream ended. A backend
// error is a failure; a clean finish with a stated reason is a success; a
// client that walked away mid-stream tells us nothing.
func InferOutcome(state protocol.StreamState, doneReason string, upstreamErr bool) Outcome {
	switch {
	case upstreamErr:
		return OutcomeFailure
	case state == protocol.StreamCompleted && doneReason != "":
		return OutcomeSuccess
	default:
		return OutcomeUnknown
	}
}
