package experience

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ollamatic/ollamatic/internal/protocol"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

func TestOutcomeScore(t *testing.T) {
	assert.Equal(t, 1.0, OutcomeSuccess.Score())
	assert.Equal(t, 0.0, OutcomeFailure.Score())
	assert.Equal(t, 0.5, OutcomeUnknown.Score())
}

func TestInferOutcome(t *testing.T) {
	assert.Equal(t, OutcomeFailure, InferOutcome(protocol.StreamStreaming, "", true))
	assert.Equal(t, OutcomeSuccess, InferOutcome(protocol.StreamCompleted, "stop", false))
	assert.Equal(t, OutcomeUnknown, InferOutcome(protocol.StreamCompleted, "", false))
	assert.Equal(t, OutcomeUnknown, InferOutcome(protocol.StreamAborted, "", false),
		"a client that walks away tells us nothing about quality")
}

func TestRecordCollection(t *testing.T) {
	failed := Record{Outcome: OutcomeFailure}
	assert.Equal(t, vectorstore.CollectionErrors, failed.Collection())

	code := Record{
		Context: protocol.RequestContext{RawPrompt: "fix this:\n```go\nfunc main() {}\n```"},
		Outcome: OutcomeSuccess,
	}
	assert.Equal(t, vectorstore.CollectionCodeSnippets, code.Collection())

	codeInResponse := Record{
		Context:  protocol.RequestContext{RawPrompt: "show me an example"},
		Response: "sure:\n```python\nprint()\n```",
		Outcome:  OutcomeSuccess,
	}
	assert.Equal(t, vectorstore.CollectionCodeSnippets, codeInResponse.Collection())

	chat := Record{Context: protocol.RequestContext{RawPrompt: "hello"}, Outcome: OutcomeSuccess}
	assert.Equal(t, vectorstore.CollectionConversations, chat.Collection())
}

func TestRecordPatternType(t *testing.T) {
	assert.Equal(t, "go", Record{Context: protocol.RequestContext{Language: "go", TaskType: "debugging"}}.PatternType())
	assert.Equal(t, "debugging", Record{Context: protocol.RequestContext{TaskType: "debugging"}}.PatternType())
	assert.Equal(t, "unknown", Record{}.PatternType())
}

func TestStoreRecordIdentity(t *testing.T) {
	rec := Record{
		Context: protocol.RequestContext{
			RequestID: "abc-123",
			Model:     "llama3",
			RawPrompt: "hi",
			Variant:   protocol.VariantNative,
		},
		Response: "hello",
		Outcome:  OutcomeSuccess,
	}
	sr := rec.storeRecord([]float32{1, 2})

	assert.Equal(t, "exp_abc-123", sr.ID, "the id is derived from the request id")
	assert.Equal(t, "abc-123", sr.Metadata["request_id"])
	assert.Equal(t, "success", sr.Metadata["outcome"])
	assert.Equal(t, "llama3", sr.Metadata["model"])
	assert.Equal(t, 1.0, sr.Score)
	assert.Equal(t, "user: hi\nassistant: hello", sr.Text)
}
