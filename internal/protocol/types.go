package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Variant identifies an inbound wire shape.
type Variant string

const (
	VariantNative Variant = "native"
	VariantOpenAI Variant = "openai"
)

// Kind distinguishes the two native endpoints. The chat-completions shape
// always maps to KindChat.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindChat     Kind = "chat"
)

// ErrProtocol marks a malformed or incompatible inbound request.
var ErrProtocol = errors.New("protocol error")

// UpstreamError carries a backend failure so it can be re-encoded into the
// client's error envelope without losing the original status.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// Message is a single chat message in the canonical form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CanonicalRequest is the protocol-neutral form every inbound request is
// reduced to before it reaches the backend.
type CanonicalRequest struct {
	Model    string
	Messages []Message
	Stream   bool
	Options  map[string]any
	Kind     Kind
}

// Prompt returns the user-authored prompt text: the concatenated content of
// all user messages. Equivalent requests sent via either wire shape reduce to
// the same prompt.
func (r *CanonicalRequest) Prompt() string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == "user" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// SetPrompt replaces the last user message content (or the sole prompt for a
// generate-style request) with the rewritten text.
func (r *CanonicalRequest) SetPrompt(text string) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			r.Messages[i].Content = text
			return
		}
	}
	r.Messages = append(r.Messages, Message{Role: "user", Content: text})
}

// Chunk is the canonical form of one unit of a streamed response. A final
// chunk has Done set and carries the backend's aggregate stats unmodified.
type Chunk struct {
	Content            string
	Done               bool
	DoneReason         string
	CreatedAt          string
	TotalDuration      int64
	LoadDuration       int64
	PromptEvalCount    int
	PromptEvalDuration int64
	EvalCount          int
	EvalDuration       int64
	Err                error
}

// RequestContext is the immutable per-request record the rest of the system
// keys off. Built exactly once when a request is admitted.
type RequestContext struct {
	RequestID string
	Model     string
	RawPrompt string
	Language  string
	TaskType  string
	Stream    bool
	Variant   Variant
	Kind      Kind
	Augment   bool
	Started   time.Time
}
