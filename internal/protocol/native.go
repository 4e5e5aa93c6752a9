package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire structs for the backend-native shape. Field names and omission rules
// follow the backend's own encoding so re-encoded chunks are indistinguishable
// from pass-through.

type nativeGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  *bool          `json:"stream,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type nativeChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   *bool          `json:"stream,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type nativeGenerateChunk struct {
	Model              string `json:"model"`
	CreatedAt          string `json:"created_at"`
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason,omitempty"`
	TotalDuration      int64  `json:"total_duration,omitempty"`
	LoadDuration       int64  `json:"load_duration,omitempty"`
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          int    `json:"eval_count,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`
}

type nativeChatChunk struct {
	Model              string  `json:"model"`
	CreatedAt          string  `json:"created_at"`
	Message            Message `json:"message"`
	Done               bool    `json:"done"`
	DoneReason         string  `json:"done_reason,omitempty"`
	TotalDuration      int64   `json:"total_duration,omitempty"`
	LoadDuration       int64   `json:"load_duration,omitempty"`
	PromptEvalCount    int     `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64   `json:"prompt_eval_duration,omitempty"`
	EvalCount          int     `json:"eval_count,omitempty"`
	EvalDuration       int64   `json:"eval_duration,omitempty"`
}

type nativeErrorBody struct {
	Error string `json:"error"`
}

func translateNativeRequest(raw []byte, kind Kind) (*CanonicalRequest, error) {
	switch kind {
	case KindGenerate:
		var req nativeGenerateRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: invalid request body", ErrProtocol)
		}
		if req.Model == "" {
			return nil, fmt.Errorf("%w: model is required", ErrProtocol)
		}
		if req.Prompt == "" {
			return nil, fmt.Errorf("%w: prompt is required", ErrProtocol)
		}

		msgs := make([]Message, 0, 2)
		if req.System != "" {
			msgs = append(msgs, Message{Role: "system", Content: req.System})
		}
		msgs = append(msgs, Message{Role: "user", Content: req.Prompt})

		return &CanonicalRequest{
			Model:    req.Model,
			Messages: msgs,
			Stream:   streamDefaultTrue(req.Stream),
			Options:  req.Options,
			Kind:     KindGenerate,
		}, nil

	case KindChat:
		var req nativeChatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: invalid request body", ErrProtocol)
		}
		if req.Model == "" {
			return nil, fmt.Errorf("%w: model is required", ErrProtocol)
		}
		if len(req.Messages) == 0 {
			return nil, fmt.Errorf("%w: messages are required", ErrProtocol)
		}

		return &CanonicalRequest{
			Model:    req.Model,
			Messages: req.Messages,
			Stream:   streamDefaultTrue(req.Stream),
			Options:  req.Options,
			Kind:     KindChat,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown endpoint kind %q", ErrProtocol, kind)
	}
}

// The native shape streams by default when the field is absent.
func streamDefaultTrue(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

// encodeNativeChunk renders one canonical chunk as a native NDJSON line.
func encodeNativeChunk(ch Chunk, model string, kind Kind) ([]byte, error) {
	createdAt := ch.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if kind == KindGenerate {
		return json.Marshal(nativeGenerateChunk{
			Model:              model,
			CreatedAt:          createdAt,
			Response:           ch.Content,
			Done:               ch.Done,
			DoneReason:         ch.DoneReason,
			TotalDuration:      ch.TotalDuration,
			LoadDuration:       ch.LoadDuration,
			PromptEvalCount:    ch.PromptEvalCount,
			PromptEvalDuration: ch.PromptEvalDuration,
			EvalCount:          ch.EvalCount,
			EvalDuration:       ch.EvalDuration,
		})
	}

	return json.Marshal(nativeChatChunk{
		Model:              model,
		CreatedAt:          createdAt,
		Message:            Message{Role: "assistant", Content: ch.Content},
		Done:               ch.Done,
		DoneReason:         ch.DoneReason,
		TotalDuration:      ch.TotalDuration,
		LoadDuration:       ch.LoadDuration,
		PromptEvalCount:    ch.PromptEvalCount,
		PromptEvalDuration: ch.PromptEvalDuration,
		EvalCount:          ch.EvalCount,
		EvalDuration:       ch.EvalDuration,
	})
}

func encodeNativeError(message string) []byte {
	b, _ := json.Marshal(nativeErrorBody{Error: message})
	return b
}
