package protocol

import (
	"encoding/json"
	"fmt"
)

// Wire structs for the chat-completions-compatible shape. Clients built
// against that API parse these byte-for-byte, so field sets and omission
// rules are fixed here rather than shared with the native encoding.

type openaiContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openaiMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type openaiChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type openaiStreamChoice struct {
	Index        int         `json:"index"`
	Delta        openaiDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func translateOpenAIRequest(raw []byte) (*CanonicalRequest, error) {
	var req openaiChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: invalid request body", ErrProtocol)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrProtocol)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: messages are required", ErrProtocol)
	}

	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		content, err := flattenContent(m.Content)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, Message{Role: m.Role, Content: content})
	}

	opts := map[string]any{}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		opts["top_p"] = *req.TopP
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if stop := parseStop(req.Stop); len(stop) > 0 {
		opts["stop"] = stop
	}
	if len(opts) == 0 {
		opts = nil
	}

	return &CanonicalRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   req.Stream,
		Options:  opts,
		Kind:     KindChat,
	}, nil
}

// flattenContent accepts either a plain string or the content-part array form
// and reduces both to text.
func flattenContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []openaiContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("%w: unsupported message content", ErrProtocol)
	}
	var out string
	for _, p := range parts {
		if p.Type == "text" {
			if out != "" {
				out += " "
			}
			out += p.Text
		}
	}
	return out, nil
}

func parseStop(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

// encodeOpenAIResponse renders a completed (non-streaming) canonical result.
func encodeOpenAIResponse(ch Chunk, model, streamID string, created int64) ([]byte, error) {
	reason := ch.DoneReason
	if reason == "" {
		reason = "stop"
	}
	return json.Marshal(openaiChatResponse{
		ID:      streamID,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []openaiChoice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: ch.Content},
			FinishReason: reason,
		}},
		Usage: openaiUsage{
			PromptTokens:     ch.PromptEvalCount,
			CompletionTokens: ch.EvalCount,
			TotalTokens:      ch.PromptEvalCount + ch.EvalCount,
		},
	})
}

func encodeOpenAIRoleChunk(model, streamID string, created int64) ([]byte, error) {
	return json.Marshal(openaiStreamChunk{
		ID:      streamID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openaiStreamChoice{{Index: 0, Delta: openaiDelta{Role: "assistant"}}},
	})
}

func encodeOpenAIContentChunk(content, model, streamID string, created int64) ([]byte, error) {
	return json.Marshal(openaiStreamChunk{
		ID:      streamID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openaiStreamChoice{{Index: 0, Delta: openaiDelta{Content: content}}},
	})
}

func encodeOpenAIFinalChunk(ch Chunk, model, streamID string, created int64) ([]byte, error) {
	reason := ch.DoneReason
	if reason == "" {
		reason = "stop"
	}
	return json.Marshal(openaiStreamChunk{
		ID:      streamID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openaiStreamChoice{{Index: 0, Delta: openaiDelta{}, FinishReason: &reason}},
		Usage: &openaiUsage{
			PromptTokens:     ch.PromptEvalCount,
			CompletionTokens: ch.EvalCount,
			TotalTokens:      ch.PromptEvalCount + ch.EvalCount,
		},
	})
}

func encodeOpenAIError(message string) []byte {
	var body openaiErrorBody
	body.Error.Message = message
	body.Error.Type = "invalid_request_error"
	b, _ := json.Marshal(body)
	return b
}
