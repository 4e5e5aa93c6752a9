// Package backend talks the native wire protocol to the local inference
// server. It is the only component that opens upstream connections; the
// translator owns re-encoding, so chunks cross this boundary in canonical
// form with backend-reported numbers untouched.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ollamatic/ollamatic/internal/protocol"
)

type Client struct {
	baseURL    string
	embedModel string
	httpClient *http.Client
}

func NewClient(baseURL, embedModel string) *Client {
	return &Client{
		baseURL:    baseURL,
		embedModel: embedModel,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

type wireRequest struct {
	Model    string             `json:"model"`
	Prompt   string             `json:"prompt,omitempty"`
	System   string             `json:"system,omitempty"`
	Messages []protocol.Message `json:"messages,omitempty"`
	Stream   bool               `json:"stream"`
	Options  map[string]any     `json:"options,omitempty"`
}

type wireChunk struct {
	Model              string           `json:"model"`
	CreatedAt          string           `json:"created_at"`
	Response           string           `json:"response"`
	Message            protocol.Message `json:"message"`
	Done               bool             `json:"done"`
	DoneReason         string           `json:"done_reason"`
	TotalDuration      int64            `json:"total_duration"`
	LoadDuration       int64            `json:"load_duration"`
	PromptEvalCount    int              `json:"prompt_eval_count"`
	PromptEvalDuration int64            `json:"prompt_eval_duration"`
	EvalCount          int              `json:"eval_count"`
	EvalDuration       int64            `json:"eval_duration"`
	Error              string           `json:"error"`
}

func (c *Client) endpoint(kind protocol.Kind) string {
	if kind == protocol.KindChat {
		return c.baseURL + "/api/chat"
	}
	return c.baseURL + "/api/generate"
}

func (c *Client) buildWireRequest(req *protocol.CanonicalRequest, stream bool) wireRequest {
	wr := wireRequest{
		Model:   req.Model,
		Stream:  stream,
		Options: req.Options,
	}
	if req.Kind == protocol.KindChat {
		wr.Messages = req.Messages
		return wr
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			wr.System = m.Content
		case "user":
			wr.Prompt = m.Content
		}
	}
	return wr
}

func (c *Client) post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &protocol.UpstreamError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    fmt.Sprintf("backend unreachable at %s", c.baseURL),
		}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &protocol.UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    string(msg),
		}
	}
	return resp, nil
}

// Complete issues a non-streaming request and returns the single final chunk.
func (c *Client) Complete(ctx context.Context, req *protocol.CanonicalRequest) (protocol.Chunk, error) {
	resp, err := c.post(ctx, c.endpoint(req.Kind), c.buildWireRequest(req, false))
	if err != nil {
		return protocol.Chunk{}, err
	}
	defer resp.Body.Close()

	var wc wireChunk
	if err := json.NewDecoder(resp.Body).Decode(&wc); err != nil {
		return protocol.Chunk{}, fmt.Errorf("decode response: %w", err)
	}
	if wc.Error != "" {
		return protocol.Chunk{}, &protocol.UpstreamError{StatusCode: http.StatusBadGateway, Message: wc.Error}
	}
	return toCanonical(wc, req.Kind), nil
}

// Stream issues a streaming request and decodes the NDJSON body onto a
// channel. The channel closes after the final chunk or an error chunk; the
// upstream connection is closed as soon as ctx is cancelled.
func (c *Client) Stream(ctx context.Context, req *protocol.CanonicalRequest) (<-chan protocol.Chunk, error) {
	resp, err := c.post(ctx, c.endpoint(req.Kind), c.buildWireRequest(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan protocol.Chunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		for {
			var wc wireChunk
			if err := dec.Decode(&wc); err != nil {
				if errors.Is(err, io.EOF) {
					// Upstream ended without a done chunk; synthesize the
					// terminator the translator needs.
					ch <- protocol.Chunk{Done: true}
				} else {
					ch <- protocol.Chunk{Err: streamErr(ctx, err), Done: true}
				}
				return
			}
			if wc.Error != "" {
				ch <- protocol.Chunk{
					Err:  &protocol.UpstreamError{StatusCode: http.StatusBadGateway, Message: wc.Error},
					Done: true,
				}
				return
			}

			out := toCanonical(wc, req.Kind)
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
			if out.Done {
				return
			}
		}
	}()

	return ch, nil
}

func streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &protocol.UpstreamError{StatusCode: http.StatusBadGateway, Message: err.Error()}
}

func toCanonical(wc wireChunk, kind protocol.Kind) protocol.Chunk {
	content := wc.Response
	if kind == protocol.KindChat {
		content = wc.Message.Content
	}
	return protocol.Chunk{
		Content:            content,
		Done:               wc.Done,
		DoneReason:         wc.DoneReason,
		CreatedAt:          wc.CreatedAt,
		TotalDuration:      wc.TotalDuration,
		LoadDuration:       wc.LoadDuration,
		PromptEvalCount:    wc.PromptEvalCount,
		PromptEvalDuration: wc.PromptEvalDuration,
		EvalCount:          wc.EvalCount,
		EvalDuration:       wc.EvalDuration,
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for one text using the configured
// embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.post(ctx, c.baseURL+"/api/embed", embedRequest{
		Model: c.embedModel,
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if len(er.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return er.Embeddings[0], nil
}

// Tags proxies the model listing endpoint verbatim.
func (c *Client) Tags(ctx context.Context) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &protocol.UpstreamError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    fmt.Sprintf("backend unreachable at %s", c.baseURL),
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &protocol.UpstreamError{StatusCode: resp.StatusCode, Message: string(msg)}
	}
	return io.ReadAll(resp.Body)
}

// Healthy reports whether the backend answers its model listing endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.Tags(ctx)
	return err
}
