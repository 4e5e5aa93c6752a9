package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollamatic/ollamatic/internal/protocol"
)

func chatRequest(stream bool) *protocol.CanonicalRequest {
	return &protocol.CanonicalRequest{
		Model:    "llama3",
		Messages: []protocol.Message{{Role: "user", Content: "hi"}},
		Stream:   stream,
		Kind:     protocol.KindChat,
	}
}

func TestCompleteChat(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req["model"])
		assert.Equal(t, false, req["stream"])

		fmt.Fprint(w, `{"model":"llama3","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"hello"},"done":true,"done_reason":"stop","eval_count":5,"prompt_eval_count":3}`)
	}))
	defer fake.Close()

	c := NewClient(fake.URL, "embed-model")
	ch, err := c.Complete(context.Background(), chatRequest(false))
	require.NoError(t, err)

	assert.Equal(t, "hello", ch.Content)
	assert.True(t, ch.Done)
	assert.Equal(t, "stop", ch.DoneReason)
	assert.Equal(t, 5, ch.EvalCount)
	assert.Equal(t, 3, ch.PromptEvalCount)
}

func TestCompleteGenerateSplitsSystemMessage(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be brief", req["system"])
		assert.Equal(t, "hi", req["prompt"])

		fmt.Fprint(w, `{"model":"llama3","created_at":"2025-01-01T00:00:00Z","response":"ok","done":true}`)
	}))
	defer fake.Close()

	c := NewClient(fake.URL, "embed-model")
	ch, err := c.Complete(context.Background(), &protocol.CanonicalRequest{
		Model: "llama3",
		Messages: []protocol.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
		Kind: protocol.KindGenerate,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", ch.Content)
}

func TestCompleteUpstreamStatusError(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model not found"}`)
	}))
	defer fake.Close()

	c := NewClient(fake.URL, "embed-model")
	_, err := c.Complete(context.Background(), chatRequest(false))
	require.Error(t, err)

	var ue *protocol.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusNotFound, ue.StatusCode)
	assert.Contains(t, ue.Message, "model not found")
}

func TestCompleteBackendUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "embed-model")
	_, err := c.Complete(context.Background(), chatRequest(false))
	require.Error(t, err)

	var ue *protocol.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusServiceUnavailable, ue.StatusCode)
}

func TestStreamDecodesChunks(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"model":"m","created_at":"t","message":{"role":"assistant","content":"a"},"done":false}`)
		fmt.Fprintln(w, `{"model":"m","created_at":"t","message":{"role":"assistant","content":"b"},"done":false}`)
		fmt.Fprintln(w, `{"model":"m","created_at":"t","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":2}`)
	}))
	defer fake.Close()

	c := NewClient(fake.URL, "embed-model")
	stream, err := c.Stream(context.Background(), chatRequest(true))
	require.NoError(t, err)

	var chunks []protocol.Chunk
	for ch := range stream {
		require.NoError(t, ch.Err)
		chunks = append(chunks, ch)
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, "a", chunks[0].Content)
	assert.False(t, chunks[0].Done)
	assert.True(t, chunks[2].Done)
	assert.Equal(t, "stop", chunks[2].DoneReason)
}

func TestStreamSynthesizesDoneOnEOF(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"model":"m","created_at":"t","message":{"role":"assistant","content":"partial"},"done":false}`)
		// body ends without a done chunk
	}))
	defer fake.Close()

	c := NewClient(fake.URL, "embed-model")
	stream, err := c.Stream(context.Background(), chatRequest(true))
	require.NoError(t, err)

	var chunks []protocol.Chunk
	for ch := range stream {
		chunks = append(chunks, ch)
	}
	require.Len(t, chunks, 2)
	assert.True(t, chunks[1].Done)
	assert.NoError(t, chunks[1].Err)
}

func TestStreamInlineErrorChunk(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"out of memory"}`)
	}))
	defer fake.Close()

	c := NewClient(fake.URL, "embed-model")
	stream, err := c.Stream(context.Background(), chatRequest(true))
	require.NoError(t, err)

	ch := <-stream
	require.Error(t, ch.Err)
	var ue *protocol.UpstreamError
	require.ErrorAs(t, ch.Err, &ue)
	assert.Contains(t, ue.Message, "out of memory")

	_, open := <-stream
	assert.False(t, open, "the channel closes after an error chunk")
}

func TestStreamContextCancellation(t *testing.T) {
	release := make(chan struct{})
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"model":"m","created_at":"t","message":{"role":"assistant","content":"x"},"done":false}`)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer fake.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(fake.URL, "embed-model")
	stream, err := c.Stream(ctx, chatRequest(true))
	require.NoError(t, err)

	first := <-stream
	require.NoError(t, first.Err)

	cancel()

	select {
	case ch := <-stream:
		assert.ErrorIs(t, ch.Err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not observe cancellation")
	}
}

func TestEmbed(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-model", req["model"])

		fmt.Fprint(w, `{"embeddings":[[0.1,0.2,0.3]]}`)
	}))
	defer fake.Close()

	c := NewClient(fake.URL, "embed-model")
	vec, err := c.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestTagsPassthrough(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3"}]}`)
	}))
	defer fake.Close()

	c := NewClient(fake.URL, "embed-model")
	body, err := c.Tags(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"models":[{"name":"llama3"}]}`, string(body))
}
