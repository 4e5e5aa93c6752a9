package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollamatic/ollamatic/internal/backend"
	"github.com/ollamatic/ollamatic/internal/experience"
	"github.com/ollamatic/ollamatic/internal/metrics"
	"github.com/ollamatic/ollamatic/internal/protocol"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

type noopEmbedder struct{}

func (noopEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func newProxy(t *testing.T, backendURL string) (*Proxy, metrics.History, *vectorstore.MemoryStore, *experience.Collector) {
	t.Helper()
	client := backend.NewClient(backendURL, "embed-model")
	history := metrics.NewMemoryHistory(100)
	store := vectorstore.NewMemoryStore()
	collector := experience.NewCollector(store, noopEmbedder{}, experience.NewRegistry(), 32, 1)
	collector.Start(1)
	return New(client, nil, collector, history, nil, false), history, store, collector
}

func chatChunk(content string, done bool, extra map[string]any) string {
	body := map[string]any{
		"model":      "llama3",
		"created_at": "2025-01-01T00:00:00Z",
		"message":    map[string]any{"role": "assistant", "content": content},
		"done":       done,
	}
	for k, v := range extra {
		body[k] = v
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func TestHandleNonStreamingNativeChat(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, false, req["stream"])

		fmt.Fprint(w, chatChunk("hello there", true, map[string]any{
			"done_reason":       "stop",
			"prompt_eval_count": 8,
			"eval_count":        3,
		}))
	}))
	defer fake.Close()

	p, history, store, collector := newProxy(t, fake.URL)

	body := `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	p.Handle(rec, req, protocol.VariantNative, protocol.KindChat, false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["done"])
	assert.Equal(t, "hello there", resp["message"].(map[string]any)["content"])
	assert.Equal(t, float64(3), resp["eval_count"])

	entries, err := history.Recent(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "llama3", entries[0].Model)
	assert.Equal(t, 11, entries[0].TokensUsed)

	collector.Stop()
	matches, err := store.Query(context.Background(), vectorstore.CollectionConversations, nil, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "success", matches[0].Metadata["outcome"])
}

func TestHandleStreamingNativeChat(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, chatChunk("hel", false, nil))
		flusher.Flush()
		fmt.Fprintln(w, chatChunk("lo", false, nil))
		flusher.Flush()
		fmt.Fprintln(w, chatChunk("", true, map[string]any{
			"done_reason": "stop",
			"eval_count":  2,
		}))
	}))
	defer fake.Close()

	p, history, _, collector := newProxy(t, fake.URL)
	defer collector.Stop()

	body := `{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	p.Handle(rec, req, protocol.VariantNative, protocol.KindChat, false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, true, last["done"])
	assert.Equal(t, "stop", last["done_reason"])

	entries, err := history.Recent(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestHandleStreamingOpenAI(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, chatChunk("answer", false, nil))
		fmt.Fprintln(w, chatChunk("", true, map[string]any{"done_reason": "stop", "eval_count": 1, "prompt_eval_count": 4}))
	}))
	defer fake.Close()

	p, _, _, collector := newProxy(t, fake.URL)
	defer collector.Stop()

	body := `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	p.Handle(rec, req, protocol.VariantOpenAI, protocol.KindChat, false)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, `"delta":{"role":"assistant"}`)
	assert.Contains(t, out, `"content":"answer"`)
	assert.Contains(t, out, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestHandleBadRequest(t *testing.T) {
	p, _, _, collector := newProxy(t, "http://127.0.0.1:0")
	defer collector.Stop()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	p.Handle(rec, req, protocol.VariantNative, protocol.KindChat, false)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "model is required")
}

func TestHandleBadRequestOpenAIEnvelope(t *testing.T) {
	p, _, _, collector := newProxy(t, "http://127.0.0.1:0")
	defer collector.Stop()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	p.Handle(rec, req, protocol.VariantOpenAI, protocol.KindChat, false)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "invalid_request_error", errObj["type"])
}

func TestHandleUpstreamErrorKeepsStatus(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model not found"}`)
	}))
	defer fake.Close()

	p, _, store, collector := newProxy(t, fake.URL)

	body := `{"model":"missing","messages":[{"role":"user","content":"hi"}],"stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	p.Handle(rec, req, protocol.VariantNative, protocol.KindChat, false)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "model not found")

	collector.Stop()
	matches, err := store.Query(context.Background(), vectorstore.CollectionErrors, nil, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1, "backend failures are recorded as failure experiences")
	assert.Equal(t, "failure", matches[0].Metadata["outcome"])
}

// A client that disconnects mid-stream aborts the forwarding loop; the
// accounting keeps only the chunks actually delivered and nothing is sent
// afterwards.
func TestHandleClientDisconnectMidStream(t *testing.T) {
	backendDone := make(chan struct{})
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(backendDone)
		flusher := w.(http.Flusher)
		evals := []int{2, 4, 6}
		for i, ev := range evals {
			fmt.Fprintln(w, chatChunk(fmt.Sprintf("chunk-%d ", i), false, map[string]any{"eval_count": ev}))
			flusher.Flush()
		}
		// hold the stream open until the proxy drops the upstream connection
		<-r.Context().Done()
	}))
	defer fake.Close()

	p, history, store, collector := newProxy(t, fake.URL)

	front := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Handle(w, r, protocol.VariantNative, protocol.KindChat, false)
	}))
	defer front.Close()

	ctx, cancel := context.WithCancel(context.Background())
	body := `{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, front.URL, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for i := 0; i < 3; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Contains(t, line, fmt.Sprintf("chunk-%d", i))
	}

	// walk away after three chunks
	cancel()

	select {
	case <-backendDone:
	case <-time.After(3 * time.Second):
		t.Fatal("upstream connection was not closed after client disconnect")
	}

	// wait for the proxy handler to finalize
	waitForHistory(t, history)

	entries, err := history.Recent(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 6, entries[0].TokensUsed, "delta sum over the three delivered chunks")

	collector.Stop()
	matches, qerr := store.Query(context.Background(), vectorstore.CollectionConversations, nil, 10, nil)
	require.NoError(t, qerr)
	require.Len(t, matches, 1)
	assert.Equal(t, "unknown", matches[0].Metadata["outcome"], "a disconnect says nothing about quality")
}

func waitForHistory(t *testing.T, history metrics.History) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := history.Recent(context.Background())
		require.NoError(t, err)
		if len(entries) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("request was never finalized")
}
