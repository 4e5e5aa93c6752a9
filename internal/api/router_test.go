package api

import (
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
	"github.com/ollamatic/ollamatic/internal/proxy"
	"github.com/ollamatic/ollamatic/internal/template"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

// fakeBackend answers the subset of the inference API the tests touch.
func fakeBackend() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"llama3"}]}`)
		case "/api/embed":
			fmt.Fprint(w, `{"embeddings":[[0.5,0.5]]}`)
		case "/api/chat":
			fmt.Fprint(w, `{"model":"llama3","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"hi"},"done":true,"done_reason":"stop"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func testServer(t *testing.T) (*httptest.Server, vectorstore.Store, *experience.Registry) {
	t.Helper()
	fake := fakeBackend()
	t.Cleanup(fake.Close)

	client := backend.NewClient(fake.URL, "embed-model")
	store := vectorstore.NewMemoryStore()
	templates := template.NewMemoryRepository()
	registry := experience.NewRegistry()
	history := metrics.NewMemoryHistory(10)
	feedback := experience.NewFeedback(store, client, registry)
	collector := experience.NewCollector(store, client, registry, 16, 1)
	collector.Start(1)
	t.Cleanup(collector.Stop)

	p := proxy.New(client, nil, collector, history, nil, false)

	router := NewRouter(Deps{
		Backend:   client,
		Proxy:     p,
		Templates: templates,
		Store:     store,
		Registry:  registry,
		Feedback:  feedback,
		History:   history,
	})
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return srv, store, registry
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["backend"])
}

func TestTagsProxied(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/tags")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["models"])
}

func TestChatEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/api/chat", `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	body := decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["done"])
}

func TestTemplateCRUDOverHTTP(t *testing.T) {
	srv, _, _ := testServer(t)
	base := srv.URL + "/api/v1/templates"

	create := postJSON(t, base+"/", `{
		"name": "coding",
		"template_text": "Language: {language}",
		"variable_names": ["language"],
		"applicable_model_id": "*",
		"priority": 2
	}`)
	created := decode(t, create)
	require.Equal(t, http.StatusCreated, create.StatusCode)
	id := created["id"].(string)

	resp, err := http.Get(base + "/" + id)
	require.NoError(t, err)
	got := decode(t, resp)
	assert.Equal(t, "coding", got["name"])

	// invalid: references an undeclared variable
	bad := postJSON(t, base+"/", `{
		"name": "broken",
		"template_text": "{mystery}",
		"variable_names": [],
		"applicable_model_id": "*"
	}`)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, base+"/"+id, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	resp, err = http.Get(base + "/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFeedbackNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/feedback", `{"request_id":"ghost","success":true}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFeedbackRoundTrip(t *testing.T) {
	srv, store, registry := testServer(t)

	// store an experience directly, the way the collector would
	require.NoError(t, store.Upsert(context.Background(), vectorstore.CollectionConversations, vectorstore.Record{
		ID:   "exp_req-9",
		Text: "user: hi\nassistant: hello",
		Metadata: map[string]string{
			"request_id":   "req-9",
			"outcome":      "unknown",
			"pattern_type": "unknown",
		},
		Score:     0.5,
		CreatedAt: time.Now().UTC(),
	}))
	registry.Record("unknown", vectorstore.CollectionConversations, experience.OutcomeUnknown, "hi")

	resp := postJSON(t, srv.URL+"/api/v1/feedback", `{"request_id":"req-9","success":true,"comment":"solved it"}`)
	body := decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", body["status"])

	ins, ok := registry.Get("unknown", vectorstore.CollectionConversations)
	require.True(t, ok)
	assert.Equal(t, 1.0, ins.SuccessRate)
}

func TestInsightsEndpoint(t *testing.T) {
	srv, _, registry := testServer(t)
	registry.Record("go", vectorstore.CollectionCodeSnippets, experience.OutcomeSuccess, "x")

	resp, err := http.Get(srv.URL + "/api/v1/insights")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
}

func TestCollectionsEndpoints(t *testing.T) {
	srv, store, _ := testServer(t)
	require.NoError(t, store.Upsert(context.Background(), vectorstore.CollectionCodeSnippets, vectorstore.Record{
		ID: "r1", Text: "func main() {}", Embedding: []float32{0.5, 0.5}, Score: 1, CreatedAt: time.Now().UTC(),
	}))

	resp, err := http.Get(srv.URL + "/api/v1/collections/")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["collections"], len(vectorstore.Collections))

	search := postJSON(t, srv.URL+"/api/v1/collections/code_snippets/search", `{"query":"main function"}`)
	sbody := decode(t, search)
	assert.Equal(t, http.StatusOK, search.StatusCode)
	assert.Equal(t, float64(1), sbody["count"])

	unknown := postJSON(t, srv.URL+"/api/v1/collections/nope/search", `{"query":"x"}`)
	defer unknown.Body.Close()
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)

	export, err := http.Get(srv.URL + "/api/v1/collections/code_snippets/export")
	require.NoError(t, err)
	ebody := decode(t, export)
	assert.Equal(t, "code_snippets", ebody["collection"])

	prune := postJSON(t, srv.URL+"/api/v1/collections/code_snippets/prune", `{"by_score":true,"min_score":0.5}`)
	pbody := decode(t, prune)
	assert.Equal(t, http.StatusOK, prune.StatusCode)
	assert.Equal(t, "pruned", pbody["status"])
}

func TestPatternEndpoints(t *testing.T) {
	srv, _, registry := testServer(t)
	registry.Record("go", vectorstore.CollectionCodeSnippets, experience.OutcomeSuccess, "a")
	registry.Record("go", vectorstore.CollectionErrors, experience.OutcomeFailure, "b")
	registry.Record("python", vectorstore.CollectionCodeSnippets, experience.OutcomeSuccess, "c")

	resp, err := http.Get(srv.URL + "/api/v1/patterns/languages")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["languages"], "go")
	assert.Contains(t, body["languages"], "rust")

	resp, err = http.Get(srv.URL + "/api/v1/patterns/language/go")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total_interactions"])
	assert.Equal(t, 0.5, body["success_rate"])
	assert.Len(t, body["insights"], 2)

	resp, err = http.Get(srv.URL + "/api/v1/patterns/language/cobol")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/patterns/recent?limit=2")
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])

	resp, err = http.Get(srv.URL + "/api/v1/patterns/recent?limit=zero")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryEndpoints(t *testing.T) {
	srv, _, _ := testServer(t)

	// drive one request through so history has a row
	resp := postJSON(t, srv.URL+"/api/chat", `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":false}`)
	resp.Body.Close()

	hist, err := http.Get(srv.URL + "/api/request_history")
	require.NoError(t, err)
	hbody := decode(t, hist)
	assert.Equal(t, float64(1), hbody["count"])

	avg, err := http.Get(srv.URL + "/api/average_stats")
	require.NoError(t, err)
	abody := decode(t, avg)
	assert.Contains(t, abody, "average_tokens_used")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
