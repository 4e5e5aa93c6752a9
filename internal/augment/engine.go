// Package augment optionally rewrites outbound prompts using a selected
// template and retrieval over past experiences. Every failure inside the
// engine falls back silently to the unmodified prompt; augmentation never
// aborts a request.
package augment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ollamatic/ollamatic/internal/protocol"
	"github.com/ollamatic/ollamatic/internal/template"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
	"github.com/ollamatic/ollamatic/pkg/tokenizer"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// InsightSource supplies formatted pattern summaries for the
// {learned_patterns} placeholder.
type InsightSource interface {
	Summaries(collection string) []string
}

type Options struct {
	TopK            int
	SnippetMaxChars int
	ContextBudget   int // tokens
	EmbedCacheSize  int
}

func (o *Options) withDefaults() {
	if o.TopK <= 0 {
		o.TopK = 3
	}
	if o.SnippetMaxChars <= 0 {
		o.SnippetMaxChars = 600
	}
	if o.ContextBudget <= 0 {
		o.ContextBudget = 4096
	}
	if o.EmbedCacheSize <= 0 {
		o.EmbedCacheSize = 512
	}
}

// Result reports what the engine did with one request.
type Result struct {
	Prompt    string
	Augmented bool
}

type Engine struct {
	templates template.Repository
	store     vectorstore.Store
	embedder  Embedder
	insights  InsightSource
	counter   tokenizer.Counter
	cache     *lru.Cache[string, []float32]
	opts      Options
}

func NewEngine(templates template.Repository, store vectorstore.Store, embedder Embedder, insights InsightSource, counter tokenizer.Counter, opts Options) *Engine {
	opts.withDefaults()
	if counter == nil {
		counter = tokenizer.Estimate
	}
	cache, _ := lru.New[string, []float32](opts.EmbedCacheSize)
	return &Engine{
		templates: templates,
		store:     store,
		embedder:  embedder,
		insights:  insights,
		counter:   counter,
		cache:     cache,
		opts:      opts,
	}
}

// Rewrite renders the selected template for the request, or returns the raw
// prompt untouched when no template matches or anything fails. The output is
// deterministic for identical request context and store state.
func (e *Engine) Rewrite(ctx context.Context, rc protocol.RequestContext) Result {
	passthrough := Result{Prompt: rc.RawPrompt}

	tpl, err := e.templates.Select(ctx, rc.Model, rc.Language, rc.TaskType)
	if err != nil {
		slog.Debug("template selection failed, passing prompt through",
			"request_id", rc.RequestID, "error", err)
		return passthrough
	}
	if tpl == nil {
		return passthrough
	}

	snippets, err := e.retrieve(ctx, rc)
	if err != nil {
		slog.Debug("retrieval failed, passing prompt through",
			"request_id", rc.RequestID, "error", err)
		return passthrough
	}

	rendered, ok := e.render(tpl, rc, snippets)
	if !ok {
		return passthrough
	}
	return Result{Prompt: rendered, Augmented: true}
}

// retrieve returns the top-K most similar stored experiences, most-similar
// first, each bounded to SnippetMaxChars.
func (e *Engine) retrieve(ctx context.Context, rc protocol.RequestContext) ([]string, error) {
	embedding, err := e.embed(ctx, rc.RawPrompt)
	if err != nil {
		return nil, err
	}

	collection := vectorstore.CollectionConversations
	if ContainsCode(rc.RawPrompt) || rc.Language != "" {
		collection = vectorstore.CollectionCodeSnippets
	}

	matches, err := e.store.Query(ctx, collection, embedding, e.opts.TopK, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	snippets := make([]string, 0, len(matches))
	for _, m := range matches {
		snippets = append(snippets, truncate(m.Text, e.opts.SnippetMaxChars))
	}
	return snippets, nil
}

// truncate cuts on a rune boundary so a snippet never carries a split
// multi-byte character into the rendered prompt.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return v, nil
	}
	v, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, v)
	return v, nil
}

// render substitutes the placeholder whitelist and enforces the context
// budget by dropping retrieved snippets least-similar first. The user's own
// prompt text is never truncated; if even a context-free rendering exceeds
// the budget the engine gives up and the caller passes the prompt through.
func (e *Engine) render(tpl *template.Template, rc protocol.RequestContext, snippets []string) (string, bool) {
	vars := map[string]string{
		"model_context": rc.Model,
	}
	if rc.Language != "" {
		vars["language"] = rc.Language
	}
	if rc.TaskType != "" {
		vars["task_type"] = rc.TaskType
	}
	if patterns := e.learnedPatterns(rc); patterns != "" {
		vars["learned_patterns"] = patterns
	}

	for n := len(snippets); n >= 0; n-- {
		if n > 0 {
			vars["context"] = strings.Join(snippets[:n], "\n---\n")
		} else {
			delete(vars, "context")
		}
		rendered := template.Render(tpl.Text, vars) + "\n\n" + rc.RawPrompt
		if e.counter(rendered) <= e.opts.ContextBudget {
			return rendered, true
		}
	}
	return "", false
}

func (e *Engine) learnedPatterns(rc protocol.RequestContext) string {
	if e.insights == nil {
		return ""
	}
	collection := vectorstore.CollectionConversations
	if rc.Language != "" {
		collection = vectorstore.CollectionCodeSnippets
	}
	summaries := e.insights.Summaries(collection)
	if len(summaries) == 0 {
		return ""
	}
	return strings.Join(summaries, "\n")
}
