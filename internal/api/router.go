package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ollamatic/ollamatic/internal/api/handlers"
	"github.com/ollamatic/ollamatic/internal/api/middleware"
	"github.com/ollamatic/ollamatic/internal/backend"
	"github.com/ollamatic/ollamatic/internal/experience"
	"github.com/ollamatic/ollamatic/internal/metrics"
	"github.com/ollamatic/ollamatic/internal/proxy"
	"github.com/ollamatic/ollamatic/internal/queue"
	"github.com/ollamatic/ollamatic/internal/template"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

// Deps carries everything the HTTP surface needs. Queue, DB and Redis are
// nil when the corresponding backing service is not configured; handlers
// degrade to inline or in-memory behavior.
type Deps struct {
	Backend   *backend.Client
	Proxy     *proxy.Proxy
	Templates template.Repository
	Store     vectorstore.Store
	Registry  *experience.Registry
	Feedback  *experience.Feedback
	History   metrics.History
	Queue     *queue.Client
	DB        *pgxpool.Pool
	Redis     *redis.Client
}

type Router struct {
	mux  *chi.Mux
	deps Deps
}

func NewRouter(deps Deps) *Router {
	return &Router{mux: chi.NewRouter(), deps: deps}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	d := rt.deps

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	health := handlers.NewHealthHandler(d.Backend, d.DB, d.Redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Handle("/metrics", promhttp.Handler())

	// Inference endpoints stay unthrottled: a streaming client must never
	// be cut off by the management-surface limiter.
	inference := handlers.NewInferenceHandler(d.Proxy, d.Backend)
	r.Post("/api/generate", inference.Generate)
	r.Post("/api/chat", inference.Chat)
	r.Get("/api/tags", inference.Tags)
	r.Post("/v1/chat/completions", inference.ChatCompletions)
	r.Route("/agent", func(r chi.Router) {
		r.Post("/generate", inference.AgentGenerate)
		r.Post("/chat", inference.AgentChat)
		r.Post("/v1/chat/completions", inference.AgentChatCompletions)
	})

	historyH := handlers.NewHistoryHandler(d.History)
	r.Get("/api/request_history", historyH.Recent)
	r.Get("/api/average_stats", historyH.Averages)

	// Management API
	r.Route("/api/v1", func(r chi.Router) {
		rl := middleware.NewRateLimiter(100, 200)
		r.Use(rl.Limit)

		templateH := handlers.NewTemplateHandler(d.Templates)
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", templateH.List)
			r.Post("/", templateH.Create)
			r.Get("/{id}", templateH.Get)
			r.Put("/{id}", templateH.Update)
			r.Delete("/{id}", templateH.Delete)
		})

		feedbackH := handlers.NewFeedbackHandler(d.Feedback, d.Queue)
		r.Post("/feedback", feedbackH.Submit)

		insightH := handlers.NewInsightHandler(d.Registry)
		r.Get("/insights", insightH.List)

		patternH := handlers.NewPatternHandler(d.Registry)
		r.Route("/patterns", func(r chi.Router) {
			r.Get("/languages", patternH.Languages)
			r.Get("/language/{language}", patternH.Language)
			r.Get("/recent", patternH.Recent)
		})

		collectionH := handlers.NewCollectionHandler(d.Store, d.Backend, d.Queue)
		r.Route("/collections", func(r chi.Router) {
			r.Get("/", collectionH.List)
			r.Post("/{name}/search", collectionH.Search)
			r.Get("/{name}/export", collectionH.Export)
			r.Post("/{name}/import", collectionH.Import)
			r.Post("/{name}/prune", collectionH.Prune)
		})
	})

	return r
}
