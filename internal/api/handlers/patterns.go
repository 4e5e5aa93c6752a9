package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ollamatic/ollamatic/internal/augment"
	"github.com/ollamatic/ollamatic/internal/experience"
)

// PatternHandler surfaces what the classifier can detect and what the
// insight registry has learned per language.
type PatternHandler struct {
	registry *experience.Registry
}

func NewPatternHandler(registry *experience.Registry) *PatternHandler {
	return &PatternHandler{registry: registry}
}

func (h *PatternHandler) Languages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"languages": augment.Languages()})
}

// Language aggregates the registry's insights for one detected language
// across all collections.
func (h *PatternHandler) Language(w http.ResponseWriter, r *http.Request) {
	language := chi.URLParam(r, "language")
	if !augment.SupportedLanguage(language) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "language not supported"})
		return
	}

	var (
		insights  []experience.Insight
		frequency int
		successes float64
	)
	for _, ins := range h.registry.List() {
		if ins.PatternType != language {
			continue
		}
		insights = append(insights, ins)
		frequency += ins.Frequency
		successes += ins.SuccessRate * float64(ins.Frequency)
	}

	rate := 0.0
	if frequency > 0 {
		rate = successes / float64(frequency)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"language":           language,
		"total_interactions": frequency,
		"success_rate":       rate,
		"insights":           insights,
	})
}

// Recent returns insights ordered by last use, newest first.
func (h *PatternHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	insights := h.registry.List()
	sort.SliceStable(insights, func(i, j int) bool {
		return insights[i].LastUsed.After(insights[j].LastUsed)
	})
	if len(insights) > limit {
		insights = insights[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": insights, "count": len(insights)})
}
