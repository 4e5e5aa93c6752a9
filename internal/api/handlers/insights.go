package handlers

import (
	"net/http"

	"github.com/ollamatic/ollamatic/internal/experience"
)

type InsightHandler struct {
	registry *experience.Registry
}

func NewInsightHandler(registry *experience.Registry) *InsightHandler {
	return &InsightHandler{registry: registry}
}

// List returns every insight aggregate, most frequent first.
func (h *InsightHandler) List(w http.ResponseWriter, r *http.Request) {
	insights := h.registry.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"insights": insights, "count": len(insights)})
}
