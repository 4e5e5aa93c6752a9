package handlers

import (
	"net/http"

	"github.com/ollamatic/ollamatic/internal/metrics"
)

type HistoryHandler struct {
	history metrics.History
}

func NewHistoryHandler(history metrics.History) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// Recent returns the most recent requests, newest first.
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.Recent(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": entries, "count": len(entries)})
}

func (h *HistoryHandler) Averages(w http.ResponseWriter, r *http.Request) {
	stats, err := h.history.Averages(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
