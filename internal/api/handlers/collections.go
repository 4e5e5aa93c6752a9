package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ollamatic/ollamatic/internal/experience"
	"github.com/ollamatic/ollamatic/internal/queue"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

// CollectionHandler manages the stored-experience collections: stats,
// similarity search, export/import, and pruning.
type CollectionHandler struct {
	store    vectorstore.Store
	embedder experience.Embedder
	qc       *queue.Client
}

func NewCollectionHandler(store vectorstore.Store, embedder experience.Embedder, qc *queue.Client) *CollectionHandler {
	return &CollectionHandler{store: store, embedder: embedder, qc: qc}
}

func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Collections(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": stats})
}

type searchRequest struct {
	Query  string            `json:"query"`
	TopK   int               `json:"top_k"`
	Filter map[string]string `json:"filter"`
}

func (h *CollectionHandler) Search(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")
	if !knownCollection(collection) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown collection"})
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query required"})
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	embedding, err := h.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "embedding query: " + err.Error()})
		return
	}

	matches, err := h.store.Query(r.Context(), collection, embedding, req.TopK, req.Filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches, "count": len(matches)})
}

func (h *CollectionHandler) Export(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")
	if !knownCollection(collection) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown collection"})
		return
	}

	snap, err := h.store.Export(r.Context(), collection)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *CollectionHandler) Import(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")
	if !knownCollection(collection) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown collection"})
		return
	}

	var snap vectorstore.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid snapshot"})
		return
	}

	if err := h.store.Import(r.Context(), collection, &snap); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "imported", "records": len(snap.Records)})
}

type pruneRequest struct {
	OlderThan string  `json:"older_than"` // duration, e.g. "720h"
	MinScore  float64 `json:"min_score"`
	ByScore   bool    `json:"by_score"`
}

// Prune removes stale or low-quality records. With a queue client the work
// runs in the worker; otherwise inline.
func (h *CollectionHandler) Prune(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "name")
	if !knownCollection(collection) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown collection"})
		return
	}

	var req pruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !req.ByScore {
		if _, err := time.ParseDuration(req.OlderThan); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "older_than must be a duration"})
			return
		}
	}

	if h.qc != nil {
		err := h.qc.EnqueueStorePrune(queue.StorePrunePayload{
			Collection: collection,
			OlderThan:  req.OlderThan,
			MinScore:   req.MinScore,
			ByScore:    req.ByScore,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "collection": collection})
		return
	}

	var (
		removed int
		err     error
	)
	if req.ByScore {
		removed, err = h.store.DeleteBelowScore(r.Context(), collection, req.MinScore)
	} else {
		age, _ := time.ParseDuration(req.OlderThan)
		removed, err = h.store.DeleteOlderThan(r.Context(), collection, time.Now().UTC().Add(-age))
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "pruned", "removed": removed})
}

func knownCollection(name string) bool {
	return slices.Contains(vectorstore.Collections, name)
}
