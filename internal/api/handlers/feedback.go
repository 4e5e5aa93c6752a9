package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ollamatic/ollamatic/internal/experience"
	"github.com/ollamatic/ollamatic/internal/queue"
)

// FeedbackHandler accepts user verdicts on past requests. Verdicts apply
// inline so this process's insight aggregates pick up the adjusted outcome;
// a configured queue only serves as a retry path when the inline apply
// fails transiently.
type FeedbackHandler struct {
	feedback *experience.Feedback
	qc       *queue.Client
}

func NewFeedbackHandler(feedback *experience.Feedback, qc *queue.Client) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback, qc: qc}
}

type feedbackRequest struct {
	RequestID string `json:"request_id"`
	Success   *bool  `json:"success"`
	Comment   string `json:"comment"`
}

func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request_id required"})
		return
	}
	if req.Success == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "success required"})
		return
	}

	err := h.feedback.Apply(r.Context(), req.RequestID, *req.Success, req.Comment)
	if errors.Is(err, experience.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no experience recorded for request"})
		return
	}
	if err != nil {
		// The stored record exists but updating it failed (embedder or
		// store hiccup). Park the verdict on the queue so the worker can
		// retry instead of losing it.
		if h.qc != nil {
			if qerr := h.qc.EnqueueFeedbackApply(queue.FeedbackApplyPayload{
				RequestID: req.RequestID,
				Success:   *req.Success,
				Comment:   req.Comment,
			}); qerr == nil {
				writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "request_id": req.RequestID})
				return
			}
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied", "request_id": req.RequestID})
}
