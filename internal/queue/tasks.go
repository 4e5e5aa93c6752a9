package queue

const (
	TypeStorePrune    = "store:prune"
	TypeFeedbackApply = "feedback:apply"
)

type StorePrunePayload struct {
	Collection string  `json:"collection"`
	OlderThan  string  `json:"older_than,omitempty"` // duration, e.g. "720h"
	MinScore   float64 `json:"min_score,omitempty"`
	ByScore    bool    `json:"by_score"`
}

type FeedbackApplyPayload struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Comment   string `json:"comment,omitempty"`
}
