package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ollamatic/ollamatic/internal/experience"
	"github.com/ollamatic/ollamatic/internal/queue"
)

// FeedbackWorker applies user verdicts to stored experiences off the API
// path.
type FeedbackWorker struct {
	feedback *experience.Feedback
}

func NewFeedbackWorker(feedback *experience.Feedback) *FeedbackWorker {
	return &FeedbackWorker{feedback: feedback}
}

func (w *FeedbackWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.FeedbackApplyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	err := w.feedback.Apply(ctx, payload.RequestID, payload.Success, payload.Comment)
	if errors.Is(err, experience.ErrNotFound) {
		// The record may have been pruned; retrying will not help.
		slog.Warn("feedback target not found", "request_id", payload.RequestID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply feedback: %w", err)
	}

	slog.Info("feedback applied", "request_id", payload.RequestID, "success", payload.Success)
	return nil
}
