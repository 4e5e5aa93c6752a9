package workers

import (
	"github.com/hibiken/asynq"

	"github.com/ollamatic/ollamatic/internal/experience"
	"github.com/ollamatic/ollamatic/internal/queue"
	"github.com/ollamatic/ollamatic/internal/vectorstore"
)

// NewMux wires every background task type to its worker.
func NewMux(store vectorstore.Store, feedback *experience.Feedback) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeStorePrune, asynq.HandlerFunc(NewMaintenanceWorker(store).ProcessTask))
	mux.Handle(queue.TypeFeedbackApply, asynq.HandlerFunc(NewFeedbackWorker(feedback).ProcessTask))
	return mux
}
