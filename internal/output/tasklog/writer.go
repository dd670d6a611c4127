package tasklog

import (
	"context"

	"go.uber.org/zap"

	"alertflow/internal/logger"
	"alertflow/pkg/models"
)

// Writer logs lifecycle events through the process logger.
type Writer struct {
	log *zap.SugaredLogger
}

// NewWriter creates a log sink.
func NewWriter() *Writer {
	return &Writer{log: logger.With("component", "notify")}
}

// Handle logs one lifecycle event.
func (w *Writer) Handle(_ context.Context, task *models.Task, action models.LifecycleAction) error {
	w.log.Infow("Task lifecycle event",
		"action", string(action),
		"task_id", task.ID,
		"incident_id", task.Context.IncidentID,
		"status", string(task.Status),
		"priority", task.Priority.String(),
		"assignee", task.AssigneeID(),
	)
	return nil
}
