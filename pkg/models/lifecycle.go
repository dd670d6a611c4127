package models

import "time"

// LifecycleAction names a task lifecycle event delivered to notification
// handlers.
type LifecycleAction string

const (
	ActionCreated       LifecycleAction = "created"
	ActionAssigned      LifecycleAction = "assigned"
	ActionStatusChanged LifecycleAction = "statusChanged"
)

// LifecycleEvent is the flat record emitted to notification sinks.
type LifecycleEvent struct {
	Action     LifecycleAction `json:"action"`
	TaskID     string          `json:"task_id"`
	IncidentID string          `json:"incident_id,omitempty"`
	AlertID    string          `json:"alert_id,omitempty"`
	Title      string          `json:"title"`
	TaskType   TaskType        `json:"task_type"`
	Status     TaskStatus      `json:"status"`
	Priority   string          `json:"priority"`
	Assignee   string          `json:"assignee,omitempty"`
	DueAt      *time.Time      `json:"due_at,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewLifecycleEvent flattens a task snapshot for sinks.
func NewLifecycleEvent(task *Task, action LifecycleAction, at time.Time) LifecycleEvent {
	ev := LifecycleEvent{
		Action:     action,
		TaskID:     task.ID,
		IncidentID: task.Context.IncidentID,
		AlertID:    task.Context.SecurityAlertID,
		Title:      task.Title,
		TaskType:   task.TaskType,
		Status:     task.Status,
		Priority:   task.Priority.String(),
		Assignee:   task.AssigneeID(),
		Timestamp:  at.UTC(),
	}
	if !task.DueAt.IsZero() {
		due := task.DueAt.UTC()
		ev.DueAt = &due
	}
	return ev
}
