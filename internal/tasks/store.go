// Package tasks holds tasks and incidents, enforces the task lifecycle and
// notifies handlers of lifecycle events.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"alertflow/internal/logger"
	"alertflow/pkg/models"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrIncidentNotFound = errors.New("incident not found")
	ErrDuplicateID      = errors.New("duplicate id")
)

// Handler receives task lifecycle events.
type Handler interface {
	Handle(ctx context.Context, task *models.Task, action models.LifecycleAction) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *models.Task, action models.LifecycleAction) error

func (f HandlerFunc) Handle(ctx context.Context, task *models.Task, action models.LifecycleAction) error {
	return f(ctx, task, action)
}

// NotificationError wraps a handler failure. It is logged, never returned.
type NotificationError struct {
	Handler string
	TaskID  string
	Action  models.LifecycleAction
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s for task %s (%s): %v", e.Handler, e.TaskID, e.Action, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// HistoryEntry is one record of the append-only lifecycle log.
type HistoryEntry struct {
	Action    string    `json:"action"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

// Statistics summarizes stored tasks.
type Statistics struct {
	TotalTasks        int                       `json:"total_tasks"`
	StatusBreakdown   map[models.TaskStatus]int `json:"status_breakdown"`
	PriorityBreakdown map[string]int            `json:"priority_breakdown"`
	TypeBreakdown     map[models.TaskType]int   `json:"type_breakdown"`
	ActiveAssignees   int                       `json:"active_assignees"`
	OpenIncidents     int                       `json:"open_incidents"`
}

type namedHandler struct {
	name string
	h    Handler
}

// Store is an in-memory, concurrency-safe task and incident store.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*models.Task
	incidents map[string]*models.Incident
	history   []HistoryEntry
	handlers  []namedHandler
	now       func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tasks:     make(map[string]*models.Task),
		incidents: make(map[string]*models.Incident),
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// RegisterHandler adds a notification handler. Handlers are invoked in
// registration order, each in isolation.
func (s *Store) RegisterHandler(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, namedHandler{name: name, h: h})
}

// Create stores a new task together with the incident that owns it. Both are
// recorded or neither is.
func (s *Store) Create(ctx context.Context, task *models.Task, incident *models.Incident) (string, error) {
	if task == nil || incident == nil {
		return "", fmt.Errorf("create task: task and incident are required")
	}
	if len(incident.AlertIDs) == 0 {
		return "", fmt.Errorf("create task %s: incident %s has no alerts", task.ID, incident.ID)
	}
	if task.Status == "" {
		task.Status = models.StatusCreated
	}
	if task.Status != models.StatusCreated {
		return "", &InvalidTransitionError{TaskID: task.ID, From: task.Status, To: models.StatusCreated}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if _, ok := s.tasks[task.ID]; ok {
		s.mu.Unlock()
		return "", fmt.Errorf("create task %s: %w", task.ID, ErrDuplicateID)
	}
	if _, ok := s.incidents[incident.ID]; ok {
		s.mu.Unlock()
		return "", fmt.Errorf("create incident %s: %w", incident.ID, ErrDuplicateID)
	}
	stored := task.Clone()
	stored.Context.IncidentID = incident.ID
	inc := incident.Clone()
	inc.AssignedTaskID = stored.ID
	s.tasks[stored.ID] = stored
	s.incidents[inc.ID] = inc
	s.appendHistory("created", stored.ID, fmt.Sprintf("incident=%s priority=%s", inc.ID, stored.Priority))
	snapshot := stored.Clone()
	handlers := s.handlers
	s.mu.Unlock()

	s.notify(ctx, handlers, snapshot, models.ActionCreated)
	return stored.ID, nil
}

// Assign gives a task to an assignee. Created and Escalated tasks move to
// Assigned; an Assigned task is reassigned in place.
func (s *Store) Assign(ctx context.Context, taskID string, assignee models.Assignment, assignedBy string) error {
	if strings.TrimSpace(assignee.AssigneeID) == "" {
		return fmt.Errorf("assign task %s: assignee id is required", taskID)
	}

	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("assign task %s: %w", taskID, ErrTaskNotFound)
	}
	if task.Status != models.StatusAssigned && !CanTransition(task.Status, models.StatusAssigned) {
		s.mu.Unlock()
		return &InvalidTransitionError{TaskID: taskID, From: task.Status, To: models.StatusAssigned}
	}
	now := s.now().UTC()
	assignee.AssignedAt = now
	assignee.AssignedBy = assignedBy
	previous := task.AssigneeID()
	task.Assignment = &assignee
	task.Status = models.StatusAssigned
	task.UpdatedAt = now
	task.Context.Timeline = append(task.Context.Timeline, models.TimelineEntry{
		Timestamp: now,
		Event:     "task_assigned",
		Details:   fmt.Sprintf("Assigned to %s by %s", assignee.AssigneeID, assignedBy),
		Source:    assignedBy,
	})
	details := fmt.Sprintf("assignee=%s by=%s", assignee.AssigneeID, assignedBy)
	if previous != "" && previous != assignee.AssigneeID {
		details += " previous=" + previous
	}
	s.appendHistory("assigned", taskID, details)
	snapshot := task.Clone()
	handlers := s.handlers
	s.mu.Unlock()

	s.notify(ctx, handlers, snapshot, models.ActionAssigned)
	return nil
}

// UpdateStatus moves a task through the lifecycle. Illegal moves return
// *InvalidTransitionError and leave the task untouched.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status models.TaskStatus, updatedBy string) error {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update task %s: %w", taskID, ErrTaskNotFound)
	}
	if !CanTransition(task.Status, status) {
		s.mu.Unlock()
		return &InvalidTransitionError{TaskID: taskID, From: task.Status, To: status}
	}
	if status == models.StatusAssigned && task.Assignment == nil {
		s.mu.Unlock()
		return fmt.Errorf("update task %s: cannot mark assigned without an assignee", taskID)
	}
	now := s.now().UTC()
	from := task.Status
	task.Status = status
	task.UpdatedAt = now
	task.Context.Timeline = append(task.Context.Timeline, models.TimelineEntry{
		Timestamp: now,
		Event:     "status_changed",
		Details:   fmt.Sprintf("%s -> %s", from, status),
		Source:    updatedBy,
	})
	s.appendHistory("status_changed", taskID, fmt.Sprintf("%s -> %s by=%s", from, status, updatedBy))
	snapshot := task.Clone()
	handlers := s.handlers
	s.mu.Unlock()

	s.notify(ctx, handlers, snapshot, models.ActionStatusChanged)
	return nil
}

// AddComment attaches a note to a task.
func (s *Store) AddComment(taskID, author, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("comment on task %s: %w", taskID, ErrTaskNotFound)
	}
	now := s.now().UTC()
	task.Comments = append(task.Comments, models.Comment{Author: author, Text: text, Timestamp: now})
	task.UpdatedAt = now
	s.appendHistory("commented", taskID, "by="+author)
	return nil
}

// Get returns a copy of a task.
func (s *Store) Get(taskID string) (*models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// ListByAssignee returns tasks owned by an assignee, oldest first.
func (s *Store) ListByAssignee(assigneeID string) []*models.Task {
	return s.list(func(t *models.Task) bool { return t.AssigneeID() == assigneeID })
}

// ListByStatus returns tasks in a status, oldest first.
func (s *Store) ListByStatus(status models.TaskStatus) []*models.Task {
	return s.list(func(t *models.Task) bool { return t.Status == status })
}

// ListByPriority returns tasks with a priority, oldest first.
func (s *Store) ListByPriority(priority models.Priority) []*models.Task {
	return s.list(func(t *models.Task) bool { return t.Priority == priority })
}

func (s *Store) list(keep func(*models.Task) bool) []*models.Task {
	s.mu.RLock()
	out := make([]*models.Task, 0)
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// History returns a copy of the lifecycle log.
func (s *Store) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]HistoryEntry(nil), s.history...)
}

// Statistics summarizes the stored tasks.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Statistics{
		TotalTasks:        len(s.tasks),
		StatusBreakdown:   make(map[models.TaskStatus]int),
		PriorityBreakdown: make(map[string]int),
		TypeBreakdown:     make(map[models.TaskType]int),
	}
	assignees := make(map[string]struct{})
	for _, t := range s.tasks {
		st.StatusBreakdown[t.Status]++
		st.PriorityBreakdown[t.Priority.String()]++
		st.TypeBreakdown[t.TaskType]++
		if id := t.AssigneeID(); id != "" && !IsTerminal(t.Status) {
			assignees[id] = struct{}{}
		}
	}
	st.ActiveAssignees = len(assignees)
	for _, inc := range s.incidents {
		if inc.Status == models.IncidentOpen {
			st.OpenIncidents++
		}
	}
	return st
}

// Incident returns a copy of an incident.
func (s *Store) Incident(id string) (*models.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false
	}
	return inc.Clone(), true
}

// AppendAlert records a correlated alert on an open incident and returns the
// updated copy.
func (s *Store) AppendAlert(incidentID, alertID string) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return nil, fmt.Errorf("append alert to %s: %w", incidentID, ErrIncidentNotFound)
	}
	if inc.Status != models.IncidentOpen {
		return nil, fmt.Errorf("append alert to %s: incident is %s", incidentID, inc.Status)
	}
	inc.AlertIDs = append(inc.AlertIDs, alertID)
	if task, ok := s.tasks[inc.AssignedTaskID]; ok {
		now := s.now().UTC()
		task.Context.Timeline = append(task.Context.Timeline, models.TimelineEntry{
			Timestamp: now,
			Event:     "alert_correlated",
			Details:   fmt.Sprintf("Alert %s correlated into %s", alertID, incidentID),
			Source:    "correlation",
		})
		task.UpdatedAt = now
	}
	s.appendHistory("alert_correlated", inc.AssignedTaskID, fmt.Sprintf("incident=%s alert=%s", incidentID, alertID))
	return inc.Clone(), nil
}

// CloseIncident closes an open incident. Its task is left as is.
func (s *Store) CloseIncident(incidentID, closedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return fmt.Errorf("close incident %s: %w", incidentID, ErrIncidentNotFound)
	}
	if inc.Status != models.IncidentOpen {
		return fmt.Errorf("close incident %s: incident is %s", incidentID, inc.Status)
	}
	inc.Status = models.IncidentClosed
	s.appendHistory("incident_closed", inc.AssignedTaskID, fmt.Sprintf("incident=%s by=%s", incidentID, closedBy))
	return nil
}

// MergeIncident folds src into dst: src's alerts are appended to dst and src
// is marked merged. Neither incident is deleted.
func (s *Store) MergeIncident(srcID, dstID, mergedBy string) error {
	if srcID == dstID {
		return fmt.Errorf("merge incident %s into itself", srcID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.incidents[srcID]
	if !ok {
		return fmt.Errorf("merge incident %s: %w", srcID, ErrIncidentNotFound)
	}
	dst, ok := s.incidents[dstID]
	if !ok {
		return fmt.Errorf("merge into incident %s: %w", dstID, ErrIncidentNotFound)
	}
	if src.Status != models.IncidentOpen || dst.Status != models.IncidentOpen {
		return fmt.Errorf("merge incident %s into %s: both must be open", srcID, dstID)
	}
	dst.AlertIDs = append(dst.AlertIDs, src.AlertIDs...)
	src.Status = models.IncidentMerged
	src.MergedInto = dstID
	s.appendHistory("incident_merged", src.AssignedTaskID, fmt.Sprintf("incident=%s into=%s by=%s", srcID, dstID, mergedBy))
	return nil
}

// appendHistory requires s.mu held for writing.
func (s *Store) appendHistory(action, taskID, details string) {
	s.history = append(s.history, HistoryEntry{
		Action:    action,
		TaskID:    taskID,
		Timestamp: s.now().UTC(),
		Details:   details,
	})
}

func (s *Store) notify(ctx context.Context, handlers []namedHandler, task *models.Task, action models.LifecycleAction) {
	for _, nh := range handlers {
		if err := invoke(ctx, nh.h, task.Clone(), action); err != nil {
			logger.Warnf("Notification handler failed: %v", &NotificationError{
				Handler: nh.name,
				TaskID:  task.ID,
				Action:  action,
				Err:     err,
			})
		}
	}
}

func invoke(ctx context.Context, h Handler, task *models.Task, action models.LifecycleAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, task, action)
}
