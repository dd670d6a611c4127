package models

import "time"

// TaskType classifies remediation work.
type TaskType string

const (
	TaskSecurityIncident TaskType = "security_incident"
	TaskInvestigation    TaskType = "investigation"
	TaskRemediation      TaskType = "remediation"
	TaskMonitoring       TaskType = "monitoring"
	TaskCompliance       TaskType = "compliance"
	TaskMaintenance      TaskType = "maintenance"
)

// TaskStatus is a state of the task lifecycle.
type TaskStatus string

const (
	StatusCreated        TaskStatus = "created"
	StatusAssigned       TaskStatus = "assigned"
	StatusInProgress     TaskStatus = "in_progress"
	StatusWaitingForInfo TaskStatus = "waiting_for_info"
	StatusCompleted      TaskStatus = "completed"
	StatusCancelled      TaskStatus = "cancelled"
	StatusEscalated      TaskStatus = "escalated"
)

// TaskStatuses lists every lifecycle state.
func TaskStatuses() []TaskStatus {
	return []TaskStatus{
		StatusCreated,
		StatusAssigned,
		StatusInProgress,
		StatusWaitingForInfo,
		StatusCompleted,
		StatusCancelled,
		StatusEscalated,
	}
}

// Assignment records who owns a task.
type Assignment struct {
	AssigneeID string    `json:"assignee_id"`
	Name       string    `json:"name,omitempty"`
	Team       string    `json:"team,omitempty"`
	Role       string    `json:"role,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy string    `json:"assigned_by"`
}

// TimelineEntry is one event in a task's timeline.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Details   string    `json:"details,omitempty"`
	Source    string    `json:"source"`
}

// NetworkContext is a best-effort snapshot of the network side of an alert.
type NetworkContext struct {
	SourceIP       string `json:"source_ip,omitempty"`
	IsInternal     bool   `json:"is_internal"`
	Classification string `json:"classification"`
	TargetEndpoint string `json:"target_endpoint,omitempty"`
}

// UserContext is a best-effort snapshot of the user involved.
type UserContext struct {
	User       string `json:"user,omitempty"`
	Department string `json:"department"`
	RiskLevel  string `json:"risk_level"`
}

// SystemContext is a best-effort snapshot of the affected system.
type SystemContext struct {
	Hostname    string `json:"hostname"`
	Criticality string `json:"criticality"`
	Owner       string `json:"owner"`
}

// TaskContext links a task back to its alert and incident.
type TaskContext struct {
	SecurityAlertID string          `json:"security_alert_id,omitempty"`
	IncidentID      string          `json:"incident_id,omitempty"`
	AffectedSystems []string        `json:"affected_systems,omitempty"`
	AffectedUsers   []string        `json:"affected_users,omitempty"`
	Network         NetworkContext  `json:"network"`
	User            UserContext     `json:"user"`
	System          SystemContext   `json:"system"`
	Timeline        []TimelineEntry `json:"timeline"`
}

// Comment is a free-form note attached to a task.
type Comment struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is an assignable, status-tracked unit of remediation work.
type Task struct {
	ID                     string      `json:"id"`
	Title                  string      `json:"title"`
	Description            string      `json:"description"`
	TaskType               TaskType    `json:"task_type"`
	Priority               Priority    `json:"priority"`
	Status                 TaskStatus  `json:"status"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
	DueAt                  time.Time   `json:"due_at,omitempty"`
	CreatedBy              string      `json:"created_by"`
	Assignment             *Assignment `json:"assignment,omitempty"`
	Context                TaskContext `json:"context"`
	InvestigationChecklist []string    `json:"investigation_checklist"`
	RecommendedActions     []string    `json:"recommended_actions"`
	Tags                   []string    `json:"tags,omitempty"`
	Comments               []Comment   `json:"comments,omitempty"`
	ParentTaskID           string      `json:"parent_task_id,omitempty"`
	SubtaskIDs             []string    `json:"subtask_ids,omitempty"`
}

// AssigneeID returns the current assignee or "".
func (t *Task) AssigneeID() string {
	if t == nil || t.Assignment == nil {
		return ""
	}
	return t.Assignment.AssigneeID
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if t.Assignment != nil {
		a := *t.Assignment
		out.Assignment = &a
	}
	out.Context.AffectedSystems = append([]string(nil), t.Context.AffectedSystems...)
	out.Context.AffectedUsers = append([]string(nil), t.Context.AffectedUsers...)
	out.Context.Timeline = append([]TimelineEntry(nil), t.Context.Timeline...)
	out.InvestigationChecklist = append([]string(nil), t.InvestigationChecklist...)
	out.RecommendedActions = append([]string(nil), t.RecommendedActions...)
	out.Tags = append([]string(nil), t.Tags...)
	out.Comments = append([]Comment(nil), t.Comments...)
	out.SubtaskIDs = append([]string(nil), t.SubtaskIDs...)
	return &out
}
