package models

import "time"

// IncidentStatus is the status of an incident.
type IncidentStatus string

const (
	IncidentOpen   IncidentStatus = "open"
	IncidentClosed IncidentStatus = "closed"
	IncidentMerged IncidentStatus = "merged"
)

// Incident groups one or more related alerts under one identifier.
type Incident struct {
	ID             string         `json:"id"`
	AlertIDs       []string       `json:"alert_ids"`
	IncidentType   string         `json:"incident_type"`
	Severity       Severity       `json:"severity"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         IncidentStatus `json:"status"`
	AssignedTaskID string         `json:"assigned_task_id,omitempty"`
	CorrelationKey string         `json:"correlation_key,omitempty"`
	RuleName       string         `json:"rule_name,omitempty"`
	MergedInto     string         `json:"merged_into,omitempty"`
}

// Clone returns a deep copy.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	out := *i
	out.AlertIDs = append([]string(nil), i.AlertIDs...)
	return &out
}
