// Package assignment decides who owns a new task.
package assignment

import "alertflow/pkg/models"

// Request carries what the resolver needs to know about a task.
type Request struct {
	TaskType     models.TaskType
	Priority     models.Priority
	IncidentType string
	// RuleAssignee, when set, overrides the resolver entirely.
	RuleAssignee string
}

// Predicate returns an assignee id or "" to defer to the next predicate.
type Predicate func(Request) string

// Resolver evaluates predicates in order; the first non-empty answer wins.
type Resolver struct {
	predicates []Predicate
	directory  map[string]models.Assignment
}

// NewResolver builds a resolver with the standard predicate chain.
func NewResolver() *Resolver {
	return &Resolver{
		predicates: []Predicate{
			criticalSecurityIncident,
			incidentTypeIs("sql_injection", SeniorAnalyst),
			incidentTypeIs("failed_login", Analyst),
			incidentTypeIs("privilege_escalation", SeniorAnalyst),
			byPriority,
		},
		directory: defaultDirectory(),
	}
}

// Well-known assignee ids.
const (
	TeamLead      = "security_team_lead"
	SeniorAnalyst = "senior_security_analyst"
	Analyst       = "security_analyst"
	JuniorAnalyst = "junior_security_analyst"
)

// Resolve returns the assignee id for a task.
func (r *Resolver) Resolve(req Request) string {
	if req.RuleAssignee != "" {
		return req.RuleAssignee
	}
	for _, p := range r.predicates {
		if id := p(req); id != "" {
			return id
		}
	}
	return JuniorAnalyst
}

// Describe fills name/team/role for a known assignee id. Unknown ids are
// returned with only the id set.
func (r *Resolver) Describe(id string) models.Assignment {
	if a, ok := r.directory[id]; ok {
		return a
	}
	return models.Assignment{AssigneeID: id, Name: id}
}

func criticalSecurityIncident(req Request) string {
	if req.TaskType != models.TaskSecurityIncident {
		return ""
	}
	if req.Priority == models.PriorityCritical || req.Priority == models.PriorityEmergency {
		return TeamLead
	}
	return ""
}

func incidentTypeIs(incidentType, assignee string) Predicate {
	return func(req Request) string {
		if req.IncidentType == incidentType {
			return assignee
		}
		return ""
	}
}

func byPriority(req Request) string {
	switch req.Priority {
	case models.PriorityCritical:
		return TeamLead
	case models.PriorityHigh:
		return SeniorAnalyst
	case models.PriorityMedium:
		return Analyst
	default:
		return JuniorAnalyst
	}
}

func defaultDirectory() map[string]models.Assignment {
	return map[string]models.Assignment{
		TeamLead:      {AssigneeID: TeamLead, Name: "Security Team Lead", Team: "security_operations", Role: "lead"},
		SeniorAnalyst: {AssigneeID: SeniorAnalyst, Name: "Senior Security Analyst", Team: "security_operations", Role: "senior_analyst"},
		Analyst:       {AssigneeID: Analyst, Name: "Security Analyst", Team: "security_operations", Role: "analyst"},
		JuniorAnalyst: {AssigneeID: JuniorAnalyst, Name: "Junior Security Analyst", Team: "security_operations", Role: "junior_analyst"},
	}
}
