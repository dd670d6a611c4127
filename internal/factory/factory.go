// Package factory builds incidents and richly annotated tasks from alerts.
package factory

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"alertflow/internal/rules"
	"alertflow/pkg/models"
)

const systemActor = "alertflow"

// Factory creates incidents and tasks.
type Factory struct {
	ids *IncidentIDs
	now func() time.Time
}

// New creates a factory with its own incident id sequence.
func New() *Factory {
	return &Factory{ids: &IncidentIDs{}, now: time.Now}
}

// SetClock overrides the time source.
func (f *Factory) SetClock(now func() time.Time) {
	f.now = now
}

// Now returns the factory clock reading in UTC.
func (f *Factory) Now() time.Time {
	return f.now().UTC()
}

// NewIncident allocates an incident for the alert.
func (f *Factory) NewIncident(alert *models.Alert, rule *rules.WorkflowRule, correlationKey string) (*models.Incident, error) {
	now := f.Now()
	id, err := f.ids.Next(now)
	if err != nil {
		return nil, err
	}
	return &models.Incident{
		ID:             id,
		AlertIDs:       []string{alert.ID},
		IncidentType:   alert.PatternType,
		Severity:       alert.Severity,
		CreatedAt:      now,
		Status:         models.IncidentOpen,
		CorrelationKey: correlationKey,
		RuleName:       rule.Name,
	}, nil
}

// Build creates an incident and its task, linked to each other.
func (f *Factory) Build(alert *models.Alert, rule *rules.WorkflowRule, correlationKey string) (*models.Incident, *models.Task, error) {
	incident, err := f.NewIncident(alert, rule, correlationKey)
	if err != nil {
		return nil, nil, err
	}
	task := f.BuildTask(alert, rule)
	task.Context.IncidentID = incident.ID
	incident.AssignedTaskID = task.ID
	return incident, task, nil
}

// BuildTask derives a task from an alert.
func (f *Factory) BuildTask(alert *models.Alert, rule *rules.WorkflowRule) *models.Task {
	now := f.Now()
	task := &models.Task{
		ID:                     newTaskID(),
		Title:                  buildTitle(alert),
		Description:            buildDescription(alert),
		TaskType:               taskTypeFor(alert.PatternType),
		Priority:               rule.Priority,
		Status:                 models.StatusCreated,
		CreatedAt:              now,
		UpdatedAt:              now,
		CreatedBy:              systemActor,
		InvestigationChecklist: buildChecklist(alert.PatternType),
		RecommendedActions:     buildActions(alert),
		Tags:                   buildTags(alert, rule),
		Context: models.TaskContext{
			SecurityAlertID: alert.ID,
			Network:         networkContext(alert),
			User:            userContext(alert),
			System:          systemContext(alert),
			Timeline: []models.TimelineEntry{
				{
					Timestamp: alert.Timestamp,
					Event:     "alert_detected",
					Details:   fmt.Sprintf("%s alert %s detected", alert.Severity, alert.PatternType),
					Source:    "alert_source",
				},
				{
					Timestamp: now,
					Event:     "task_created",
					Details:   fmt.Sprintf("Task created by rule %s", rule.Name),
					Source:    systemActor,
				},
			},
		},
	}
	if rule.ResponseTime > 0 {
		task.DueAt = now.Add(rule.ResponseTime)
	}
	if host := alert.Attr(models.AttrHostname); host != "" {
		task.Context.AffectedSystems = []string{host}
	} else if ep := alert.Attr(models.AttrEndpoint); ep != "" {
		task.Context.AffectedSystems = []string{ep}
	}
	if user := alert.Attr(models.AttrUser); user != "" {
		task.Context.AffectedUsers = []string{user}
	}
	return task
}

// BuildBatchTask creates the monitoring incident and task for a flushed batch.
func (f *Factory) BuildBatchTask(rule *rules.WorkflowRule, batchID string, alerts []*models.Alert) (*models.Incident, *models.Task, error) {
	if len(alerts) == 0 {
		return nil, nil, fmt.Errorf("batch %s is empty", batchID)
	}
	now := f.Now()
	id, err := f.ids.Next(now)
	if err != nil {
		return nil, nil, err
	}

	alertIDs := make([]string, 0, len(alerts))
	patterns := make(map[string]int)
	sources := make(map[string]struct{})
	maxSeverity := alerts[0].Severity
	for _, a := range alerts {
		alertIDs = append(alertIDs, a.ID)
		patterns[a.PatternType]++
		if ip := a.SourceIP(); ip != "" {
			sources[ip] = struct{}{}
		}
		if a.Severity > maxSeverity {
			maxSeverity = a.Severity
		}
	}

	incident := &models.Incident{
		ID:             id,
		AlertIDs:       alertIDs,
		IncidentType:   alerts[0].PatternType,
		Severity:       maxSeverity,
		CreatedAt:      now,
		Status:         models.IncidentOpen,
		CorrelationKey: batchID,
		RuleName:       rule.Name,
	}

	var summary strings.Builder
	fmt.Fprintf(&summary, "Batch %s collected %d alerts from %d distinct sources.\n\nPatterns:\n", batchID, len(alerts), len(sources))
	for _, p := range sortedKeys(patterns) {
		fmt.Fprintf(&summary, "- %s: %d\n", p, patterns[p])
	}

	task := &models.Task{
		ID:          newTaskID(),
		Title:       fmt.Sprintf("Review Batched Alerts: %s", rule.Name),
		Description: summary.String(),
		TaskType:    models.TaskMonitoring,
		Priority:    rule.Priority,
		Status:      models.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   systemActor,
		InvestigationChecklist: []string{
			"Review the batched alerts for a common source",
			"Decide whether any alert warrants a dedicated investigation",
			"Tune the rule if the batch is pure noise",
		},
		RecommendedActions: []string{"Adjust thresholds for recurring low-severity patterns"},
		Tags:               []string{"batch", rule.Name},
		Context: models.TaskContext{
			IncidentID: id,
			Timeline: []models.TimelineEntry{
				{Timestamp: alerts[0].Timestamp, Event: "batch_opened", Details: batchID, Source: systemActor},
				{Timestamp: now, Event: "task_created", Details: fmt.Sprintf("Batch flushed with %d alerts", len(alerts)), Source: systemActor},
			},
		},
	}
	if rule.ResponseTime > 0 {
		task.DueAt = now.Add(rule.ResponseTime)
	}
	incident.AssignedTaskID = task.ID
	return incident, task, nil
}

func newTaskID() string {
	return "TASK-" + uuid.NewString()
}

func buildTitle(alert *models.Alert) string {
	title, ok := titleTemplates[alert.PatternType]
	if !ok {
		title = fallbackTitle
	}
	if ip := alert.SourceIP(); ip != "" {
		title += " - " + ip
	}
	return title
}

func buildDescription(alert *models.Alert) string {
	return fmt.Sprintf(`Security alert %s requires investigation.

Severity: %s
Pattern: %s
Detected: %s
Confidence: %.0f%%

Details:
%s`,
		alert.ID,
		alert.Severity,
		alert.PatternType,
		alert.Timestamp.UTC().Format(time.RFC3339),
		alert.Confidence*100,
		alert.Message,
	)
}

func taskTypeFor(pattern string) models.TaskType {
	if tt, ok := patternTaskTypes[pattern]; ok {
		return tt
	}
	return models.TaskSecurityIncident
}

func buildChecklist(pattern string) []string {
	out := make([]string, 0, len(baseChecklist)+4)
	out = append(out, baseChecklist...)
	out = append(out, patternChecklist[pattern]...)
	return out
}

func buildActions(alert *models.Alert) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(alert.RecommendedActions)+3)
	for _, list := range [][]string{alert.RecommendedActions, patternActions[alert.PatternType]} {
		for _, a := range list {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			if _, dup := seen[strings.ToLower(a)]; dup {
				continue
			}
			seen[strings.ToLower(a)] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

func buildTags(alert *models.Alert, rule *rules.WorkflowRule) []string {
	tags := []string{alert.PatternType, strings.ToLower(alert.Severity.String()), rule.Name}
	if rule.Action == rules.EscalateImmediately {
		tags = append(tags, "escalated")
	}
	return tags
}

func networkContext(alert *models.Alert) models.NetworkContext {
	nc := models.NetworkContext{
		SourceIP:       alert.SourceIP(),
		TargetEndpoint: alert.Attr(models.AttrEndpoint),
		Classification: "unknown",
	}
	if nc.SourceIP == "" {
		return nc
	}
	addr, err := netip.ParseAddr(nc.SourceIP)
	if err != nil {
		return nc
	}
	if IsInternal(addr) {
		nc.IsInternal = true
		nc.Classification = "internal"
	} else {
		nc.Classification = "external"
	}
	return nc
}

// IsInternal reports whether the address belongs to a private, loopback or
// link-local range.
func IsInternal(addr netip.Addr) bool {
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}

// Directory and SIEM integrations are not wired; snapshots carry placeholders.
func userContext(alert *models.Alert) models.UserContext {
	return models.UserContext{
		User:       alert.Attr(models.AttrUser),
		Department: "unknown",
		RiskLevel:  "unknown",
	}
}

func systemContext(alert *models.Alert) models.SystemContext {
	host := alert.Attr(models.AttrHostname)
	if host == "" {
		host = "unknown"
	}
	return models.SystemContext{
		Hostname:    host,
		Criticality: "unknown",
		Owner:       "unknown",
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
