package rules

import (
	"fmt"
	"strings"
	"time"

	"alertflow/pkg/models"
)

// Action is the response a rule prescribes for a matching alert.
type Action int

const (
	CreateStandardTask Action = iota
	CreateImmediateTask
	CorrelateOrCreate
	BatchAlerts
	EscalateImmediately
)

var actionNames = map[Action]string{
	CreateStandardTask:  "create_standard_task",
	CreateImmediateTask: "create_immediate_task",
	CorrelateOrCreate:   "correlate_or_create",
	BatchAlerts:         "batch_alerts",
	EscalateImmediately: "escalate_immediately",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction parses an action name such as "correlate_or_create".
func ParseAction(raw string) (Action, error) {
	want := strings.ToLower(strings.TrimSpace(raw))
	for a, name := range actionNames {
		if name == want {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown rule action %q", raw)
}

// Matcher decides whether a rule applies to an alert. Implementations must be
// pure and safe for concurrent use.
type Matcher interface {
	Matches(alert *models.Alert) (bool, error)
}

// WorkflowRule pairs a matcher with a response action and routing metadata.
type WorkflowRule struct {
	Name              string
	Matcher           Matcher
	Action            Action
	Priority          models.Priority
	Assignee          string
	ResponseTime      time.Duration
	CorrelationWindow time.Duration
	CorrelationKey    string
	BatchSize         int
	BatchTimeout      time.Duration
}

// RuleEvaluationError wraps a matcher failure. The rule is treated as not
// matching.
type RuleEvaluationError struct {
	Rule    string
	AlertID string
	Err     error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("evaluate rule %s for alert %s: %v", e.Rule, e.AlertID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}

const (
	DefaultRuleName          = "default"
	DefaultAssignee          = "security_analyst"
	DefaultCorrelationWindow = 5 * time.Minute
	DefaultBatchSize         = 10
	DefaultBatchTimeout      = time.Hour
)

// DefaultRule is applied when no configured rule matches.
func DefaultRule() *WorkflowRule {
	return &WorkflowRule{
		Name:         DefaultRuleName,
		Action:       CreateStandardTask,
		Priority:     models.PriorityMedium,
		Assignee:     DefaultAssignee,
		ResponseTime: 4 * time.Hour,
	}
}
