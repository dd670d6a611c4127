package rules

import (
	"time"

	"alertflow/pkg/models"
)

// DefaultRuleSet returns the built-in rules used when no rule file is
// configured.
func DefaultRuleSet() *RuleSet {
	return NewRuleSet(
		&WorkflowRule{
			Name:         "sql_injection_immediate",
			Matcher:      PatternMatcher{Patterns: []string{"sql_injection"}},
			Action:       CreateImmediateTask,
			Priority:     models.PriorityCritical,
			Assignee:     "senior_security_analyst",
			ResponseTime: 15 * time.Minute,
		},
		&WorkflowRule{
			Name:         "privilege_escalation_escalate",
			Matcher:      PatternMatcher{Patterns: []string{"privilege_escalation"}},
			Action:       EscalateImmediately,
			Priority:     models.PriorityEmergency,
			Assignee:     "security_team_lead",
			ResponseTime: 5 * time.Minute,
		},
		&WorkflowRule{
			Name:              "failed_login_correlation",
			Matcher:           PatternMatcher{Patterns: []string{"failed_login", "brute_force"}},
			Action:            CorrelateOrCreate,
			Priority:          models.PriorityHigh,
			ResponseTime:      time.Hour,
			CorrelationWindow: 5 * time.Minute,
			CorrelationKey:    models.AttrSourceIP,
		},
		&WorkflowRule{
			Name:              "data_exfiltration_correlation",
			Matcher:           PatternMatcher{Patterns: []string{"data_exfiltration"}},
			Action:            CorrelateOrCreate,
			Priority:          models.PriorityCritical,
			ResponseTime:      30 * time.Minute,
			CorrelationWindow: 30 * time.Minute,
			CorrelationKey:    models.AttrUser,
		},
		&WorkflowRule{
			Name: "low_severity_batch",
			Matcher: AllOf{
				SeverityMatcher{Severities: []models.Severity{models.SeverityLow}},
				PatternMatcher{Patterns: []string{"rate_limiting", "port_scan", "anomalous_traffic"}},
			},
			Action:       BatchAlerts,
			Priority:     models.PriorityLow,
			BatchSize:    DefaultBatchSize,
			BatchTimeout: DefaultBatchTimeout,
		},
		&WorkflowRule{
			Name:         "critical_severity_immediate",
			Matcher:      SeverityMatcher{Severities: []models.Severity{models.SeverityCritical}},
			Action:       CreateImmediateTask,
			Priority:     models.PriorityCritical,
			ResponseTime: 30 * time.Minute,
		},
		&WorkflowRule{
			Name:         "high_risk_immediate",
			Matcher:      RiskScoreMatcher{Min: 80},
			Action:       CreateImmediateTask,
			Priority:     models.PriorityHigh,
			ResponseTime: time.Hour,
		},
	)
}
