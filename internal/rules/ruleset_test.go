package rules

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertflow/pkg/models"
)

type failingMatcher struct{}

func (failingMatcher) Matches(*models.Alert) (bool, error) {
	return false, errors.New("boom")
}

type panickingMatcher struct{}

func (panickingMatcher) Matches(*models.Alert) (bool, error) {
	panic("nil attribute map")
}

func sampleAlert(pattern string, sev models.Severity) *models.Alert {
	return &models.Alert{
		ID:          "a-1",
		Severity:    sev,
		PatternType: pattern,
		Message:     "msg",
		Attributes:  map[string]string{models.AttrSourceIP: "10.0.0.5", models.AttrEndpoint: "/admin/users"},
	}
}

func TestFirstMatchingRuleWinsRegardlessOfShuffledCalls(t *testing.T) {
	first := &WorkflowRule{Name: "first", Matcher: PatternMatcher{Patterns: []string{"sql_injection"}}}
	second := &WorkflowRule{Name: "second", Matcher: SeverityMatcher{Severities: []models.Severity{models.SeverityCritical}}}
	set := NewRuleSet(first, second)

	alerts := make([]*models.Alert, 50)
	for i := range alerts {
		alerts[i] = sampleAlert("sql_injection", models.SeverityCritical)
	}
	rand.Shuffle(len(alerts), func(i, j int) { alerts[i], alerts[j] = alerts[j], alerts[i] })

	for _, a := range alerts {
		got := set.FindMatchingRule(a)
		require.NotNil(t, got)
		assert.Equal(t, "first", got.Name)
	}
}

func TestBrokenMatcherIsSkipped(t *testing.T) {
	var reported []*RuleEvaluationError
	set := NewRuleSet(
		&WorkflowRule{Name: "broken", Matcher: failingMatcher{}},
		&WorkflowRule{Name: "panics", Matcher: panickingMatcher{}},
		&WorkflowRule{Name: "ok", Matcher: PatternMatcher{Patterns: []string{"failed_login"}}},
	)
	set.OnEvaluationError(func(err *RuleEvaluationError) { reported = append(reported, err) })

	got := set.FindMatchingRule(sampleAlert("failed_login", models.SeverityHigh))
	require.NotNil(t, got)
	assert.Equal(t, "ok", got.Name)
	require.Len(t, reported, 2)
	assert.Equal(t, "broken", reported[0].Rule)
	assert.Equal(t, "panics", reported[1].Rule)
}

func TestResolveFallsBackToDefaultRule(t *testing.T) {
	set := DefaultRuleSet()
	alert := sampleAlert("unknown_thing", models.SeverityMedium)
	assert.Nil(t, set.FindMatchingRule(alert))

	rule := set.Resolve(alert)
	assert.Equal(t, DefaultRuleName, rule.Name)
	assert.Equal(t, CreateStandardTask, rule.Action)
	assert.Equal(t, models.PriorityMedium, rule.Priority)
	assert.Equal(t, "security_analyst", rule.Assignee)
}

func TestDefaultRuleSetRouting(t *testing.T) {
	set := DefaultRuleSet()

	cases := []struct {
		pattern string
		sev     models.Severity
		rule    string
		action  Action
	}{
		{"sql_injection", models.SeverityCritical, "sql_injection_immediate", CreateImmediateTask},
		{"failed_login", models.SeverityMedium, "failed_login_correlation", CorrelateOrCreate},
		{"rate_limiting", models.SeverityLow, "low_severity_batch", BatchAlerts},
		{"privilege_escalation", models.SeverityHigh, "privilege_escalation_escalate", EscalateImmediately},
		{"malware_detected", models.SeverityCritical, "critical_severity_immediate", CreateImmediateTask},
	}
	for _, tc := range cases {
		t.Run(tc.pattern, func(t *testing.T) {
			got := set.Resolve(sampleAlert(tc.pattern, tc.sev))
			assert.Equal(t, tc.rule, got.Name)
			assert.Equal(t, tc.action, got.Action)
		})
	}
	assert.Equal(t, 30*time.Minute, set.LongestCorrelationWindow())
}

func TestCompositeMatchers(t *testing.T) {
	alert := sampleAlert("suspicious_request", models.SeverityHigh)
	alert.RiskScore = 70
	alert.Confidence = 0.8

	ok, err := AllOf{
		RiskScoreMatcher{Min: 50},
		ConfidenceMatcher{Min: 0.5},
		AttributeMatcher{Contains: map[string]string{models.AttrEndpoint: "ADMIN"}, Present: []string{models.AttrSourceIP}},
	}.Matches(alert)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AnyOf{failingMatcher{}, PatternMatcher{Patterns: []string{"suspicious_request"}}}.Matches(alert)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AnyOf{failingMatcher{}}.Matches(alert)
	assert.Error(t, err)
	assert.False(t, ok)

	ok, _ = AttributeMatcher{Equals: map[string]string{"user": "bob"}}.Matches(alert)
	assert.False(t, ok)
}

func TestParseActionRoundTrip(t *testing.T) {
	for a := range actionNames {
		got, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseAction("page_everyone")
	assert.Error(t, err)
}
