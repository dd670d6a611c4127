package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertflow/pkg/models"
)

const ruleFile = `
version: 1
defaults:
  correlation_window: 10 minutes
rules:
  - name: sqli
    action: create_immediate_task
    priority: critical
    assignee: senior_security_analyst
    response_time: 15m
    match:
      patterns: [sql_injection]
  - name: logins
    action: correlate_or_create
    priority: high
    correlation_window: "5 minutes"
    match:
      patterns: [failed_login]
  - name: broken_window
    action: correlate_or_create
    correlation_window: "a fortnight-ish"
    correlation_key: user
    match:
      patterns: [data_exfiltration]
  - name: disabled
    enabled: false
    action: batch_alerts
    match:
      patterns: [anything]
  - name: noisy
    action: batch_alerts
    priority: low
    batch_size: 3
    batch_timeout: "2 hours"
    match:
      severities: [low]
      any:
        - patterns: [rate_limiting]
        - attribute_equals: {endpoint: /healthz}
`

func TestParseRuleSet(t *testing.T) {
	set, err := ParseRuleSet([]byte(ruleFile), "")
	require.NoError(t, err)

	rules := set.Rules()
	require.Len(t, rules, 4)

	assert.Equal(t, "sqli", rules[0].Name)
	assert.Equal(t, models.PriorityCritical, rules[0].Priority)
	assert.Equal(t, 15*time.Minute, rules[0].ResponseTime)
	assert.Equal(t, "senior_security_analyst", rules[0].Assignee)

	assert.Equal(t, 5*time.Minute, rules[1].CorrelationWindow)
	assert.Equal(t, models.AttrSourceIP, rules[1].CorrelationKey)

	// Unparsable windows fall back to the default instead of failing the load.
	assert.Equal(t, DefaultCorrelationWindow, rules[2].CorrelationWindow)
	assert.Equal(t, "user", rules[2].CorrelationKey)

	assert.Equal(t, 3, rules[3].BatchSize)
	assert.Equal(t, 2*time.Hour, rules[3].BatchTimeout)

	healthz := &models.Alert{ID: "h", Severity: models.SeverityLow, PatternType: "x", Attributes: map[string]string{"endpoint": "/healthz"}}
	assert.Equal(t, "noisy", set.Resolve(healthz).Name)
}

func TestParseRuleSetRejectsBadInput(t *testing.T) {
	_, err := ParseRuleSet([]byte("rules:\n  - name: x\n    action: nope\n    match: {patterns: [a]}\n"), "")
	assert.Error(t, err)

	_, err = ParseRuleSet([]byte("rules:\n  - name: x\n    action: batch_alerts\n"), "")
	assert.Error(t, err, "empty match block")

	_, err = ParseRuleSet([]byte("rules:\n  - name: x\n    action: batch_alerts\n    match: {patterns: [a]}\n  - name: x\n    action: batch_alerts\n    match: {patterns: [b]}\n"), "")
	assert.Error(t, err, "duplicate names")
}

func TestParseWindow(t *testing.T) {
	cases := map[string]time.Duration{
		"5 minutes":   5 * time.Minute,
		"1 hour":      time.Hour,
		"30s":         30 * time.Second,
		"1h30m":       90 * time.Minute,
		"2 days":      48 * time.Hour,
		"10min":       10 * time.Minute,
		"106751 days": 106751 * 24 * time.Hour,
	}
	for raw, want := range cases {
		got, err := ParseWindow(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"", "soon", "0 minutes", "-5m", "5 fortnights", "300000 days", "2562048 hours"} {
		_, err := ParseWindow(raw)
		assert.Error(t, err, raw)
	}
}

const sigmaRule = `
title: Admin endpoint probe
logsource:
  product: webapp
detection:
  selection:
    endpoint|startswith: /admin
    patternType: suspicious_request
  condition: selection
level: high
`

func TestSigmaMatcher(t *testing.T) {
	m, err := NewSigmaMatcher([]byte(sigmaRule))
	require.NoError(t, err)
	assert.Equal(t, "Admin endpoint probe", m.Title)

	hit := &models.Alert{ID: "s1", PatternType: "suspicious_request", Attributes: map[string]string{"endpoint": "/admin/users"}}
	ok, err := m.Matches(hit)
	require.NoError(t, err)
	assert.True(t, ok)

	miss := &models.Alert{ID: "s2", PatternType: "suspicious_request", Attributes: map[string]string{"endpoint": "/public"}}
	ok, err = m.Matches(miss)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadRuleSetWithSigmaFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "admin.yml"), []byte(sigmaRule), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yml"), []byte(`
rules:
  - name: admin_probe
    action: create_standard_task
    priority: high
    match:
      sigma_file: admin.yml
`), 0o644))

	set, err := LoadRuleSet(filepath.Join(dir, "rules.yml"))
	require.NoError(t, err)
	alert := &models.Alert{ID: "s1", PatternType: "suspicious_request", Attributes: map[string]string{"endpoint": "/admin"}}
	assert.Equal(t, "admin_probe", set.Resolve(alert).Name)
}

func TestShippedRuleFileMatchesDefaults(t *testing.T) {
	set, err := LoadRuleSet(filepath.Join("..", "..", "rules", "workflow.yml"))
	require.NoError(t, err)
	defaults := DefaultRuleSet()

	loaded := set.Rules()
	want := defaults.Rules()
	require.Len(t, loaded, len(want))
	for i := range want {
		assert.Equal(t, want[i].Name, loaded[i].Name)
		assert.Equal(t, want[i].Action, loaded[i].Action, want[i].Name)
		assert.Equal(t, want[i].Priority, loaded[i].Priority, want[i].Name)
		assert.Equal(t, want[i].ResponseTime, loaded[i].ResponseTime, want[i].Name)
		assert.Equal(t, want[i].CorrelationWindow, loaded[i].CorrelationWindow, want[i].Name)
		assert.Equal(t, want[i].CorrelationKey, loaded[i].CorrelationKey, want[i].Name)
	}
	assert.Equal(t, defaults.LongestCorrelationWindow(), set.LongestCorrelationWindow())
}
