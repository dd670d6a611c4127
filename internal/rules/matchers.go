package rules

import (
	"strings"

	"alertflow/pkg/models"
)

// PatternMatcher matches alerts whose pattern type is in the set.
type PatternMatcher struct {
	Patterns []string
}

func (m PatternMatcher) Matches(alert *models.Alert) (bool, error) {
	for _, p := range m.Patterns {
		if strings.EqualFold(p, alert.PatternType) {
			return true, nil
		}
	}
	return false, nil
}

// SeverityMatcher matches alerts with one of the listed severities.
type SeverityMatcher struct {
	Severities []models.Severity
}

func (m SeverityMatcher) Matches(alert *models.Alert) (bool, error) {
	for _, s := range m.Severities {
		if s == alert.Severity {
			return true, nil
		}
	}
	return false, nil
}

// RiskScoreMatcher matches alerts at or above a risk score.
type RiskScoreMatcher struct {
	Min int
}

func (m RiskScoreMatcher) Matches(alert *models.Alert) (bool, error) {
	return alert.RiskScore >= m.Min, nil
}

// ConfidenceMatcher matches alerts at or above a confidence.
type ConfidenceMatcher struct {
	Min float64
}

func (m ConfidenceMatcher) Matches(alert *models.Alert) (bool, error) {
	return alert.Confidence >= m.Min, nil
}

// AttributeMatcher checks attribute values. All configured conditions must hold.
type AttributeMatcher struct {
	Equals   map[string]string
	Contains map[string]string
	Present  []string
}

func (m AttributeMatcher) Matches(alert *models.Alert) (bool, error) {
	for k, want := range m.Equals {
		if v, ok := alert.Attributes[k]; !ok || v != want {
			return false, nil
		}
	}
	for k, sub := range m.Contains {
		v, ok := alert.Attributes[k]
		if !ok || !strings.Contains(strings.ToLower(v), strings.ToLower(sub)) {
			return false, nil
		}
	}
	for _, k := range m.Present {
		if strings.TrimSpace(alert.Attributes[k]) == "" {
			return false, nil
		}
	}
	return true, nil
}

// AllOf matches when every child matches. An empty AllOf matches everything.
type AllOf []Matcher

func (m AllOf) Matches(alert *models.Alert) (bool, error) {
	for _, child := range m {
		ok, err := child.Matches(alert)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// AnyOf matches when at least one child matches.
type AnyOf []Matcher

func (m AnyOf) Matches(alert *models.Alert) (bool, error) {
	var firstErr error
	for _, child := range m {
		ok, err := child.Matches(alert)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}
