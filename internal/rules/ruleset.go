package rules

import (
	"fmt"
	"time"

	"alertflow/internal/logger"
	"alertflow/pkg/models"
)

// RuleSet is an ordered, read-only list of workflow rules.
type RuleSet struct {
	rules    []*WorkflowRule
	fallback *WorkflowRule
	onError  func(*RuleEvaluationError)
}

// NewRuleSet builds a rule set in the given evaluation order.
func NewRuleSet(rules ...*WorkflowRule) *RuleSet {
	return &RuleSet{
		rules:    append([]*WorkflowRule(nil), rules...),
		fallback: DefaultRule(),
		onError: func(err *RuleEvaluationError) {
			logger.Warnf("Rule evaluation failed, skipping: %v", err)
		},
	}
}

// OnEvaluationError replaces the handler invoked for matcher failures.
func (s *RuleSet) OnEvaluationError(fn func(*RuleEvaluationError)) {
	if fn != nil {
		s.onError = fn
	}
}

// Rules returns the configured rules in order.
func (s *RuleSet) Rules() []*WorkflowRule {
	return append([]*WorkflowRule(nil), s.rules...)
}

// Default returns the rule applied when nothing matches.
func (s *RuleSet) Default() *WorkflowRule {
	return s.fallback
}

// FindMatchingRule returns the first rule whose matcher accepts the alert, or
// nil. A failing matcher never stops evaluation of the remaining rules.
func (s *RuleSet) FindMatchingRule(alert *models.Alert) *WorkflowRule {
	if s == nil || alert == nil {
		return nil
	}
	for _, rule := range s.rules {
		if rule == nil || rule.Matcher == nil {
			continue
		}
		ok, err := safeMatch(rule.Matcher, alert)
		if err != nil {
			s.onError(&RuleEvaluationError{Rule: rule.Name, AlertID: alert.ID, Err: err})
			continue
		}
		if ok {
			return rule
		}
	}
	return nil
}

// Resolve returns the matching rule or the default rule.
func (s *RuleSet) Resolve(alert *models.Alert) *WorkflowRule {
	if rule := s.FindMatchingRule(alert); rule != nil {
		return rule
	}
	return s.fallback
}

// LongestCorrelationWindow returns the widest window among correlating rules.
func (s *RuleSet) LongestCorrelationWindow() time.Duration {
	var longest time.Duration
	for _, rule := range s.rules {
		if rule.Action == CorrelateOrCreate && rule.CorrelationWindow > longest {
			longest = rule.CorrelationWindow
		}
	}
	return longest
}

func safeMatch(m Matcher, alert *models.Alert) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("matcher panicked: %v", r)
		}
	}()
	return m.Matches(alert)
}
