package rules

import (
	"context"
	"fmt"
	"os"
	"strconv"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"alertflow/pkg/models"
)

// SigmaMatcher evaluates a single-event Sigma detection against an alert's
// flattened fields. Attributes are exposed under their own names next to
// id, severity, patternType, message, confidence and riskScore.
type SigmaMatcher struct {
	Title string
	eval  *sigmaevaluator.RuleEvaluator
	ctx   context.Context
}

// NewSigmaMatcher compiles a Sigma rule document.
func NewSigmaMatcher(raw []byte) (*SigmaMatcher, error) {
	rule, err := sigma.ParseRule(raw)
	if err != nil {
		return nil, fmt.Errorf("parse sigma rule: %w", err)
	}
	if ok, reason := isSimpleSingleEventRule(rule); !ok {
		return nil, fmt.Errorf("sigma rule %q: %s", rule.Title, reason)
	}
	return &SigmaMatcher{
		Title: rule.Title,
		eval:  sigmaevaluator.ForRule(rule),
		ctx:   context.Background(),
	}, nil
}

// NewSigmaMatcherFromFile compiles a Sigma rule file.
func NewSigmaMatcherFromFile(path string) (*SigmaMatcher, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sigma rule %s: %w", path, err)
	}
	return NewSigmaMatcher(raw)
}

func (m *SigmaMatcher) Matches(alert *models.Alert) (bool, error) {
	if m == nil || m.eval == nil {
		return false, fmt.Errorf("sigma matcher not compiled")
	}
	res, err := m.eval.Matches(m.ctx, sigmaEventFrom(alert))
	if err != nil {
		return false, err
	}
	return res.Match, nil
}

func isSimpleSingleEventRule(rule sigma.Rule) (bool, string) {
	if rule.Detection.Timeframe > 0 {
		return false, "timeframe is not supported"
	}

	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false, "aggregation condition is not supported"
		}
	}

	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return false, "keyword search is not supported"
		}
		if len(search.EventMatchers) == 0 {
			return false, "search has no event matchers"
		}
	}

	return true, ""
}

func sigmaEventFrom(alert *models.Alert) map[string]interface{} {
	buf := make(map[string]interface{}, len(alert.Attributes)+6)
	for k, v := range alert.Attributes {
		buf[k] = v
	}
	buf["id"] = alert.ID
	buf["severity"] = alert.Severity.String()
	buf["patternType"] = alert.PatternType
	buf["message"] = alert.Message
	buf["confidence"] = strconv.FormatFloat(alert.Confidence, 'f', -1, 64)
	buf["riskScore"] = strconv.Itoa(alert.RiskScore)
	return buf
}
