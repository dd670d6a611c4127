package rules

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"alertflow/internal/logger"
	"alertflow/pkg/models"
)

// File is the YAML layout of a rule file.
type File struct {
	Version  int          `yaml:"version"`
	Defaults FileDefaults `yaml:"defaults"`
	Rules    []RuleSpec   `yaml:"rules"`
}

// FileDefaults are fallback options for rules.
type FileDefaults struct {
	CorrelationWindow string `yaml:"correlation_window"`
	BatchSize         int    `yaml:"batch_size"`
	BatchTimeout      string `yaml:"batch_timeout"`
}

// RuleSpec is one rule as written in YAML.
type RuleSpec struct {
	Name              string    `yaml:"name"`
	Enabled           *bool     `yaml:"enabled"`
	Action            string    `yaml:"action"`
	Priority          string    `yaml:"priority"`
	Assignee          string    `yaml:"assignee"`
	ResponseTime      string    `yaml:"response_time"`
	CorrelationWindow string    `yaml:"correlation_window"`
	CorrelationKey    string    `yaml:"correlation_key"`
	BatchSize         int       `yaml:"batch_size"`
	BatchTimeout      string    `yaml:"batch_timeout"`
	Match             MatchSpec `yaml:"match"`
}

// MatchSpec declares matcher conditions. All set conditions must hold; Any
// adds a nested disjunction.
type MatchSpec struct {
	Patterns      []string          `yaml:"patterns"`
	Severities    []string          `yaml:"severities"`
	MinRiskScore  int               `yaml:"min_risk_score"`
	MinConfidence float64           `yaml:"min_confidence"`
	Equals        map[string]string `yaml:"attribute_equals"`
	Contains      map[string]string `yaml:"attribute_contains"`
	Present       []string          `yaml:"attribute_present"`
	Sigma         string            `yaml:"sigma"`
	SigmaFile     string            `yaml:"sigma_file"`
	Any           []MatchSpec       `yaml:"any"`
}

// CorrelationParseError reports an unparsable window string. Loading
// recovers by using the default window.
type CorrelationParseError struct {
	Rule  string
	Value string
	Err   error
}

func (e *CorrelationParseError) Error() string {
	return fmt.Sprintf("rule %s: parse window %q: %v", e.Rule, e.Value, e.Err)
}

func (e *CorrelationParseError) Unwrap() error {
	return e.Err
}

// LoadRuleSet reads workflow rules from a YAML file.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return ParseRuleSet(data, filepath.Dir(path))
}

// ParseRuleSet builds a rule set from YAML. Relative sigma_file paths are
// resolved against baseDir.
func ParseRuleSet(data []byte, baseDir string) (*RuleSet, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}

	defaultWindow := DefaultCorrelationWindow
	if f.Defaults.CorrelationWindow != "" {
		defaultWindow = parseWindowOrDefault("defaults", f.Defaults.CorrelationWindow, DefaultCorrelationWindow)
	}
	defaultBatchSize := f.Defaults.BatchSize
	if defaultBatchSize <= 0 {
		defaultBatchSize = DefaultBatchSize
	}
	defaultBatchTimeout := DefaultBatchTimeout
	if f.Defaults.BatchTimeout != "" {
		defaultBatchTimeout = parseWindowOrDefault("defaults", f.Defaults.BatchTimeout, DefaultBatchTimeout)
	}

	out := make([]*WorkflowRule, 0, len(f.Rules))
	seen := make(map[string]struct{}, len(f.Rules))
	for i, spec := range f.Rules {
		if spec.Enabled != nil && !*spec.Enabled {
			continue
		}
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate rule name %q", name)
		}
		seen[name] = struct{}{}

		action, err := ParseAction(spec.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		priority := models.PriorityMedium
		if spec.Priority != "" {
			priority, err = models.ParsePriority(spec.Priority)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", name, err)
			}
		}
		matcher, err := buildMatcher(spec.Match, baseDir)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}

		rule := &WorkflowRule{
			Name:           name,
			Matcher:        matcher,
			Action:         action,
			Priority:       priority,
			Assignee:       strings.TrimSpace(spec.Assignee),
			CorrelationKey: strings.TrimSpace(spec.CorrelationKey),
			BatchSize:      spec.BatchSize,
		}
		if spec.ResponseTime != "" {
			rule.ResponseTime = parseWindowOrDefault(name, spec.ResponseTime, 0)
		}
		if action == CorrelateOrCreate {
			rule.CorrelationWindow = defaultWindow
			if spec.CorrelationWindow != "" {
				rule.CorrelationWindow = parseWindowOrDefault(name, spec.CorrelationWindow, DefaultCorrelationWindow)
			}
			if rule.CorrelationKey == "" {
				rule.CorrelationKey = models.AttrSourceIP
			}
		}
		if action == BatchAlerts {
			if rule.BatchSize <= 0 {
				rule.BatchSize = defaultBatchSize
			}
			rule.BatchTimeout = defaultBatchTimeout
			if spec.BatchTimeout != "" {
				rule.BatchTimeout = parseWindowOrDefault(name, spec.BatchTimeout, DefaultBatchTimeout)
			}
		}
		out = append(out, rule)
	}

	return NewRuleSet(out...), nil
}

func buildMatcher(spec MatchSpec, baseDir string) (Matcher, error) {
	var all AllOf
	if len(spec.Patterns) > 0 {
		all = append(all, PatternMatcher{Patterns: spec.Patterns})
	}
	if len(spec.Severities) > 0 {
		sevs := make([]models.Severity, 0, len(spec.Severities))
		for _, raw := range spec.Severities {
			s, err := models.ParseSeverity(raw)
			if err != nil {
				return nil, err
			}
			sevs = append(sevs, s)
		}
		all = append(all, SeverityMatcher{Severities: sevs})
	}
	if spec.MinRiskScore > 0 {
		all = append(all, RiskScoreMatcher{Min: spec.MinRiskScore})
	}
	if spec.MinConfidence > 0 {
		all = append(all, ConfidenceMatcher{Min: spec.MinConfidence})
	}
	if len(spec.Equals) > 0 || len(spec.Contains) > 0 || len(spec.Present) > 0 {
		all = append(all, AttributeMatcher{Equals: spec.Equals, Contains: spec.Contains, Present: spec.Present})
	}
	if strings.TrimSpace(spec.Sigma) != "" {
		m, err := NewSigmaMatcher([]byte(spec.Sigma))
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	if spec.SigmaFile != "" {
		path := spec.SigmaFile
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		m, err := NewSigmaMatcherFromFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, m)
	}
	if len(spec.Any) > 0 {
		var anyOf AnyOf
		for _, child := range spec.Any {
			m, err := buildMatcher(child, baseDir)
			if err != nil {
				return nil, err
			}
			anyOf = append(anyOf, m)
		}
		all = append(all, anyOf)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("match block is empty")
	}
	if len(all) == 1 {
		return all[0], nil
	}
	return all, nil
}

var windowPattern = regexp.MustCompile(`^(\d+)\s*([a-z]+)$`)

// ParseWindow parses Go durations ("90s", "1h30m") and phrases such as
// "5 minutes" or "2 hours".
func ParseWindow(raw string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return 0, fmt.Errorf("empty window")
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("window must be positive")
		}
		return d, nil
	}
	m := windowPattern.FindStringSubmatch(v)
	if m == nil {
		return 0, fmt.Errorf("unrecognized window format")
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	var unit time.Duration
	switch m[2] {
	case "s", "sec", "secs", "second", "seconds":
		unit = time.Second
	case "m", "min", "mins", "minute", "minutes":
		unit = time.Minute
	case "h", "hr", "hrs", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown unit %q", m[2])
	}
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("window %d%s out of range", n, m[2])
	}
	return time.Duration(n) * unit, nil
}

func parseWindowOrDefault(rule, raw string, def time.Duration) time.Duration {
	d, err := ParseWindow(raw)
	if err != nil {
		logger.Warnf("Using default window %s: %v", def, &CorrelationParseError{Rule: rule, Value: raw, Err: err})
		return def
	}
	return d
}
