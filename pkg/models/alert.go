package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the alert severity reported by the source.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LOW":
		return SeverityLow, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", raw)
	}
}

// MarshalText encodes the severity name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Well-known attribute keys.
const (
	AttrSourceIP = "sourceIp"
	AttrEndpoint = "endpoint"
	AttrUser     = "user"
	AttrHostname = "hostname"
)

// Alert is a normalized security observation. It is read-only once built.
type Alert struct {
	ID                 string            `json:"id"`
	Timestamp          time.Time         `json:"timestamp"`
	Severity           Severity          `json:"severity"`
	PatternType        string            `json:"pattern_type"`
	Message            string            `json:"message"`
	Confidence         float64           `json:"confidence"`
	RiskScore          int               `json:"risk_score"`
	RecommendedActions []string          `json:"recommended_actions,omitempty"`
	Attributes         map[string]string `json:"attributes,omitempty"`
}

// Attr returns an attribute value or "".
func (a *Alert) Attr(name string) string {
	if a == nil || a.Attributes == nil {
		return ""
	}
	return a.Attributes[name]
}

// SourceIP returns the sourceIp attribute.
func (a *Alert) SourceIP() string {
	return a.Attr(AttrSourceIP)
}
