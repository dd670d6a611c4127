package models

import (
	"fmt"
	"strings"
)

// Priority ranks tasks and rules.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
	PriorityEmergency
)

var priorityNames = map[Priority]string{
	PriorityLow:       "LOW",
	PriorityMedium:    "MEDIUM",
	PriorityHigh:      "HIGH",
	PriorityCritical:  "CRITICAL",
	PriorityEmergency: "EMERGENCY",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority parses a case-insensitive priority name.
func ParsePriority(raw string) (Priority, error) {
	want := strings.ToUpper(strings.TrimSpace(raw))
	for p, name := range priorityNames {
		if name == want {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", raw)
}

// MarshalText encodes the priority name.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Priorities lists all priorities in ascending order.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical, PriorityEmergency}
}
