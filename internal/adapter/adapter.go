// Package adapter normalizes producer-specific alert payloads into
// models.Alert. It renames and coerces fields and applies no business logic.
package adapter

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"alertflow/pkg/models"
)

// AdaptationError reports an alert that cannot be normalized. It is terminal
// for that alert only.
type AdaptationError struct {
	AlertID string
	Field   string
	Reason  string
}

func (e *AdaptationError) Error() string {
	id := e.AlertID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("adapt alert %s: %s: %s", id, e.Field, e.Reason)
}

// Parse decodes a JSON payload and adapts it.
func Parse(data []byte) (models.Alert, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Alert{}, &AdaptationError{Field: "payload", Reason: err.Error()}
	}
	return Adapt(raw)
}

// Adapt converts a decoded external alert into the canonical shape.
// Field lookups accept camelCase, snake_case and dotted nested paths.
func Adapt(raw map[string]interface{}) (models.Alert, error) {
	if raw == nil {
		return models.Alert{}, &AdaptationError{Field: "payload", Reason: "empty alert"}
	}

	alert := models.Alert{
		ID:          strings.TrimSpace(getString(raw, "id", "alert_id", "alertId")),
		PatternType: strings.TrimSpace(getString(raw, "patternType", "pattern_type", "pattern")),
		Message:     getString(raw, "message", "msg", "description"),
	}
	if alert.ID == "" {
		return models.Alert{}, &AdaptationError{Field: "id", Reason: "missing required field"}
	}
	if alert.PatternType == "" {
		return models.Alert{}, &AdaptationError{AlertID: alert.ID, Field: "patternType", Reason: "missing required field"}
	}
	if strings.TrimSpace(alert.Message) == "" {
		return models.Alert{}, &AdaptationError{AlertID: alert.ID, Field: "message", Reason: "missing required field"}
	}

	sevRaw := getString(raw, "severity", "level")
	if sevRaw == "" {
		return models.Alert{}, &AdaptationError{AlertID: alert.ID, Field: "severity", Reason: "missing required field"}
	}
	sev, err := models.ParseSeverity(sevRaw)
	if err != nil {
		return models.Alert{}, &AdaptationError{AlertID: alert.ID, Field: "severity", Reason: err.Error()}
	}
	alert.Severity = sev

	alert.Timestamp = time.Now().UTC()
	if ts := getString(raw, "timestamp", "@timestamp", "ts"); ts != "" {
		if t, ok := parseTimestamp(ts); ok {
			alert.Timestamp = t
		}
	}

	alert.Confidence = clampFloat(getFloat(raw, "confidence", "confidence_score"), 0, 1)
	alert.RiskScore = int(clampFloat(getFloat(raw, "riskScore", "risk_score"), 0, 100))
	alert.RecommendedActions = getStrings(raw, "recommendedActions", "recommended_actions")
	alert.Attributes = getAttributes(raw)

	return alert, nil
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}

	for _, layout := range []string{
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

func getAttributes(raw map[string]interface{}) map[string]string {
	out := make(map[string]string)
	for _, path := range []string{"attributes", "context", "metadata"} {
		v, ok := getPath(raw, path)
		if !ok {
			continue
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		for k, val := range m {
			if s, ok := stringify(val); ok {
				if _, exists := out[k]; !exists {
					out[k] = s
				}
			}
		}
	}

	// Well-known keys may arrive under aliases, nested or at the top level.
	aliases := map[string][]string{
		models.AttrSourceIP: {"source_ip", "src_ip", "ip_address"},
		models.AttrEndpoint: {"target_endpoint", "url"},
		models.AttrUser:     {"username", "user_id"},
		models.AttrHostname: {"host", "host.name"},
	}
	for canonical, names := range aliases {
		if _, ok := out[canonical]; ok {
			continue
		}
		for _, name := range names {
			if v, ok := out[name]; ok && v != "" {
				out[canonical] = v
				break
			}
		}
		if _, ok := out[canonical]; ok {
			continue
		}
		if v := getString(raw, append([]string{canonical}, names...)...); v != "" {
			out[canonical] = v
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func getStrings(root map[string]interface{}, paths ...string) []string {
	for _, path := range paths {
		v, ok := getPath(root, path)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case []interface{}:
			out := make([]string, 0, len(val))
			for _, item := range val {
				if s, ok := stringify(item); ok && strings.TrimSpace(s) != "" {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return append([]string(nil), val...)
		case string:
			if strings.TrimSpace(val) != "" {
				return []string{val}
			}
		}
	}
	return nil
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			if s, ok := stringify(v); ok {
				return s
			}
		}
	}
	return ""
}

func getFloat(root map[string]interface{}, paths ...string) float64 {
	for _, path := range paths {
		v, ok := getPath(root, path)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		case int64:
			return float64(val)
		case json.Number:
			if f, err := val.Float64(); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func stringify(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := stringify(item); ok {
				parts = append(parts, s)
			}
		}
		sort.Strings(parts)
		return strings.Join(parts, ","), true
	default:
		return "", false
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := root[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return nil, false
	}
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
