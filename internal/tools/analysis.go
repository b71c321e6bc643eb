package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSONReply parses an LLM JSON reply into v, tolerating a wrapping
// markdown code fence.
func decodeJSONReply(raw string, v any) error {
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("parse command analysis: %w", err)
	}
	return nil
}

func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		if !strings.Contains(trimmed[:idx], "{") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// metadataString reads a string out of a metadata extra map.
func metadataString(extra map[string]any, key string) string {
	if extra == nil {
		return ""
	}
	if s, ok := extra[key].(string); ok {
		return s
	}
	return ""
}

// conditionFloat reads a numeric condition parameter. JSON round-trips
// numbers as float64.
func conditionFloat(condition map[string]any, key string) (float64, bool) {
	if condition == nil {
		return 0, false
	}
	switch v := condition[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
