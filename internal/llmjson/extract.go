// Package llmjson recovers JSON objects from model output.
//
// Even in JSON mode some providers wrap the object in a markdown fence or
// add a sentence around it. Decode tolerates both.
package llmjson

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract returns the JSON object contained in text.
//
// It accepts, in order: the whole text, the text inside a ``` or ```json
// fence, and the span from the first '{' to the last '}'.
func Extract(text string) (string, error) {
	text = stripFence(text)
	if isObject(text) {
		return text, nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start != -1 && end > start {
		if candidate := text[start : end+1]; isObject(candidate) {
			return candidate, nil
		}
	}

	preview := text
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("no JSON object in model output: %q", preview)
}

// Decode extracts the JSON object in text and unmarshals it into T.
func Decode[T any](text string) (T, error) {
	var out T
	raw, err := Extract(text)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal model JSON: %w", err)
	}
	return out, nil
}

func isObject(s string) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &m) == nil && m != nil
}

func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
