package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Context keys with a fixed label in prompts.
var labeledContext = []struct{ key, label string }{
	{"template_id", "Template"},
	{"project_id", "Project"},
}

// UserTurn builds the first user message of a specialist transcript.
func UserTurn(jobID, instruction string, context map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job ID: %s\nInstruction: %s", jobID, instruction)
	writeContext(&b, context, true)
	return b.String()
}

// RouterTurn builds the classifier's user message. Only the labeled
// context keys are included.
func RouterTurn(instruction string, context map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s", instruction)
	writeContext(&b, context, false)
	return b.String()
}

func writeContext(b *strings.Builder, context map[string]any, rest bool) {
	seen := make(map[string]bool, len(labeledContext))
	for _, lc := range labeledContext {
		seen[lc.key] = true
		if v, ok := contextValue(context, lc.key); ok {
			fmt.Fprintf(b, "\n%s: %s", lc.label, v)
		}
	}
	if !rest {
		return
	}
	keys := make([]string, 0, len(context))
	for k := range context {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := contextValue(context, k); ok {
			fmt.Fprintf(b, "\n%s: %s", k, v)
		}
	}
}

// contextValue renders a context value; nil and empty strings are skipped.
func contextValue(context map[string]any, key string) (string, bool) {
	v, ok := context[key]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, x != ""
	case fmt.Stringer:
		return x.String(), true
	case map[string]any, []any:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x), true
		}
		return string(raw), true
	default:
		return fmt.Sprint(x), true
	}
}
