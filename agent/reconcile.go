package agent

import (
	"fmt"
	"strings"
)

// Reconcile checks the model's final text against what the critical tools
// actually did. When at least one critical call was made and none
// succeeded, the text is replaced by an honest failure message and
// reconciled is true. Otherwise text is returned unchanged.
func Reconcile(text string, trail []CriticalCall) (final string, reconciled bool) {
	if len(trail) == 0 {
		return text, false
	}
	for _, c := range trail {
		if c.Success {
			return text, false
		}
	}
	return honestFailure(trail), true
}

// Failures returns the failed calls of a trail.
func Failures(trail []CriticalCall) []CriticalCall {
	var failed []CriticalCall
	for _, c := range trail {
		if !c.Success {
			failed = append(failed, c)
		}
	}
	return failed
}

func honestFailure(trail []CriticalCall) string {
	var b strings.Builder
	b.WriteString("The requested change was NOT applied. ")
	if len(trail) == 1 {
		b.WriteString("The operation that would apply it failed:\n")
	} else {
		fmt.Fprintf(&b, "All %d attempts to apply it failed:\n", len(trail))
	}
	for _, c := range trail {
		msg := c.Error
		if msg == "" {
			msg = "unknown error"
		}
		fmt.Fprintf(&b, "- %s: %s\n", c.Tool, msg)
	}
	b.WriteString("The video was not modified. Check the errors above and try again.")
	return b.String()
}
