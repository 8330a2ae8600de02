package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Tool names.
const (
	ListTracks              = "list_tracks"
	GetTrackItems           = "get_track_items"
	GetJobStatus            = "get_job_status"
	ModifyPayload           = "modify_payload"
	ValidatePayload         = "validate_payload"
	ReRender                = "re_render"
	ListPipelineCheckpoints = "list_pipeline_checkpoints"
	GetStepPayload          = "get_step_payload"
	ReplayFromStep          = "replay_from_step"
)

// Group is a named, fixed set of tool names scoping one specialist.
type Group struct {
	Name  string
	Tools []string
}

// Capability groups.
var (
	ObservationTools = []string{ListTracks, GetTrackItems, GetJobStatus}

	PayloadGroup = Group{
		Name:  "payload",
		Tools: concat(ObservationTools, []string{ModifyPayload, ValidatePayload, ReRender}),
	}
	ReplayGroup = Group{
		Name:  "replay",
		Tools: concat(ObservationTools, []string{ListPipelineCheckpoints, GetStepPayload, ReplayFromStep}),
	}
	UnifiedGroup = Group{
		Name:  "unified",
		Tools: union(PayloadGroup.Tools, ReplayGroup.Tools),
	}
)

// CriticalTools mutate job state; at least one must succeed for a change
// request to count as fulfilled.
var CriticalTools = []string{ReRender, ReplayFromStep}

// GroupByName returns a predefined group.
func GroupByName(name string) (Group, error) {
	switch strings.ToLower(name) {
	case PayloadGroup.Name:
		return PayloadGroup, nil
	case ReplayGroup.Name:
		return ReplayGroup, nil
	case UnifiedGroup.Name, "", "all":
		return UnifiedGroup, nil
	default:
		return Group{}, fmt.Errorf("unknown tool group %q", name)
	}
}

// Contains reports whether the group includes name.
func (g Group) Contains(name string) bool {
	for _, t := range g.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// Restrict intersects the group with an allow list. A nil allow list means
// no restriction; the result never contains a tool outside the group.
func (g Group) Restrict(allowed []string) Group {
	if allowed == nil {
		return g
	}
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	out := Group{Name: g.Name}
	for _, t := range g.Tools {
		if set[t] {
			out.Tools = append(out.Tools, t)
		}
	}
	return out
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func union(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range concat(a, b) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
