// Pipeline replay tools: inspect checkpoints and re-run the pipeline from a
// step with modified state.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

var includeParent = url.Values{"include_parent": []string{"true"}}

// ListCheckpointsTool lists the saved pipeline checkpoints of a job.
type ListCheckpointsTool struct {
	backend *Backend
}

// NewListCheckpointsTool creates the list_pipeline_checkpoints tool.
func NewListCheckpointsTool(b *Backend) *ListCheckpointsTool {
	return &ListCheckpointsTool{backend: b}
}

// Definition describes list_pipeline_checkpoints.
func (t *ListCheckpointsTool) Definition() Definition {
	return Definition{
		Name: ListPipelineCheckpoints,
		Description: "Lists the pipeline checkpoints saved for a job. Each checkpoint is the full state after a step ran. " +
			"Use it BEFORE replay_from_step to know which steps have data. Shows step_name, duration_ms, completed_steps " +
			"and which steps allow replay with modifications.",
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"job_id": jobIDSchema},
			"required":             []string{"job_id"},
			"additionalProperties": false,
		},
		Idempotent: true,
	}
}

// Invoke fetches and annotates the checkpoints.
func (t *ListCheckpointsTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var a jobArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	resp, err := t.backend.Get(ctx, jobPath("/api/video/job/%s/checkpoints", a.JobID), includeParent)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp.Failure("failed to list checkpoints"), nil
	}
	data, err := resp.Object()
	if err != nil {
		return nil, err
	}

	checkpoints, _ := data["checkpoints"].([]any)
	available := []string{}
	var parentSteps []string
	for _, raw := range checkpoints {
		cp, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		step, _ := cp["step_name"].(string)
		modType, modifiable := StepModifications[step]
		cp["modifiable"] = modifiable
		cp["modification_type"] = modType
		if modifiable {
			available = append(available, step)
		}
		if fromParent, _ := cp["from_parent"].(bool); fromParent {
			parentSteps = append(parentSteps, step)
		}
	}
	if checkpoints == nil {
		checkpoints = []any{}
	}

	out := Result{
		"job_id":                 a.JobID,
		"checkpoint_count":       len(checkpoints),
		"checkpoints":            checkpoints,
		"replay_steps_available": available,
	}
	if root, _ := data["root_job_id"].(string); root != "" {
		out["root_job_id"] = root
		if len(parentSteps) > 0 {
			out["parent_only_steps"] = parentSteps
			out["hint"] = fmt.Sprintf("This job is a replay. Steps %v come from the original job (%s...). "+
				"To replay those steps use job_id='%s' in replay_from_step.", parentSteps, shortID(root), root)
		}
	}
	return out, nil
}

// GetStepPayloadTool returns a summary of the pipeline state after a step.
type GetStepPayloadTool struct {
	backend *Backend
}

// NewGetStepPayloadTool creates the get_step_payload tool.
func NewGetStepPayloadTool(b *Backend) *GetStepPayloadTool {
	return &GetStepPayloadTool{backend: b}
}

// Definition describes get_step_payload.
func (t *GetStepPayloadTool) Definition() Definition {
	return Definition{
		Name: GetStepPayload,
		Description: "Returns the pipeline state after a specific step. Use it to INSPECT fields before deciding which modifications " +
			"to replay with. Shows text_styles, template_config, silence options, video clipper stats and counts. " +
			"For silence use step 'detect_silence'. For b-rolls use step 'video_clipper'. " +
			"ALWAYS call list_pipeline_checkpoints first to confirm the step exists.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"job_id": jobIDSchema,
				"step_name": map[string]any{
					"type":      "string",
					"minLength": 1,
					"description": "Step to inspect, e.g. 'classify' (before generate_pngs), 'generate_pngs', 'add_shadows', " +
						"'detect_silence' (silence), 'video_clipper' (b-rolls).",
				},
			},
			"required":             []string{"job_id", "step_name"},
			"additionalProperties": false,
		},
		Idempotent: true,
	}
}

type stepArgs struct {
	JobID    string `json:"job_id"`
	StepName string `json:"step_name"`
}

// Invoke fetches the checkpoint and extracts the modifiable fields.
func (t *GetStepPayloadTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var a stepArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	resp, err := t.backend.Get(ctx, jobPath("/api/video/job/%s/checkpoints/%s", a.JobID, a.StepName), includeParent)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return Result{
			KeyError: fmt.Sprintf("checkpoint not found for step '%s'. Use list_pipeline_checkpoints to see the available steps.",
				a.StepName),
			"not_found": true,
		}, nil
	}
	if !resp.OK() {
		return resp.Failure("failed to fetch checkpoint"), nil
	}
	data, err := resp.Object()
	if err != nil {
		return nil, err
	}
	state := obj(data["state"])

	phraseGroups, _ := state["phrase_groups"].([]any)
	completed := state["completed_steps"]
	if completed == nil {
		completed = []any{}
	}
	summary := map[string]any{
		"text_styles":             state["text_styles"],
		"template_id":             state["template_id"],
		"template_config":         summarizeTemplateConfig(state["template_config"]),
		"video_width":             state["video_width"],
		"video_height":            state["video_height"],
		"total_duration_ms":       state["total_duration_ms"],
		"phrase_groups_count":     len(phraseGroups),
		"completed_steps":         completed,
		"has_png_results":         state["png_results"] != nil,
		"has_shadow_results":      state["shadow_results"] != nil,
		"has_animation_results":   state["animation_results"] != nil,
		"has_positioning_results": state["positioning_results"] != nil,
		"has_background_results":  state["background_results"] != nil,
	}

	family := familyOf(a.StepName)
	fields := modifiableFields(family, state, summary)
	hintFamily := family
	if len(fields) == 0 {
		hintFamily = familyOther
	}

	out := Result{
		"job_id":            a.JobID,
		"step_name":         a.StepName,
		"found":             true,
		"state_summary":     summary,
		"modifiable_fields": nil,
		"modification_type": StepModifications[a.StepName],
		"hint":              hintFamily.hint(a.StepName),
	}
	if len(fields) > 0 {
		out["modifiable_fields"] = fields
	}
	return out, nil
}

// ReplayFromStepTool re-runs the pipeline from a step, creating a new job.
// It is critical and capped per session.
type ReplayFromStepTool struct {
	backend    *Backend
	quota      Quota
	maxReplays int
}

// NewReplayFromStepTool creates the replay_from_step tool.
func NewReplayFromStepTool(b *Backend, quota Quota, maxReplays int) *ReplayFromStepTool {
	return &ReplayFromStepTool{backend: b, quota: quota, maxReplays: maxReplays}
}

// Definition describes replay_from_step.
func (t *ReplayFromStepTool) Definition() Definition {
	return Definition{
		Name: ReplayFromStep,
		Description: fmt.Sprintf("Re-runs the pipeline from a step with modified state. CREATES A NEW JOB: the video is reprocessed "+
			"from the target step through render. Use it when the change requires regenerating assets (text color, font, size, "+
			"backgrounds, shadows), adjusting silence cutting (detect_silence) or repositioning b-rolls (video_clipper). "+
			"Limit: %d replays per session. Replay costs more than modify_payload: prefer modify_payload for position, timing, "+
			"animation and zoom. ALWAYS inspect with get_step_payload before replaying.", t.maxReplays),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"job_id": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "ID of the original job (the one with saved checkpoints)",
				},
				"step_name": map[string]any{
					"type":      "string",
					"minLength": 1,
					"description": "Step to re-run from: 'detect_silence' (silence cutting), 'generate_pngs' (text color/font/size), " +
						"'add_shadows', 'calculate_positions', 'generate_backgrounds', 'motion_graphics', 'matting', " +
						"'video_clipper' (b-roll placement).",
				},
				"modifications": map[string]any{
					"type": "object",
					"description": "Dot-notation modifications. Colors are RGBA arrays [R,G,B,A]. Examples:\n" +
						`{"text_styles.default.font_config.font_color.value": [0, 0, 255, 255]}` + "\n" +
						`{"text_styles.default.font_config.font_size.value": 48}` + "\n" +
						`{"options.min_silence_duration": 0.3, "options.threshold_offset": 1} (more aggressive cutting)` + "\n" +
						`{} (video_clipper regenerates the EDL)`,
				},
			},
			"required":             []string{"job_id", "step_name"},
			"additionalProperties": false,
		},
		Critical: true,
		Timeout:  ReplayTimeout,
	}
}

type replayArgs struct {
	JobID         string                     `json:"job_id"`
	StepName      string                     `json:"step_name"`
	Modifications map[string]json.RawMessage `json:"modifications"`
}

type replayResponse struct {
	NewJobID             string   `json:"new_job_id"`
	StepsToRun           []string `json:"steps_to_run"`
	EstimatedTimeSeconds *float64 `json:"estimated_time_seconds"`
	ModificationsApplied int      `json:"modifications_applied"`
}

// Invoke counts the attempt against the session cap and starts the replay.
func (t *ReplayFromStepTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var a replayArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Modifications == nil {
		a.Modifications = map[string]json.RawMessage{}
	}
	count, limited, err := capped(ctx, t.quota, ReplayFromStep, t.maxReplays)
	if err != nil || limited != nil {
		return limited, err
	}

	resp, err := t.backend.Post(ctx,
		jobPath("/api/video/job/%s/replay-from/%s", a.JobID, a.StepName),
		map[string]any{"modifications": a.Modifications})
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusBadRequest {
		var body struct {
			Error string `json:"error"`
		}
		_ = resp.Decode(&body)
		if body.Error == "" {
			body.Error = "replay request rejected by validation"
		}
		return Result{KeyError: body.Error, "success": false, KeyStatus: resp.Status}, nil
	}
	if resp.Status != http.StatusOK && resp.Status != http.StatusAccepted {
		return resp.Failure("replay failed"), nil
	}

	var r replayResponse
	if err := resp.Decode(&r); err != nil {
		return nil, err
	}
	eta := 30.0
	if r.EstimatedTimeSeconds != nil {
		eta = *r.EstimatedTimeSeconds
	}
	steps := r.StepsToRun
	if steps == nil {
		steps = []string{}
	}
	newJob := r.NewJobID
	if newJob == "" {
		newJob = "N/A"
	}

	return Result{
		"success":                true,
		"new_job_id":             r.NewJobID,
		"original_job_id":        a.JobID,
		"replaying_from":         a.StepName,
		"steps_to_run":           steps,
		"estimated_time_seconds": eta,
		"modifications_applied":  r.ModificationsApplied,
		"replay_count":           count,
		"remaining_replays":      int64(t.maxReplays) - count,
		"message": fmt.Sprintf("Pipeline replay started from '%s'. New job: %s... Estimate: ~%.0fs.",
			a.StepName, shortID(newJob), eta),
	}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
