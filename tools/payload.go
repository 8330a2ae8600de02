// Payload tools: edit and validate the saved video payload.

package tools

import (
	"context"
	"encoding/json"
)

// ModifyPayloadTool applies key-path modifications to a job's payload. The
// modification map is passed through to the backend unchanged.
type ModifyPayloadTool struct {
	backend *Backend
}

// NewModifyPayloadTool creates the modify_payload tool.
func NewModifyPayloadTool(b *Backend) *ModifyPayloadTool {
	return &ModifyPayloadTool{backend: b}
}

// Definition describes modify_payload.
func (t *ModifyPayloadTool) Definition() Definition {
	return Definition{
		Name: ModifyPayload,
		Description: "Applies modifications to the saved video payload. Takes a map of field paths to values, for example:\n" +
			`  {"tracks.subtitles[*].animation.entrance.type": "slide_up"} changes the animation of ALL subtitles` + "\n" +
			`  {"tracks.user_logo_layer": [{...}]} sets the content of the logo track` + "\n" +
			`  {"global.font_size": 78} changes the global font size` + "\n" +
			"The [*] operator applies to ALL items of a track.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"job_id": jobIDSchema,
				"modifications": map[string]any{
					"type":          "object",
					"minProperties": 1,
					"description":   "Map of paths to new values. Use tracks.<name>[*].<field> to apply to every item of a track.",
				},
			},
			"required":             []string{"job_id", "modifications"},
			"additionalProperties": false,
		},
	}
}

type modifyArgs struct {
	JobID         string                     `json:"job_id"`
	Modifications map[string]json.RawMessage `json:"modifications"`
}

// Invoke posts the modifications.
func (t *ModifyPayloadTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var a modifyArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	resp, err := t.backend.Post(ctx, "/api/video/payload/modify", map[string]any{
		"job_id":        a.JobID,
		"modifications": a.Modifications,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp.Failure("failed to modify payload"), nil
	}
	return resp.Object()
}

// ValidatePayloadTool checks payload integrity before a render.
type ValidatePayloadTool struct {
	backend *Backend
}

// NewValidatePayloadTool creates the validate_payload tool.
func NewValidatePayloadTool(b *Backend) *ValidatePayloadTool {
	return &ValidatePayloadTool{backend: b}
}

// Definition describes validate_payload.
func (t *ValidatePayloadTool) Definition() Definition {
	return Definition{
		Name: ValidatePayload,
		Description: "Validates the integrity of a job's video payload: required tracks, required fields, timings and asset references. " +
			"Returns {valid, warnings, errors}. ALWAYS use it before re-rendering.",
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"job_id": jobIDSchema},
			"required":             []string{"job_id"},
			"additionalProperties": false,
		},
		Idempotent: true,
	}
}

// Invoke posts the validation request.
func (t *ValidatePayloadTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var a jobArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	resp, err := t.backend.Post(ctx, "/api/video/payload/validate", map[string]any{"job_id": a.JobID})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp.Failure("failed to validate payload"), nil
	}
	return resp.Object()
}
