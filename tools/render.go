// Render tool: re-render a job's video from its current payload.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ReRenderTool sends the saved payload back to the video editor. It is
// critical and capped per session.
type ReRenderTool struct {
	backend    *Backend
	quota      Quota
	maxRenders int
}

// NewReRenderTool creates the re_render tool.
func NewReRenderTool(b *Backend, quota Quota, maxRenders int) *ReRenderTool {
	return &ReRenderTool{backend: b, quota: quota, maxRenders: maxRenders}
}

// Definition describes re_render.
func (t *ReRenderTool) Definition() Definition {
	return Definition{
		Name: ReRender,
		Description: fmt.Sprintf("Re-renders the video with the current (modified) payload. "+
			"The payload must have been changed with modify_payload first. Rendering takes about 20-30 seconds. "+
			"Limit: %d re-renders per session. IMPORTANT: always validate the payload before re-rendering.", t.maxRenders),
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"job_id": jobIDSchema},
			"required":             []string{"job_id"},
			"additionalProperties": false,
		},
		Critical: true,
		Timeout:  RenderTimeout,
	}
}

// Invoke counts the attempt against the session cap, fetches the render
// payload and submits it.
func (t *ReRenderTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var a jobArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	count, limited, err := capped(ctx, t.quota, ReRender, t.maxRenders)
	if err != nil || limited != nil {
		return limited, err
	}

	payloadResp, err := t.backend.Get(ctx, jobPath("/api/debug/render-payload/%s", a.JobID), nil)
	if err != nil {
		return nil, err
	}
	if !payloadResp.OK() {
		return payloadResp.Failure("failed to fetch payload for re-render"), nil
	}
	payload, err := payloadResp.Object()
	if err != nil {
		return nil, err
	}
	var body any = map[string]any(payload)
	if inner, ok := payload["payload"]; ok {
		body = inner
	}

	resp, err := t.backend.Post(ctx, "/api/debug/re-render", map[string]any{
		"job_id":  a.JobID,
		"editor":  "python",
		"payload": body,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp.Failure("re-render failed"), nil
	}

	return Result{
		"success":             true,
		"status":              "rendering",
		"message":             "Video submitted for re-rendering. Expect about 20-30 seconds.",
		"render_count":        count,
		"remaining_rerenders": int64(t.maxRenders) - count,
	}, nil
}
