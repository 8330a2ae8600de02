// Observation tools: read-only views of a job and its payload.

package tools

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

var jobIDSchema = map[string]any{
	"type":        "string",
	"minLength":   1,
	"description": "ID of the video processing job",
}

// ListTracksTool summarizes the payload tracks of a job.
type ListTracksTool struct {
	backend *Backend
}

// NewListTracksTool creates the list_tracks tool.
func NewListTracksTool(b *Backend) *ListTracksTool {
	return &ListTracksTool{backend: b}
}

// Definition describes list_tracks.
func (t *ListTracksTool) Definition() Definition {
	return Definition{
		Name: ListTracks,
		Description: "Returns a SUMMARY of the video payload tracks: name, item count, time range and one sample item per track. " +
			"Always use it first to understand the state of the video. It does not return the full payload.",
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"job_id": jobIDSchema},
			"required":             []string{"job_id"},
			"additionalProperties": false,
		},
		Idempotent: true,
	}
}

type jobArgs struct {
	JobID string `json:"job_id"`
}

// Invoke fetches the track summary.
func (t *ListTracksTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var a jobArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	resp, err := t.backend.Get(ctx, jobPath("/api/video/payload/tracks/%s", a.JobID), nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp.Failure("failed to list tracks"), nil
	}
	return resp.Object()
}

// GetTrackItemsTool pages through the items of one track.
type GetTrackItemsTool struct {
	backend *Backend
}

// NewGetTrackItemsTool creates the get_track_items tool.
func NewGetTrackItemsTool(b *Backend) *GetTrackItemsTool {
	return &GetTrackItemsTool{backend: b}
}

// Definition describes get_track_items.
func (t *GetTrackItemsTool) Definition() Definition {
	return Definition{
		Name: GetTrackItems,
		Description: "Returns the items of one payload track. Use it after list_tracks when you need details of a track. " +
			"Supports pagination with limit and offset.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"job_id": jobIDSchema,
				"track_name": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "Track name (e.g. subtitles, person_overlay, bg_full_screen)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     100,
					"default":     5,
					"description": "Maximum number of items to return (default 5)",
				},
				"offset": map[string]any{
					"type":        "integer",
					"minimum":     0,
					"default":     0,
					"description": "Skip the first N items (default 0)",
				},
			},
			"required":             []string{"job_id", "track_name"},
			"additionalProperties": false,
		},
		Idempotent: true,
	}
}

type trackItemsArgs struct {
	JobID     string `json:"job_id"`
	TrackName string `json:"track_name"`
	Limit     *int   `json:"limit"`
	Offset    *int   `json:"offset"`
}

// Invoke fetches one page of track items.
func (t *GetTrackItemsTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var a trackItemsArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	limit, offset := 5, 0
	if a.Limit != nil && *a.Limit > 0 {
		limit = *a.Limit
	}
	if a.Offset != nil && *a.Offset > 0 {
		offset = *a.Offset
	}
	q := url.Values{}
	q.Set("track_name", a.TrackName)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	resp, err := t.backend.Get(ctx, jobPath("/api/video/payload/tracks/%s", a.JobID), q)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp.Failure("failed to fetch track " + a.TrackName), nil
	}
	return resp.Object()
}

// GetJobStatusTool reports the processing status of a job.
type GetJobStatusTool struct {
	backend *Backend
}

// NewGetJobStatusTool creates the get_job_status tool.
func NewGetJobStatusTool(b *Backend) *GetJobStatusTool {
	return &GetJobStatusTool{backend: b}
}

// Definition describes get_job_status.
func (t *GetJobStatusTool) Definition() Definition {
	return Definition{
		Name:        GetJobStatus,
		Description: "Returns the current status of a video processing job: status, current step, template and final video URL.",
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"job_id": jobIDSchema},
			"required":             []string{"job_id"},
			"additionalProperties": false,
		},
		Idempotent: true,
	}
}

// jobStatusFields are the job fields surfaced to the model.
var jobStatusFields = []string{
	"job_id", "status", "project_id", "template_id", "current_step", "phase2_video_url", "created_at",
}

// Invoke fetches the job and projects the relevant fields.
func (t *GetJobStatusTool) Invoke(ctx context.Context, args json.RawMessage) (Result, error) {
	var a jobArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	resp, err := t.backend.Get(ctx, jobPath("/api/video/job/%s", a.JobID), nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp.Failure("failed to fetch job status"), nil
	}
	job, err := resp.Object()
	if err != nil {
		return nil, err
	}
	out := make(Result, len(jobStatusFields))
	for _, f := range jobStatusFields {
		out[f] = job[f]
	}
	return out, nil
}
