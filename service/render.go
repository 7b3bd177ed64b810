package service

import (
	"context"
	"fmt"
	"time"

	"TopicToVideo-server/logger"
)

// RenderSettings are fixed encoder settings for every render.
// DispatchTimeout bounds only the submission to the render backend, which
// bundles and encodes remotely; the render job itself is bounded by the AI
// client's job timeout.
type RenderSettings struct {
	Composition     string
	DispatchTimeout time.Duration
	CRF             int
}

// WorkerRenderer hands the render definition to the AI worker's render
// backend, which overrides the composition's size and length, then stores
// the output as {project}/final_video.mp4.
type WorkerRenderer struct {
	AI       *AIClient
	Storage  ObjectStorage
	Settings RenderSettings
	Log      *logger.Logger
}

func (r *WorkerRenderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	if len(req.ImageURLs) == 0 {
		return "", fmt.Errorf("render %s: no images", req.ProjectID)
	}
	if req.DurationInFrames <= 0 {
		return "", fmt.Errorf("render %s: duration is %d frames", req.ProjectID, req.DurationInFrames)
	}
	params := map[string]interface{}{
		"composition":        r.Settings.Composition,
		"width":              req.Width,
		"height":             req.Height,
		"fps":                req.FPS,
		"duration_in_frames": req.DurationInFrames,
		"codec":              "h264",
		"crf":                r.Settings.CRF,
		"pixel_format":       "yuv420p",
		"input_props": map[string]interface{}{
			"audioUrl":  req.AudioURL,
			"imageUrls": req.ImageURLs,
			"captions":  []interface{}{},
		},
	}

	// a backend that never accepts the job becomes a reported failure
	dispatchCtx := ctx
	if r.Settings.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, r.Settings.DispatchTimeout)
		defer cancel()
	}
	jobID, err := r.AI.Dispatch(dispatchCtx, AIJobRender, req.ProjectID, params)
	if err != nil {
		return "", fmt.Errorf("render dispatch: %w", err)
	}
	if r.Log != nil {
		r.Log.Info("render submitted", "project_id", req.ProjectID, "job_id", jobID, "frames", req.DurationInFrames)
	}

	result, err := r.AI.Poll(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return r.AI.Transfer(ctx, r.Storage, result, ArtifactKey(req.ProjectID, "final_video.mp4"), "video/mp4")
}
