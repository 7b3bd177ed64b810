package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"TopicToVideo-server/logger"
	"TopicToVideo-server/models"

	"golang.org/x/sync/errgroup"
)

// ProjectRepository is the part of the project store the worker needs.
type ProjectRepository interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	UpdateStatus(ctx context.Context, id string, status models.Status, videoURL string) error
	UpdatePartial(ctx context.Context, id string, out models.StageOutput) error
	MarkFailed(ctx context.Context, id string, diagnostic string) error
	ResetForRetry(ctx context.Context, id string) error
}

type ScriptGenerator interface {
	GenerateScript(ctx context.Context, topic, style, language string) (models.Script, error)
}

type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, text, projectID, language string) (string, error)
}

// ImageRequest is one scene's image generation call.
type ImageRequest struct {
	ProjectID   string
	Scene       models.Scene
	Style       string
	AspectRatio string
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
}

type DurationProbe interface {
	ProbeDuration(ctx context.Context, audioURL string) (float64, error)
}

// RenderRequest carries everything the renderer needs; dimensions come from
// the same format table the image stage uses.
type RenderRequest struct {
	ProjectID        string
	Script           models.Script
	AudioURL         string
	ImageURLs        []string
	Format           models.Format
	Width            int
	Height           int
	FPS              int
	DurationSeconds  float64
	DurationInFrames int
}

type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}

// Collaborators groups the external generation steps.
type Collaborators struct {
	Script ScriptGenerator
	Speech SpeechGenerator
	Images ImageGenerator
	Probe  DurationProbe
	Render Renderer
}

const (
	StageScript   = "script"
	StageAudio    = "audio"
	StageDuration = "duration"
	StageVisuals  = "visuals"
	StageRender   = "render"
)

// Pipeline walks the fixed stage sequence for one project, skipping every
// stage whose output is already persisted.
type Pipeline struct {
	repo   ProjectRepository
	collab Collaborators
	fps    int
	log    *logger.Logger
}

func NewPipeline(repo ProjectRepository, collab Collaborators, fps int, log *logger.Logger) *Pipeline {
	if fps < 1 {
		fps = 30
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{repo: repo, collab: collab, fps: fps, log: log}
}

// FramesFor converts seconds to a whole number of frames, rounding up.
func FramesFor(seconds float64, fps int) int {
	return int(math.Ceil(seconds * float64(fps)))
}

// GenerateImages fans out one request per scene and returns urls in scene
// order. Any single failure fails the whole batch.
func GenerateImages(ctx context.Context, gen ImageGenerator, scenes []models.Scene, style, projectID string, format models.Format) ([]string, error) {
	aspect := format.Spec().AspectRatio
	urls := make([]string, len(scenes))
	g, gctx := errgroup.WithContext(ctx)
	for i, scene := range scenes {
		g.Go(func() (err error) {
			// errgroup does not carry a goroutine's panic back to Wait
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("scene %d: %w", scene.ID, &StageError{Stage: StageVisuals, Err: fmt.Errorf("panic: %v", r), Stack: debug.Stack()})
				}
			}()
			u, err := gen.GenerateImage(gctx, ImageRequest{
				ProjectID:   projectID,
				Scene:       scene,
				Style:       style,
				AspectRatio: aspect,
			})
			if err != nil {
				return fmt.Errorf("scene %d: %w", scene.ID, err)
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// Run processes one job. A missing project (deleted mid-flight) and an
// already completed project are acknowledged without doing anything. Any
// stage failure is written to the project and returned.
func (p *Pipeline) Run(ctx context.Context, job JobPayload) (err error) {
	log := p.log.With("project_id", job.ProjectID)

	project, err := p.repo.Get(ctx, job.ProjectID)
	if errors.Is(err, models.ErrProjectNotFound) {
		log.Warn("project gone, dropping job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	switch project.Status {
	case models.StatusCompleted:
		log.Info("project already completed, nothing to do")
		return nil
	case models.StatusFailed:
		// redelivered by the queue after a failure was recorded
		log.Info("resuming failed project on redelivery")
		if err := p.repo.ResetForRetry(ctx, project.ID); err != nil {
			return fmt.Errorf("reset failed project: %w", err)
		}
		project.Status = models.StatusQueued
		project.ErrorMessage = ""
	}

	run := &pipelineRun{Pipeline: p, project: project, params: job, status: project.Status, log: log}
	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Stage: run.stage, Err: fmt.Errorf("panic: %v", r), Stack: debug.Stack()}
		}
		if err != nil {
			run.fail(err)
		}
	}()
	return run.walk(ctx)
}

type pipelineRun struct {
	*Pipeline
	project *models.Project
	params  JobPayload
	status  models.Status
	stage   string
	log     *logger.Logger
}

func (r *pipelineRun) walk(ctx context.Context) error {
	started := time.Now()
	r.log.Info("pipeline started",
		"topic", r.params.Topic,
		"style", r.params.Style,
		"language", r.params.Language,
		"format", r.params.Format,
		"status", r.status,
	)

	if err := r.scriptStage(ctx); err != nil {
		return err
	}
	if err := r.audioStage(ctx); err != nil {
		return err
	}
	seconds, err := r.durationStage(ctx)
	if err != nil {
		return err
	}
	if err := r.visualsStage(ctx); err != nil {
		return err
	}
	if err := r.renderStage(ctx, seconds); err != nil {
		return err
	}
	r.log.Info("pipeline completed", "video_url", r.project.VideoURL, "elapsed", time.Since(started))
	return nil
}

func (r *pipelineRun) scriptStage(ctx context.Context) error {
	r.stage = StageScript
	if models.HasScript(r.project) {
		r.log.Info("checkpoint hit, reusing script", "stage", StageScript, "scenes", len(r.project.Script.Scenes))
		return nil
	}
	if err := r.advance(ctx, models.StatusProcessingScript); err != nil {
		return err
	}
	script, err := r.collab.Script.GenerateScript(ctx, r.params.Topic, r.params.Style, r.params.Language)
	if err != nil {
		return newStageError(StageScript, err)
	}
	if err := r.repo.UpdatePartial(ctx, r.project.ID, models.ScriptOutput{Script: script}); err != nil {
		return newStageError(StageScript, err)
	}
	r.project.Script = script
	r.log.Info("script generated", "stage", StageScript, "scenes", len(script.Scenes))
	return nil
}

func (r *pipelineRun) audioStage(ctx context.Context) error {
	r.stage = StageAudio
	if models.HasAudio(r.project) {
		r.log.Info("checkpoint hit, reusing audio", "stage", StageAudio, "audio_url", r.project.AudioURL)
		return nil
	}
	if err := r.advance(ctx, models.StatusProcessingAudio); err != nil {
		return err
	}
	audioURL, err := r.collab.Speech.GenerateSpeech(ctx, r.project.Script.Narration(), r.project.ID, r.params.Language)
	if err != nil {
		return newStageError(StageAudio, err)
	}
	if err := r.repo.UpdatePartial(ctx, r.project.ID, models.AudioOutput{URL: audioURL}); err != nil {
		return newStageError(StageAudio, err)
	}
	r.project.AudioURL = audioURL
	r.log.Info("audio generated", "stage", StageAudio, "audio_url", audioURL)
	return nil
}

// durationStage always runs: the measured narration length drives the render.
func (r *pipelineRun) durationStage(ctx context.Context) (float64, error) {
	r.stage = StageDuration
	seconds, err := r.collab.Probe.ProbeDuration(ctx, r.project.AudioURL)
	if err != nil {
		return 0, newStageError(StageDuration, err)
	}
	r.log.Info("audio duration measured", "stage", StageDuration, "seconds", seconds)
	return seconds, nil
}

func (r *pipelineRun) visualsStage(ctx context.Context) error {
	r.stage = StageVisuals
	if models.HasImages(r.project) {
		r.log.Info("checkpoint hit, reusing images", "stage", StageVisuals, "images", len(r.project.ImageURLs))
		return nil
	}
	if err := r.advance(ctx, models.StatusProcessingVisuals); err != nil {
		return err
	}
	urls, err := GenerateImages(ctx, r.collab.Images, r.project.Script.Scenes, r.params.Style, r.project.ID, r.params.Format)
	var recovered *StageError
	if errors.As(err, &recovered) {
		return err
	}
	if err != nil {
		return newStageError(StageVisuals, err)
	}
	if err := r.repo.UpdatePartial(ctx, r.project.ID, models.ImagesOutput{URLs: urls}); err != nil {
		return newStageError(StageVisuals, err)
	}
	r.project.ImageURLs = urls
	r.log.Info("images generated", "stage", StageVisuals, "images", len(urls))
	return nil
}

// renderStage always runs, even on a resumed retry.
func (r *pipelineRun) renderStage(ctx context.Context, seconds float64) error {
	r.stage = StageRender
	if err := r.advance(ctx, models.StatusRendering); err != nil {
		return err
	}
	if seconds <= 0 {
		seconds = r.project.Script.EstimatedSeconds()
		r.log.Warn("no measured duration, using script estimate", "stage", StageRender, "seconds", seconds)
	}
	spec := r.params.Format.Spec()
	req := RenderRequest{
		ProjectID:        r.project.ID,
		Script:           r.project.Script,
		AudioURL:         r.project.AudioURL,
		ImageURLs:        append([]string(nil), r.project.ImageURLs...),
		Format:           r.params.Format,
		Width:            spec.Width,
		Height:           spec.Height,
		FPS:              r.fps,
		DurationSeconds:  seconds,
		DurationInFrames: FramesFor(seconds, r.fps),
	}
	r.log.Info("rendering", "stage", StageRender, "frames", req.DurationInFrames, "width", req.Width, "height", req.Height)
	videoURL, err := r.collab.Render.Render(ctx, req)
	if err != nil {
		return newStageError(StageRender, err)
	}
	if err := r.advanceWithVideo(ctx, models.StatusCompleted, videoURL); err != nil {
		return err
	}
	r.project.VideoURL = videoURL
	return nil
}

func (r *pipelineRun) advance(ctx context.Context, to models.Status) error {
	return r.advanceWithVideo(ctx, to, "")
}

// advanceWithVideo persists a forward status move. Re-entering the current
// status (a redelivered job resuming the stage it stalled in) is a no-op.
func (r *pipelineRun) advanceWithVideo(ctx context.Context, to models.Status, videoURL string) error {
	if r.status == to && videoURL == "" {
		return nil
	}
	if r.status != to && !models.CanTransition(r.status, to) {
		return newStageError(r.stage, fmt.Errorf("illegal status transition %s -> %s", r.status, to))
	}
	if err := r.repo.UpdateStatus(ctx, r.project.ID, to, videoURL); err != nil {
		return newStageError(r.stage, err)
	}
	r.log.Debug("status changed", "from", r.status, "to", to)
	r.status = to
	r.project.Status = to
	return nil
}

// fail records the diagnostic. It uses a fresh context so a cancelled job
// still leaves its failure on the project.
func (r *pipelineRun) fail(err error) {
	diag := Diagnostic(err)
	r.log.Error("pipeline failed", "stage", r.stage, "error", err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if merr := r.repo.MarkFailed(ctx, r.project.ID, diag); merr != nil {
		r.log.Error("failed to record failure", "error", merr)
		return
	}
	r.status = models.StatusFailed
	r.project.Status = models.StatusFailed
	r.project.ErrorMessage = diag
}
