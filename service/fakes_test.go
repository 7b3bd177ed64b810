package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"TopicToVideo-server/models"
)

type fakeRepo struct {
	mu          sync.Mutex
	projects    map[string]*models.Project
	transitions []models.Status
	illegal     []string
	failures    int
}

func newFakeRepo(projects ...*models.Project) *fakeRepo {
	r := &fakeRepo{projects: map[string]*models.Project{}}
	for _, p := range projects {
		cp := *p
		r.projects[p.ID] = &cp
	}
	return r
}

func (r *fakeRepo) snapshot(id string) models.Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.projects[id]
}

func (r *fakeRepo) Create(_ context.Context, params models.CreateParams) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &models.Project{
		ID:       fmt.Sprintf("p-%d", len(r.projects)+1),
		Topic:    params.Topic,
		Style:    params.Style,
		Language: params.Language,
		Format:   params.Format,
		Status:   models.StatusQueued,
	}
	r.projects[p.ID] = p
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context) ([]models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id string, status models.Status, videoURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil
	}
	if p.Status != status && !models.CanTransition(p.Status, status) {
		r.illegal = append(r.illegal, fmt.Sprintf("%s -> %s", p.Status, status))
	}
	r.transitions = append(r.transitions, status)
	p.Status = status
	if videoURL != "" {
		p.VideoURL = videoURL
	}
	return nil
}

func (r *fakeRepo) UpdatePartial(_ context.Context, id string, out models.StageOutput) error {
	if err := out.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil
	}
	switch o := out.(type) {
	case models.ScriptOutput:
		p.Script = o.Script
	case models.AudioOutput:
		p.AudioURL = o.URL
	case models.ImagesOutput:
		p.ImageURLs = append(models.StringList(nil), o.URLs...)
	case models.VideoOutput:
		p.VideoURL = o.URL
	}
	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, id string, diagnostic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil
	}
	r.failures++
	r.transitions = append(r.transitions, models.StatusFailed)
	p.Status = models.StatusFailed
	p.ErrorMessage = diagnostic
	return nil
}

func (r *fakeRepo) ResetForRetry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}
	r.transitions = append(r.transitions, models.StatusQueued)
	p.Status = models.StatusQueued
	p.ErrorMessage = ""
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}
	delete(r.projects, id)
	return nil
}

type fakeScript struct {
	calls  atomic.Int32
	script models.Script
	err    error
}

func (f *fakeScript) GenerateScript(context.Context, string, string, string) (models.Script, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.Script{}, f.err
	}
	return f.script, nil
}

type fakeSpeech struct {
	calls    atomic.Int32
	lastText string
	url      string
	err      error
}

func (f *fakeSpeech) GenerateSpeech(_ context.Context, text, projectID, _ string) (string, error) {
	f.calls.Add(1)
	f.lastText = text
	if f.err != nil {
		return "", f.err
	}
	if f.url != "" {
		return f.url, nil
	}
	return "https://cdn.test/" + projectID + "/audio.mp3", nil
}

// fakeImages answers out of order: later scenes finish first.
type fakeImages struct {
	calls   atomic.Int32
	failOn  int
	panicOn int
	delay   func(sceneID int) time.Duration
	mu      sync.Mutex
	aspects []string
}

func (f *fakeImages) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.aspects = append(f.aspects, req.AspectRatio)
	f.mu.Unlock()
	if f.delay != nil {
		select {
		case <-time.After(f.delay(req.Scene.ID)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.panicOn != 0 && req.Scene.ID == f.panicOn {
		panic("image provider crashed")
	}
	if f.failOn != 0 && req.Scene.ID == f.failOn {
		return "", errors.New("image provider refused prompt")
	}
	return fmt.Sprintf("https://cdn.test/%s/scene_%d.jpg", req.ProjectID, req.Scene.ID), nil
}

type fakeProbe struct {
	calls   atomic.Int32
	seconds float64
	err     error
}

func (f *fakeProbe) ProbeDuration(context.Context, string) (float64, error) {
	f.calls.Add(1)
	return f.seconds, f.err
}

type fakeRenderer struct {
	calls atomic.Int32
	last  RenderRequest
	err   error
	panic bool
}

func (f *fakeRenderer) Render(_ context.Context, req RenderRequest) (string, error) {
	f.calls.Add(1)
	f.last = req
	if f.panic {
		panic("renderer crashed")
	}
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.test/" + req.ProjectID + "/final_video.mp4", nil
}

type fakeQueue struct {
	enqueued   []JobPayload
	prepared   []string
	discarded  []string
	enqueueErr error
	prepareErr error
	discardErr error
}

func (q *fakeQueue) Enqueue(_ context.Context, job JobPayload) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *fakeQueue) Prepare(_ context.Context, projectID string) error {
	q.prepared = append(q.prepared, projectID)
	return q.prepareErr
}

func (q *fakeQueue) Discard(_ context.Context, projectID string) error {
	q.discarded = append(q.discarded, projectID)
	return q.discardErr
}

type fakeArtifacts struct {
	objects map[string][]byte
	removed []string
	listErr error
}

func (a *fakeArtifacts) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func (a *fakeArtifacts) PutReader(ctx context.Context, key string, r io.Reader, _ int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return a.Put(ctx, key, data, contentType)
}

func (a *fakeArtifacts) List(_ context.Context, prefix string) ([]ObjectEntry, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	var out []ObjectEntry
	for k, v := range a.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectEntry{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (a *fakeArtifacts) Remove(_ context.Context, keys []string) error {
	for _, k := range keys {
		delete(a.objects, k)
		a.removed = append(a.removed, k)
	}
	return nil
}

func threeSceneScript() models.Script {
	return models.Script{
		Title: "The mystery of X",
		Scenes: []models.Scene{
			{ID: 1, Text: "Hook.", VisualPrompt: "a foggy lighthouse", DurationEstimate: 5},
			{ID: 2, Text: "Build.", VisualPrompt: "a map on a table", DurationEstimate: 6},
			{ID: 3, Text: "Twist.", VisualPrompt: "a hidden door", DurationEstimate: 4},
		},
	}
}

func queuedProject(id string) *models.Project {
	return &models.Project{
		ID:       id,
		Topic:    "The mystery of X",
		Style:    "cinematic",
		Language: "en",
		Format:   models.FormatVertical,
		Status:   models.StatusQueued,
	}
}
