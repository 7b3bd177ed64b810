package service

import (
	"context"
	"errors"
	"fmt"

	"TopicToVideo-server/logger"
	"TopicToVideo-server/models"
)

// ProjectStore is the full project store contract used by the submission,
// retry and delete surfaces.
type ProjectStore interface {
	ProjectRepository
	Create(ctx context.Context, params models.CreateParams) (*models.Project, error)
	List(ctx context.Context) ([]models.Project, error)
	Delete(ctx context.Context, id string) error
}

// JobQueue is the producer side of the job queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job JobPayload) error
	Prepare(ctx context.Context, projectID string) error
	Discard(ctx context.Context, projectID string) error
}

// ArtifactStore is the part of object storage the delete surface needs.
type ArtifactStore interface {
	List(ctx context.Context, prefix string) ([]ObjectEntry, error)
	Remove(ctx context.Context, keys []string) error
}

// ProjectService creates, retries and deletes projects. The queue client is
// injected by the process root and shared with nothing else.
type ProjectService struct {
	store     ProjectStore
	queue     JobQueue
	artifacts ArtifactStore
	log       *logger.Logger
}

func NewProjectService(store ProjectStore, queue JobQueue, artifacts ArtifactStore, log *logger.Logger) *ProjectService {
	if log == nil {
		log = logger.Nop()
	}
	return &ProjectService{store: store, queue: queue, artifacts: artifacts, log: log.With("component", "projects")}
}

// Submit validates the request, creates a queued project and enqueues its job.
func (s *ProjectService) Submit(ctx context.Context, params models.CreateParams) (*models.Project, error) {
	params = params.WithDefaults()
	if !params.Format.Valid() {
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidInput, ErrUnsupportedFormat, params.Format)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	project, err := s.store.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, NewJobPayload(project)); err != nil {
		s.log.Error("enqueue failed after create", "project_id", project.ID, "error", err)
		if merr := s.store.MarkFailed(ctx, project.ID, Diagnostic(err)); merr != nil {
			s.log.Error("failed to mark project failed", "project_id", project.ID, "error", merr)
		}
		return nil, fmt.Errorf("enqueue project %s: %w", project.ID, err)
	}
	s.log.Info("project submitted", "project_id", project.ID, "topic", project.Topic, "format", project.Format)
	return project, nil
}

// Retry puts a failed project, or one stranded without a live job, back in
// the queue with its original inputs. Stage outputs are kept, so only
// missing stages and the render run again. Completed projects are refused.
func (s *ProjectService) Retry(ctx context.Context, id string) (*models.Project, error) {
	project, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.Status == models.StatusCompleted {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, id)
	}
	if err := s.queue.Prepare(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.ResetForRetry(ctx, id); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, NewJobPayload(project)); err != nil {
		return nil, fmt.Errorf("re-enqueue project %s: %w", id, err)
	}
	project.Status = models.StatusQueued
	project.ErrorMessage = ""
	s.log.Info("project retried", "project_id", id)
	return project, nil
}

// Delete removes queued work and stored artifacts best-effort, then the row.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	log := s.log.With("project_id", id)
	if err := s.queue.Discard(ctx, id); err != nil {
		log.Warn("could not discard queued job", "error", err)
	}
	if err := s.removeArtifacts(ctx, id); err != nil {
		log.Warn("artifact cleanup failed", "error", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	log.Info("project deleted")
	return nil
}

func (s *ProjectService) removeArtifacts(ctx context.Context, id string) error {
	if s.artifacts == nil {
		return nil
	}
	entries, err := s.artifacts.List(ctx, ArtifactPrefix(id))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return s.artifacts.Remove(ctx, keys)
}

func (s *ProjectService) Get(ctx context.Context, id string) (*models.Project, error) {
	return s.store.Get(ctx, id)
}

func (s *ProjectService) List(ctx context.Context) ([]models.Project, error) {
	return s.store.List(ctx)
}

// IsNotFound reports whether err means the project does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrProjectNotFound)
}
