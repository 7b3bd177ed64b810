package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"TopicToVideo-server/config"
	"TopicToVideo-server/logger"
	"TopicToVideo-server/models"

	"github.com/hibiken/asynq"
)

const (
	TypeGenerateVideo = "video:generate"
)

// JobPayload references a project plus a snapshot of its immutable inputs.
type JobPayload struct {
	ProjectID string        `json:"project_id"`
	Topic     string        `json:"topic"`
	Style     string        `json:"style"`
	Language  string        `json:"language"`
	Format    models.Format `json:"format"`
}

func NewJobPayload(p *models.Project) JobPayload {
	return JobPayload{
		ProjectID: p.ID,
		Topic:     p.Topic,
		Style:     p.Style,
		Language:  p.Language,
		Format:    p.Format,
	}
}

func (j JobPayload) Validate() error {
	if strings.TrimSpace(j.ProjectID) == "" {
		return errors.New("payload missing project_id")
	}
	if strings.TrimSpace(j.Topic) == "" {
		return errors.New("payload missing topic")
	}
	if !j.Format.Valid() {
		return fmt.Errorf("payload has unsupported format %q", j.Format)
	}
	return nil
}

// DecodeJobPayload parses and validates a task payload.
func DecodeJobPayload(data []byte) (JobPayload, error) {
	var j JobPayload
	if err := json.Unmarshal(data, &j); err != nil {
		return JobPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if j.Language == "" {
		j.Language = models.DefaultLanguage
	}
	if j.Format == "" {
		j.Format = models.DefaultFormat
	}
	if j.Style == "" {
		j.Style = models.DefaultStyle
	}
	if err := j.Validate(); err != nil {
		return JobPayload{}, err
	}
	return j, nil
}

// QueueOptions controls delivery bookkeeping for every enqueued job.
type QueueOptions struct {
	Queue            string
	Lease            time.Duration
	MaxRetry         int
	SuccessRetention time.Duration
}

func QueueOptionsFrom(cfg *config.Config) QueueOptions {
	return QueueOptions{
		Queue:            cfg.Worker.Queue,
		Lease:            cfg.Worker.Lease,
		MaxRetry:         cfg.Worker.MaxRetry,
		SuccessRetention: cfg.Worker.SuccessRetention,
	}
}

func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// Queue is the producer side of the job queue. The task id is the project
// id, so at most one job per project can be pending or running.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      QueueOptions
	log       *logger.Logger
}

func NewQueue(redis asynq.RedisClientOpt, opts QueueOptions, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.Nop()
	}
	return &Queue{
		client:    asynq.NewClient(redis),
		inspector: asynq.NewInspector(redis),
		opts:      opts,
		log:       log.With("component", "queue"),
	}
}

func (q *Queue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

func (q *Queue) taskOptions(projectID string) []asynq.Option {
	return []asynq.Option{
		asynq.TaskID(projectID),
		asynq.Queue(q.opts.Queue),
		asynq.MaxRetry(q.opts.MaxRetry),
		asynq.Timeout(q.opts.Lease),
		asynq.Retention(q.opts.SuccessRetention),
	}
}

// Enqueue hands a job to the queue.
func (q *Queue) Enqueue(ctx context.Context, job JobPayload) error {
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TypeGenerateVideo, payload, q.taskOptions(job.ProjectID)...)
	info, err := q.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("%w: %s", ErrJobInFlight, job.ProjectID)
	}
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	q.log.Info("job enqueued", "project_id", job.ProjectID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Prepare makes room for a new job. It refuses while a job for the project
// is still pending or running, and clears a finished or archived one so the
// task id can be reused.
func (q *Queue) Prepare(ctx context.Context, projectID string) error {
	info, err := q.inspector.GetTaskInfo(q.opts.Queue, projectID)
	if isTaskGone(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect task %s: %w", projectID, err)
	}
	switch info.State {
	case asynq.TaskStateCompleted, asynq.TaskStateArchived:
		if err := q.inspector.DeleteTask(q.opts.Queue, projectID); err != nil && !isTaskGone(err) {
			return fmt.Errorf("clear finished task %s: %w", projectID, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s is %s", ErrJobInFlight, projectID, info.State)
	}
}

// Discard removes whatever the queue still holds for a project. An active
// job is asked to cancel; its later writes land on a missing row and are
// dropped by the store.
func (q *Queue) Discard(ctx context.Context, projectID string) error {
	info, err := q.inspector.GetTaskInfo(q.opts.Queue, projectID)
	if isTaskGone(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect task %s: %w", projectID, err)
	}
	if info.State == asynq.TaskStateActive {
		if err := q.inspector.CancelProcessing(projectID); err != nil {
			return fmt.Errorf("cancel task %s: %w", projectID, err)
		}
		q.log.Info("active job cancelled", "project_id", projectID)
		return nil
	}
	if err := q.inspector.DeleteTask(q.opts.Queue, projectID); err != nil && !isTaskGone(err) {
		return fmt.Errorf("delete task %s: %w", projectID, err)
	}
	return nil
}

// Stats returns the queue counters.
func (q *Queue) Stats(ctx context.Context) (*asynq.QueueInfo, error) {
	info, err := q.inspector.GetQueueInfo(q.opts.Queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return &asynq.QueueInfo{Queue: q.opts.Queue}, nil
	}
	return info, err
}

// PurgeArchived deletes failed jobs whose last failure is older than cutoff.
func (q *Queue) PurgeArchived(ctx context.Context, cutoff time.Time) (int, error) {
	const pageSize = 100
	deleted := 0
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		tasks, err := q.inspector.ListArchivedTasks(q.opts.Queue, asynq.PageSize(pageSize), asynq.Page(page))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return deleted, nil
		}
		if err != nil {
			return deleted, fmt.Errorf("list archived: %w", err)
		}
		removedOnPage := 0
		for _, t := range tasks {
			if t.LastFailedAt.IsZero() || t.LastFailedAt.After(cutoff) {
				continue
			}
			if err := q.inspector.DeleteTask(q.opts.Queue, t.ID); err != nil && !isTaskGone(err) {
				return deleted, fmt.Errorf("delete archived %s: %w", t.ID, err)
			}
			deleted++
			removedOnPage++
		}
		if len(tasks) < pageSize {
			return deleted, nil
		}
		// deletions shift later entries onto this page
		if removedOnPage > 0 {
			page--
		}
	}
}

func isTaskGone(err error) bool {
	return errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound)
}
