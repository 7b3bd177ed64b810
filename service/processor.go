package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TopicToVideo-server/logger"

	"github.com/hibiken/asynq"
)

// JobRunner executes the stage sequence for one job.
type JobRunner interface {
	Run(ctx context.Context, job JobPayload) error
}

// WorkerOptions sizes the worker pool.
type WorkerOptions struct {
	Concurrency     int
	Queue           string
	ShutdownTimeout time.Duration
}

// Processor is the worker pool: it pulls jobs with bounded concurrency and
// runs the pipeline for each. It never retries on its own; failures are
// archived by the queue and stalls are redelivered by it.
type Processor struct {
	server *asynq.Server
	runner JobRunner
	log    *logger.Logger
}

func NewProcessor(redis asynq.RedisClientOpt, opts WorkerOptions, runner JobRunner, log *logger.Logger) *Processor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	p := &Processor{runner: runner, log: log.With("component", "worker")}
	p.server = asynq.NewServer(redis, asynq.Config{
		Concurrency:     opts.Concurrency,
		Queues:          map[string]int{opts.Queue: 1},
		Logger:          log.Asynq(),
		ShutdownTimeout: opts.ShutdownTimeout,
		ErrorHandler:    asynq.ErrorHandlerFunc(p.reportFailure),
	})
	p.log.Info("worker pool configured", "concurrency", opts.Concurrency, "queue", opts.Queue)
	return p
}

// Mux routes task types to handlers.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGenerateVideo, p.HandleGenerateVideo)
	return mux
}

// Start begins consuming in the background.
func (p *Processor) Start() error {
	return p.server.Start(p.Mux())
}

// Shutdown waits for in-flight jobs up to the shutdown timeout.
func (p *Processor) Shutdown() {
	p.server.Shutdown()
}

// HandleGenerateVideo runs one job. Pipeline failures are returned with
// SkipRetry so the queue archives them for inspection; a job cut off by its
// lease deadline is returned plainly so the queue may redeliver it.
func (p *Processor) HandleGenerateVideo(ctx context.Context, t *asynq.Task) error {
	job, err := DecodeJobPayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	taskID, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	log := p.log.With("project_id", job.ProjectID, "task_id", taskID, "retried", retried)
	log.Info("job started")

	started := time.Now()
	err = p.runner.Run(ctx, job)
	if err == nil {
		log.Info("job completed", "elapsed", time.Since(started))
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		log.Warn("job exceeded its lease", "elapsed", time.Since(started), "error", err)
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

func (p *Processor) reportFailure(ctx context.Context, t *asynq.Task, err error) {
	taskID, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	p.log.Error("job failed",
		"task_id", taskID,
		"type", t.Type(),
		"retried", retried,
		"max_retry", maxRetry,
		"error", err,
	)
}
