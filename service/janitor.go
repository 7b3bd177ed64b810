package service

import (
	"context"
	"time"

	"TopicToVideo-server/logger"
)

// ArchivePurger deletes failed jobs older than a cutoff.
type ArchivePurger interface {
	PurgeArchived(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor enforces the failed-job retention window. Successful jobs expire
// on their own through the queue's retention option.
type Janitor struct {
	purger    ArchivePurger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       *logger.Logger
}

func NewJanitor(purger ArchivePurger, retention, interval time.Duration, log *logger.Logger) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Janitor{purger: purger, retention: retention, interval: interval, now: time.Now, log: log.With("component", "janitor")}
}

// Sweep runs one purge pass.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	n, err := j.purger.PurgeArchived(ctx, j.now().Add(-j.retention))
	if err != nil {
		return n, err
	}
	if n > 0 {
		j.log.Info("purged failed jobs", "count", n, "retention", j.retention)
	}
	return n, nil
}

// Run sweeps on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.log.Warn("purge failed", "error", err)
			}
		}
	}
}
