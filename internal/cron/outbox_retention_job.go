package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultPurgeBatch      = 1000
	defaultOutboxAttempts  = 10
)

// OutboxRetentionJobParams configure pruning of settled outbox rows and old
// dead letters.
type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPurger
	// DLQ is optional; without it dead letters are kept forever.
	DLQ          dlqPurger
	Retention    time.Duration
	DLQRetention time.Duration
	// MinAttempts marks an unpublished row as abandoned. It should match the
	// publisher's max attempts.
	MinAttempts int
	BatchSize   int
}

type outboxPurger interface {
	DeleteSettledBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount, limit int) (int64, error)
}

type dlqPurger interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		outbox:       params.Repository,
		dlq:          params.DLQ,
		retention:    orDefault(params.Retention, defaultOutboxRetention),
		dlqRetention: orDefault(params.DLQRetention, defaultDLQRetention),
		minAttempts:  params.MinAttempts,
		batch:        params.BatchSize,
		now:          time.Now,
	}
	if job.minAttempts <= 0 {
		job.minAttempts = defaultOutboxAttempts
	}
	if job.batch <= 0 {
		job.batch = defaultPurgeBatch
	}
	return job, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	outbox       outboxPurger
	dlq          dlqPurger
	retention    time.Duration
	dlqRetention time.Duration
	minAttempts  int
	batch        int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes in batches, one transaction each, so a large backlog never
// holds locks the publisher needs for long.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.Add(-j.retention)
	events, err := j.drain(ctx, func(tx *gorm.DB) (int64, error) {
		return j.outbox.DeleteSettledBefore(ctx, tx, outboxCutoff, j.minAttempts, j.batch)
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	var deadLetters int64
	dlqCutoff := now.Add(-j.dlqRetention)
	if j.dlq != nil {
		deadLetters, err = j.drain(ctx, func(tx *gorm.DB) (int64, error) {
			return j.dlq.DeleteFailedBefore(ctx, tx, dlqCutoff, j.batch)
		})
		if err != nil {
			return fmt.Errorf("dlq retention: %w", err)
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"outbox_cutoff":        outboxCutoff,
		"dlq_cutoff":           dlqCutoff,
		"min_attempts":         j.minAttempts,
		"events_deleted":       events,
		"dead_letters_deleted": deadLetters,
	}), "outbox retention cleanup complete")
	return nil
}

func (j *outboxRetentionJob) drain(ctx context.Context, purge func(tx *gorm.DB) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = purge(tx)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(j.batch) {
			return total, nil
		}
	}
}
