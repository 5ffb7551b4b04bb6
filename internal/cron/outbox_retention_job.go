package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/metrics"
)

const (
	outboxRetentionJobName = "outbox-retention"
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	outboxMinAttempts      = 10
)

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	Metrics    *metrics.CronJobMetrics
	Retention  time.Duration

	// DeadLetters is optional; when set, outbox_dlq rows older than DLQRetention go too.
	DeadLetters  deadLetterPruner
	DLQRetention time.Duration

	// MinAttempts is the publisher's terminal attempt count. Unpublished rows below it are
	// still in flight and never pruned.
	MinAttempts int
}

// NewOutboxRetentionJob prunes delivered and abandoned outbox rows, then stale dead letters.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		outbox:       params.Repository,
		deadLetters:  params.DeadLetters,
		metrics:      params.Metrics,
		retention:    orDefault(params.Retention, defaultOutboxRetention),
		dlqRetention: orDefault(params.DLQRetention, defaultDLQRetention),
		minAttempts:  params.MinAttempts,
		now:          time.Now,
	}
	if job.minAttempts <= 0 {
		job.minAttempts = outboxMinAttempts
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
	outbox       outboxPruner
	deadLetters  deadLetterPruner
	metrics      *metrics.CronJobMetrics
	retention    time.Duration
	dlqRetention time.Duration
	minAttempts  int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return outboxRetentionJobName }

// Run prunes each table in its own transaction; a failure on one does not block the other.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.Add(-j.retention)

	var errs error
	outboxRows, err := j.prune(ctx, func(tx *gorm.DB) (int64, error) {
		return j.outbox.DeletePublishedBefore(ctx, tx, outboxCutoff, j.minAttempts)
	})
	errs = multierr.Append(errs, wrapPrune("outbox_events", err))
	j.metrics.AddProcessed(j.Name(), "deleted", int(outboxRows))

	fields := map[string]any{
		"outbox_cutoff": outboxCutoff,
		"min_attempts":  j.minAttempts,
		"outbox_pruned": outboxRows,
	}
	if j.deadLetters != nil {
		dlqCutoff := now.Add(-j.dlqRetention)
		dlqRows, err := j.prune(ctx, func(tx *gorm.DB) (int64, error) {
			return j.deadLetters.DeleteFailedBefore(ctx, tx, dlqCutoff)
		})
		errs = multierr.Append(errs, wrapPrune("outbox_dlq", err))
		j.metrics.AddProcessed(j.Name(), "dlq_deleted", int(dlqRows))
		fields["dlq_cutoff"] = dlqCutoff
		fields["dlq_pruned"] = dlqRows
	}

	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention cleanup complete")
	return errs
}

func (j *outboxRetentionJob) prune(ctx context.Context, del func(tx *gorm.DB) (int64, error)) (int64, error) {
	var rows int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := del(tx)
		rows = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func wrapPrune(table string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("prune %s: %w", table, err)
}
