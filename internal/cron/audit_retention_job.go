package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

const auditRetention = 365 * 24 * time.Hour

type auditPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditArchiver interface {
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditRetentionJobParams configure audit log pruning.
type AuditRetentionJobParams struct {
	Logger    *logger.Logger
	Audit     auditPurger
	Retention time.Duration
	// Archive, when set, must succeed before any row is purged.
	Archive auditArchiver
}

// NewAuditRetentionJob deletes audit rows older than the retention window.
func NewAuditRetentionJob(params AuditRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit service required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = auditRetention
	}
	return &auditRetentionJob{
		logg:      params.Logger,
		audit:     params.Audit,
		archive:   params.Archive,
		retention: retention,
		now:       time.Now,
	}, nil
}

type auditRetentionJob struct {
	logg      *logger.Logger
	audit     auditPurger
	archive   auditArchiver
	retention time.Duration
	now       func() time.Time
}

func (j *auditRetentionJob) Name() string { return "audit-retention" }

func (j *auditRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	archived := 0
	if j.archive != nil {
		n, err := j.archive.ArchiveBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("audit archive: %w", err)
		}
		archived = n
	}
	deleted, err := j.audit.PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("audit retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":        cutoff,
		"rows_archived": archived,
		"rows_deleted":  deleted,
	}), "audit retention cleanup complete")
	return nil
}
