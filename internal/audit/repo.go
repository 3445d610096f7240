package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
)

// Repository persists append-only audit rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.AuditLog) error
	ListByRecord(ctx context.Context, table, recordID string) ([]models.AuditLog, error)
	ListByTag(ctx context.Context, hotelID *uuid.UUID, tag string, limit int) ([]models.AuditLog, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]models.AuditLog, error)
	ListBefore(ctx context.Context, cutoff time.Time, offset, limit int) ([]models.AuditLog, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByRecord(ctx context.Context, table, recordID string) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("table_name = ? AND record_id = ?", table, recordID).
		Order("timestamp ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByTag(ctx context.Context, hotelID *uuid.UUID, tag string, limit int) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	q := r.db.WithContext(ctx).Where("tags LIKE ?", "%"+tagToken(tag)+"%")
	if hotelID != nil {
		q = q.Where("hotel_id = ?", *hotelID)
	}
	err := q.Order("timestamp DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) FindByCorrelationID(ctx context.Context, correlationID string) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("timestamp ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListBefore(ctx context.Context, cutoff time.Time, offset, limit int) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.AuditLog{})
	return res.RowsAffected, res.Error
}
