package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
)

// Repository persists ledger rows and reads room type defaults.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindRoomType(ctx context.Context, id uuid.UUID) (*models.RoomType, error)
	ListRoomTypes(ctx context.Context, hotelID uuid.UUID) ([]models.RoomType, error)
	ListRows(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time) ([]models.AvailabilityRow, error)
	InsertMissingRows(ctx context.Context, rows []models.AvailabilityRow) error
	UpdateRowCAS(ctx context.Context, id uuid.UUID, version int, updates map[string]any) (bool, error)
	ListDirty(ctx context.Context) ([]models.AvailabilityRow, error)
	ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
	MarkDirtyRange(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindRoomType(ctx context.Context, id uuid.UUID) (*models.RoomType, error) {
	var rt models.RoomType
	if err := r.db.WithContext(ctx).First(&rt, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *repository) ListRoomTypes(ctx context.Context, hotelID uuid.UUID) ([]models.RoomType, error) {
	var out []models.RoomType
	err := r.db.WithContext(ctx).Where("hotel_id = ?", hotelID).Order("created_at ASC").Find(&out).Error
	return out, err
}

// ListRows returns rows in [from, to) ordered by date.
func (r *repository) ListRows(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time) ([]models.AvailabilityRow, error) {
	var rows []models.AvailabilityRow
	err := r.db.WithContext(ctx).
		Where("hotel_id = ? AND room_type_id = ? AND date >= ? AND date < ?", hotelID, roomTypeID, from, to).
		Order("date ASC").
		Find(&rows).Error
	return rows, err
}

// InsertMissingRows creates rows, leaving existing keys untouched.
func (r *repository) InsertMissingRows(ctx context.Context, rows []models.AvailabilityRow) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hotel_id"}, {Name: "room_type_id"}, {Name: "date"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

// UpdateRowCAS applies updates only when the stored version still matches.
func (r *repository) UpdateRowCAS(ctx context.Context, id uuid.UUID, version int, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AvailabilityRow{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListDirty(ctx context.Context) ([]models.AvailabilityRow, error) {
	var rows []models.AvailabilityRow
	err := r.db.WithContext(ctx).
		Where("dirty = ? AND archived = ?", true, false).
		Order("hotel_id, room_type_id, date").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AvailabilityRow{}).
		Where("date < ? AND archived = ?", cutoff, false).
		Updates(map[string]any{"archived": true})
	return res.RowsAffected, res.Error
}

// MarkDirtyRange flags existing rows dirty and bumps their versions.
func (r *repository) MarkDirtyRange(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AvailabilityRow{}).
		Where("hotel_id = ? AND room_type_id = ? AND date >= ? AND date < ? AND archived = ?", hotelID, roomTypeID, from, to, false).
		Updates(map[string]any{"dirty": true, "version": gorm.Expr("version + 1")})
	return res.RowsAffected, res.Error
}
