package reservations

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// Repository persists channel reservation → booking mappings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, m *models.ReservationMapping) error
	Find(ctx context.Context, channelID uuid.UUID, channelReservationID string) (*models.ReservationMapping, error)
	FindByBooking(ctx context.Context, bookingID uuid.UUID) (*models.ReservationMapping, error)
	Record(ctx context.Context, id uuid.UUID, status enums.ReservationMappingStatus, mods []models.MappingModification) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a mapping repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, m *models.ReservationMapping) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *repository) Find(ctx context.Context, channelID uuid.UUID, channelReservationID string) (*models.ReservationMapping, error) {
	var m models.ReservationMapping
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND channel_reservation_id = ?", channelID, channelReservationID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repository) FindByBooking(ctx context.Context, bookingID uuid.UUID) (*models.ReservationMapping, error) {
	var m models.ReservationMapping
	if err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repository) Record(ctx context.Context, id uuid.UUID, status enums.ReservationMappingStatus, mods []models.MappingModification) error {
	encoded, err := json.Marshal(mods)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.ReservationMapping{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "modifications": string(encoded)}).Error
}
