package channels

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// Repository persists channel connections.
type Repository interface {
	Create(ctx context.Context, c *models.Channel) error
	Find(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	ListByHotel(ctx context.Context, hotelID uuid.UUID) ([]models.Channel, error)
	ListConnected(ctx context.Context, hotelID uuid.UUID) ([]models.Channel, error)
	ListAllConnected(ctx context.Context) ([]models.Channel, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateLastSync(ctx context.Context, id uuid.UUID, last models.LastSync) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a channel repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, c *models.Channel) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	var c models.Channel
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) ListByHotel(ctx context.Context, hotelID uuid.UUID) ([]models.Channel, error) {
	var out []models.Channel
	err := r.db.WithContext(ctx).Where("hotel_id = ?", hotelID).Order("code ASC").Find(&out).Error
	return out, err
}

func (r *repository) ListConnected(ctx context.Context, hotelID uuid.UUID) ([]models.Channel, error) {
	var out []models.Channel
	err := r.db.WithContext(ctx).
		Where("hotel_id = ? AND connection_status = ?", hotelID, enums.ConnectionConnected).
		Order("code ASC").
		Find(&out).Error
	return out, err
}

func (r *repository) ListAllConnected(ctx context.Context) ([]models.Channel, error) {
	var out []models.Channel
	err := r.db.WithContext(ctx).
		Where("connection_status = ?", enums.ConnectionConnected).
		Order("hotel_id ASC, code ASC").
		Find(&out).Error
	return out, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.Channel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateLastSync writes the sync markers as one JSON document.
func (r *repository) UpdateLastSync(ctx context.Context, id uuid.UUID, last models.LastSync) error {
	raw, err := json.Marshal(last)
	if err != nil {
		return err
	}
	return r.Update(ctx, id, map[string]any{"last_sync": string(raw)})
}
