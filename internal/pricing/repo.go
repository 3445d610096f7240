package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
)

// Repository persists strategies, forecasts, competitor samples and recommendations.
type Repository interface {
	ListHotelIDs(ctx context.Context) ([]uuid.UUID, error)
	ListRoomTypes(ctx context.Context, hotelID uuid.UUID) ([]models.RoomType, error)
	CreateStrategy(ctx context.Context, s *models.PricingStrategy) error
	SaveStrategy(ctx context.Context, s *models.PricingStrategy) error
	FindStrategy(ctx context.Context, id uuid.UUID) (*models.PricingStrategy, error)
	ListStrategies(ctx context.Context, hotelID uuid.UUID, activeOnly bool) ([]models.PricingStrategy, error)
	Forecasts(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time) ([]models.DemandForecast, error)
	UpsertForecast(ctx context.Context, f *models.DemandForecast) error
	CompetitorRates(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time) ([]models.CompetitorRate, error)
	CreateCompetitorRate(ctx context.Context, r *models.CompetitorRate) error
	CreateRecommendations(ctx context.Context, recs []models.PricingRecommendation) error
	ListRecommendations(ctx context.Context, hotelID uuid.UUID, roomTypeID *uuid.UUID, limit int) ([]models.PricingRecommendation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a pricing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListHotelIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Hotel{}).Order("created_at ASC").Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) ListRoomTypes(ctx context.Context, hotelID uuid.UUID) ([]models.RoomType, error) {
	var out []models.RoomType
	err := r.db.WithContext(ctx).Where("hotel_id = ?", hotelID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (r *repository) CreateStrategy(ctx context.Context, s *models.PricingStrategy) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *repository) SaveStrategy(ctx context.Context, s *models.PricingStrategy) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *repository) FindStrategy(ctx context.Context, id uuid.UUID) (*models.PricingStrategy, error) {
	var s models.PricingStrategy
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repository) ListStrategies(ctx context.Context, hotelID uuid.UUID, activeOnly bool) ([]models.PricingStrategy, error) {
	q := r.db.WithContext(ctx).Where("hotel_id = ?", hotelID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var out []models.PricingStrategy
	err := q.Order("priority DESC, created_at ASC").Find(&out).Error
	return out, err
}

func (r *repository) Forecasts(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time) ([]models.DemandForecast, error) {
	var out []models.DemandForecast
	err := r.db.WithContext(ctx).
		Where("hotel_id = ? AND room_type_id = ? AND date >= ? AND date < ?", hotelID, roomTypeID, from, to).
		Find(&out).Error
	return out, err
}

func (r *repository) UpsertForecast(ctx context.Context, f *models.DemandForecast) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hotel_id"}, {Name: "room_type_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"predicted_occupancy", "confidence", "source", "updated_at"}),
	}).Create(f).Error
}

func (r *repository) CompetitorRates(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time) ([]models.CompetitorRate, error) {
	var out []models.CompetitorRate
	err := r.db.WithContext(ctx).
		Where("hotel_id = ? AND room_type_id = ? AND date >= ? AND date < ?", hotelID, roomTypeID, from, to).
		Order("captured_at DESC").
		Find(&out).Error
	return out, err
}

func (r *repository) CreateCompetitorRate(ctx context.Context, rate *models.CompetitorRate) error {
	return r.db.WithContext(ctx).Create(rate).Error
}

func (r *repository) CreateRecommendations(ctx context.Context, recs []models.PricingRecommendation) error {
	if len(recs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(recs, 100).Error
}

func (r *repository) ListRecommendations(ctx context.Context, hotelID uuid.UUID, roomTypeID *uuid.UUID, limit int) ([]models.PricingRecommendation, error) {
	q := r.db.WithContext(ctx).Where("hotel_id = ?", hotelID)
	if roomTypeID != nil {
		q = q.Where("room_type_id = ?", *roomTypeID)
	}
	if limit <= 0 {
		limit = 100
	}
	var out []models.PricingRecommendation
	err := q.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
