package rules

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
)

// Repository persists overbooking and stop-sell rules.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOverbookingRule(ctx context.Context, rule *models.OverbookingRule) error
	SaveOverbookingRule(ctx context.Context, rule *models.OverbookingRule) error
	FindOverbookingRule(ctx context.Context, id uuid.UUID) (*models.OverbookingRule, error)
	ActiveOverbookingRule(ctx context.Context, hotelID, roomTypeID uuid.UUID) (*models.OverbookingRule, error)
	CreateStopSellRule(ctx context.Context, rule *models.StopSellRule) error
	SaveStopSellRule(ctx context.Context, rule *models.StopSellRule) error
	FindStopSellRule(ctx context.Context, id uuid.UUID) (*models.StopSellRule, error)
	ListStopSellRules(ctx context.Context, hotelID uuid.UUID, activeOnly bool) ([]models.StopSellRule, error)
	ActiveStopSellRulesOverlapping(ctx context.Context, hotelID uuid.UUID, from, to time.Time) ([]models.StopSellRule, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a rules repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOverbookingRule(ctx context.Context, rule *models.OverbookingRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *repository) SaveOverbookingRule(ctx context.Context, rule *models.OverbookingRule) error {
	return r.db.WithContext(ctx).Save(rule).Error
}

func (r *repository) FindOverbookingRule(ctx context.Context, id uuid.UUID) (*models.OverbookingRule, error) {
	var rule models.OverbookingRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// ActiveOverbookingRule returns the newest active rule or nil when none exists.
func (r *repository) ActiveOverbookingRule(ctx context.Context, hotelID, roomTypeID uuid.UUID) (*models.OverbookingRule, error) {
	var rules []models.OverbookingRule
	err := r.db.WithContext(ctx).
		Where("hotel_id = ? AND room_type_id = ? AND active = ?", hotelID, roomTypeID, true).
		Order("created_at DESC").
		Limit(1).
		Find(&rules).Error
	if err != nil || len(rules) == 0 {
		return nil, err
	}
	return &rules[0], nil
}

func (r *repository) CreateStopSellRule(ctx context.Context, rule *models.StopSellRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *repository) SaveStopSellRule(ctx context.Context, rule *models.StopSellRule) error {
	return r.db.WithContext(ctx).Save(rule).Error
}

func (r *repository) FindStopSellRule(ctx context.Context, id uuid.UUID) (*models.StopSellRule, error) {
	var rule models.StopSellRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repository) ListStopSellRules(ctx context.Context, hotelID uuid.UUID, activeOnly bool) ([]models.StopSellRule, error) {
	var rules []models.StopSellRule
	q := r.db.WithContext(ctx).Where("hotel_id = ?", hotelID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	err := q.Order("priority DESC").Order("created_at ASC").Find(&rules).Error
	return rules, err
}

// ActiveStopSellRulesOverlapping returns active rules whose inclusive date
// range intersects [from, to].
func (r *repository) ActiveStopSellRulesOverlapping(ctx context.Context, hotelID uuid.UUID, from, to time.Time) ([]models.StopSellRule, error) {
	var rules []models.StopSellRule
	err := r.db.WithContext(ctx).
		Where("hotel_id = ? AND active = ? AND start_date <= ? AND end_date >= ?", hotelID, true, to, from).
		Order("priority DESC").Order("created_at ASC").
		Find(&rules).Error
	return rules, err
}
