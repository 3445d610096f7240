package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
)

// Repository persists bookings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, b *models.Booking) error
	Find(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindByChannelBookingID(ctx context.Context, source, channelBookingID string) (*models.Booking, error)
	SaveCAS(ctx context.Context, b *models.Booking, expectedVersion int) (bool, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	ListDueCheckout(ctx context.Context, today time.Time, limit int) ([]models.Booking, error)
	ListNoShowCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
	ListNeedsSync(ctx context.Context, limit int) ([]models.Booking, error)
	ListByHotel(ctx context.Context, hotelID uuid.UUID, status *enums.BookingStatus, limit int) ([]models.Booking, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a booking repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, b *models.Booking) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repository) FindByChannelBookingID(ctx context.Context, source, channelBookingID string) (*models.Booking, error) {
	var b models.Booking
	err := r.db.WithContext(ctx).
		Where("source = ? AND channel_booking_id = ?", source, channelBookingID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveCAS writes every column of b when the stored version equals
// expectedVersion. b.Version must already hold the next version.
func (r *repository) SaveCAS(ctx context.Context, b *models.Booking, expectedVersion int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ? AND version = ?", b.ID, expectedVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(b)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListExpiredHolds returns pending bookings whose hold lapsed before now.
func (r *repository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	var out []models.Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND reserved_until IS NOT NULL AND reserved_until < ?", enums.BookingStatusPending, now).
		Order("reserved_until ASC").
		Limit(limitOr(limit)).
		Find(&out).Error
	return out, err
}

// ListDueCheckout returns checked-in bookings whose checkout date is on or before today.
func (r *repository) ListDueCheckout(ctx context.Context, today time.Time, limit int) ([]models.Booking, error) {
	var out []models.Booking
	err := r.db.WithContext(ctx).
		Where("status = ? AND check_out <= ?", enums.BookingStatusCheckedIn, today).
		Order("check_out ASC").
		Limit(limitOr(limit)).
		Find(&out).Error
	return out, err
}

// ListNoShowCandidates returns confirmed or modified bookings that were due to
// arrive at or before cutoff.
func (r *repository) ListNoShowCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	var out []models.Booking
	err := r.db.WithContext(ctx).
		Where("status IN ? AND check_in <= ? AND actual_check_in IS NULL",
			[]enums.BookingStatus{enums.BookingStatusConfirmed, enums.BookingStatusModified}, cutoff).
		Order("check_in ASC").
		Limit(limitOr(limit)).
		Find(&out).Error
	return out, err
}

func (r *repository) ListNeedsSync(ctx context.Context, limit int) ([]models.Booking, error) {
	var out []models.Booking
	err := r.db.WithContext(ctx).
		Where("needs_sync = ?", true).
		Order("updated_at ASC").
		Limit(limitOr(limit)).
		Find(&out).Error
	return out, err
}

func (r *repository) ListByHotel(ctx context.Context, hotelID uuid.UUID, status *enums.BookingStatus, limit int) ([]models.Booking, error) {
	q := r.db.WithContext(ctx).Where("hotel_id = ?", hotelID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var out []models.Booking
	err := q.Order("check_in ASC").Limit(limitOr(limit)).Find(&out).Error
	return out, err
}

func limitOr(limit int) int {
	if limit <= 0 || limit > 500 {
		return 500
	}
	return limit
}
