package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// SyncKey identifies the InventorySync rows covered by one push.
type SyncKey struct {
	HotelID    uuid.UUID
	ChannelID  uuid.UUID
	RoomTypeID uuid.UUID
	Span       types.DateRange
}

// AttemptResult reports the retry state after a failed push.
type AttemptResult struct {
	Attempts    int
	Status      enums.InventorySyncStatus
	NextRetryAt *time.Time
	DeadLetter  bool
}

// DueRetry is a (hotel, channel, room type) group whose backoff has elapsed.
type DueRetry struct {
	HotelID    uuid.UUID
	ChannelID  uuid.UUID
	RoomTypeID uuid.UUID
	From       time.Time
	To         time.Time
}

// Backoff computes retry delays as base·2^(attempt−1) capped at max.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// Delay returns the wait before the given attempt number is retried.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(b.Base) * math.Pow(2, float64(attempt-1)))
	if b.Cap > 0 && (d > b.Cap || d <= 0) {
		return b.Cap
	}
	return d
}

// SyncStatusStore keeps InventorySync rows and RateParityLog entries.
type SyncStatusStore struct {
	db      *gorm.DB
	backoff Backoff
}

// NewSyncStatusStore binds the store to a database handle.
func NewSyncStatusStore(db *gorm.DB, backoff Backoff) *SyncStatusStore {
	if backoff.MaxRetries <= 0 {
		backoff.MaxRetries = 6
	}
	return &SyncStatusStore{db: db, backoff: backoff}
}

// Backoff exposes the configured retry schedule.
func (s *SyncStatusStore) Backoff() Backoff {
	return s.backoff
}

// RecordSuccess upserts success rows for every date of the span.
func (s *SyncStatusStore) RecordSuccess(ctx context.Context, key SyncKey, payload any, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sync payload: %w", err)
	}
	at = at.UTC()
	rows := make([]models.InventorySync, 0, key.Span.Nights())
	for _, day := range key.Span.Days() {
		rows = append(rows, models.InventorySync{
			ID:            uuid.New(),
			HotelID:       key.HotelID,
			ChannelID:     key.ChannelID,
			RoomTypeID:    key.RoomTypeID,
			Date:          day,
			Payload:       raw,
			SyncStatus:    enums.InventorySyncSuccess,
			Attempts:      0,
			LastAttemptAt: &at,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "channel_id"}, {Name: "room_type_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"payload":         raw,
			"sync_status":     enums.InventorySyncSuccess,
			"attempts":        0,
			"last_attempt_at": at,
			"next_retry_at":   nil,
			"error_message":   nil,
			"updated_at":      at,
		}),
	}).Create(&rows).Error
}

// RecordFailure bumps the attempt counter of the span and schedules the next
// retry. Once attempts reach MaxRetries the rows are marked failed. payload is
// what the push tried to send; Parked compares against it.
func (s *SyncStatusStore) RecordFailure(ctx context.Context, key SyncKey, payload any, cause string, at time.Time) (AttemptResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return AttemptResult{}, fmt.Errorf("marshal sync payload: %w", err)
	}
	at = at.UTC()
	var result AttemptResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.InventorySync
		if err := tx.Where("channel_id = ? AND room_type_id = ? AND date >= ? AND date < ?",
			key.ChannelID, key.RoomTypeID, key.Span.From, key.Span.To).
			Find(&existing).Error; err != nil {
			return err
		}

		attempts := 0
		byDate := make(map[string]*models.InventorySync, len(existing))
		for i := range existing {
			row := &existing[i]
			byDate[types.FormatDay(row.Date)] = row
			if row.SyncStatus == enums.InventorySyncRetry && row.Attempts > attempts {
				attempts = row.Attempts
			}
		}
		attempts++

		result.Attempts = attempts
		result.Status = enums.InventorySyncRetry
		if attempts >= s.backoff.MaxRetries {
			result.Status = enums.InventorySyncFailed
			result.DeadLetter = true
		} else {
			next := at.Add(s.backoff.Delay(attempts))
			result.NextRetryAt = &next
		}

		msg := cause
		for _, day := range key.Span.Days() {
			row, ok := byDate[types.FormatDay(day)]
			if !ok {
				row = &models.InventorySync{
					HotelID:    key.HotelID,
					ChannelID:  key.ChannelID,
					RoomTypeID: key.RoomTypeID,
					Date:       day,
				}
			}
			row.Payload = raw
			row.SyncStatus = result.Status
			row.Attempts = attempts
			row.LastAttemptAt = &at
			row.NextRetryAt = result.NextRetryAt
			row.ErrorMessage = &msg
			if err := tx.Save(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return result, err
}

// DueRetries lists groups in retry state whose next attempt time has passed.
func (s *SyncStatusStore) DueRetries(ctx context.Context, now time.Time) ([]DueRetry, error) {
	var rows []models.InventorySync
	if err := s.db.WithContext(ctx).
		Where("sync_status = ? AND next_retry_at <= ?", enums.InventorySyncRetry, now.UTC()).
		Order("date ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	type groupKey struct{ hotel, channel, roomType uuid.UUID }
	index := map[groupKey]int{}
	var out []DueRetry
	for _, row := range rows {
		k := groupKey{row.HotelID, row.ChannelID, row.RoomTypeID}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, DueRetry{HotelID: row.HotelID, ChannelID: row.ChannelID, RoomTypeID: row.RoomTypeID, From: row.Date, To: row.Date})
			continue
		}
		if row.Date.Before(out[i].From) {
			out[i].From = row.Date
		}
		if row.Date.After(out[i].To) {
			out[i].To = row.Date
		}
	}
	return out, nil
}

// NotBefore returns the earliest time the channel may retry any date of the
// span, or nil when no retry is pending.
func (s *SyncStatusStore) NotBefore(ctx context.Context, channelID, roomTypeID uuid.UUID, span types.DateRange) (*time.Time, error) {
	var row models.InventorySync
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND room_type_id = ? AND date >= ? AND date < ? AND sync_status = ? AND next_retry_at IS NOT NULL",
			channelID, roomTypeID, span.From, span.To, enums.InventorySyncRetry).
		Order("next_retry_at DESC").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return row.NextRetryAt, nil
}

// Parked reports whether every date of the span dead-lettered while trying to
// send payload. Such a group waits for a ledger change or a high priority push
// instead of starting another retry cycle.
func (s *SyncStatusStore) Parked(ctx context.Context, key SyncKey, payload any) (bool, error) {
	nights := key.Span.Nights()
	if nights <= 0 {
		return false, nil
	}
	var rows []models.InventorySync
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND room_type_id = ? AND date >= ? AND date < ?",
			key.ChannelID, key.RoomTypeID, key.Span.From, key.Span.To).
		Find(&rows).Error
	if err != nil {
		return false, err
	}
	if len(rows) != nights {
		return false, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal sync payload: %w", err)
	}
	for _, row := range rows {
		if row.SyncStatus != enums.InventorySyncFailed || !sameJSON(row.Payload, raw) {
			return false, nil
		}
	}
	return true, nil
}

// sameJSON compares documents by value; jsonb does not keep the encoder's layout.
func sameJSON(a, b []byte) bool {
	var left, right any
	if json.Unmarshal(a, &left) != nil || json.Unmarshal(b, &right) != nil {
		return false
	}
	return reflect.DeepEqual(left, right)
}

// Get returns the InventorySync row for one date, or nil.
func (s *SyncStatusStore) Get(ctx context.Context, channelID, roomTypeID uuid.UUID, date time.Time) (*models.InventorySync, error) {
	var row models.InventorySync
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND room_type_id = ? AND date = ?", channelID, roomTypeID, types.Day(date)).
		Limit(1).
		Find(&row).Error
	if err != nil || row.ID == uuid.Nil {
		return nil, err
	}
	return &row, nil
}

// AppendParity stores one rate parity evaluation.
func (s *SyncStatusStore) AppendParity(ctx context.Context, entry *models.RateParityLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// ParityLogs returns parity evaluations for a room type over a span.
func (s *SyncStatusStore) ParityLogs(ctx context.Context, roomTypeID uuid.UUID, span types.DateRange) ([]models.RateParityLog, error) {
	var rows []models.RateParityLog
	err := s.db.WithContext(ctx).
		Where("room_type_id = ? AND date >= ? AND date < ?", roomTypeID, span.From, span.To).
		Order("checked_at ASC").
		Find(&rows).Error
	return rows, err
}
