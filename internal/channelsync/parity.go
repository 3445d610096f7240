package channelsync

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// VariancePct is (rate − base)/base as a percentage rounded to two places.
func VariancePct(rate, base decimal.Decimal) float64 {
	if base.IsZero() {
		return 0
	}
	v, _ := rate.Sub(base).Div(base).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return v
}

// EvaluateParity compares each parity-enabled channel's reported rate for one
// day against the ledger selling rate, or against the configured base
// channel's rate when that channel reported one.
func EvaluateParity(view inventory.RowView, chans []models.Channel, reported map[uuid.UUID]map[string]decimal.Decimal, defaultVariance float64, at time.Time) *models.RateParityLog {
	day := types.FormatDay(view.Date)
	rateOf := func(id uuid.UUID) (decimal.Decimal, bool) {
		if r, ok := reported[id][day]; ok {
			return r, true
		}
		if snap, ok := view.ChannelSnapshots[id.String()]; ok && snap.ReportedRate != nil {
			return *snap.ReportedRate, true
		}
		return decimal.Decimal{}, false
	}

	entry := &models.RateParityLog{
		ID:                uuid.New(),
		HotelID:           view.HotelID,
		RoomTypeID:        view.RoomTypeID,
		Date:              types.Day(view.Date),
		BaseRate:          view.SellingRate,
		OverallCompliance: true,
		CheckedAt:         at.UTC(),
	}
	for _, ch := range chans {
		if !ch.RateParity.Enabled {
			continue
		}
		rate, ok := rateOf(ch.ID)
		if !ok {
			continue
		}
		base := view.SellingRate
		if bc := ch.RateParity.BaseChannel; bc != nil && *bc != ch.ID {
			if r, ok := rateOf(*bc); ok {
				base = r
			}
		}
		allowed := ch.RateParity.VariancePct
		if allowed <= 0 {
			allowed = defaultVariance
		}
		variance := VariancePct(rate, base)
		entry.ChannelRates = append(entry.ChannelRates, models.ChannelRate{
			ChannelID:   ch.ID,
			Category:    string(ch.Category),
			Rate:        rate,
			VariancePct: variance,
		})
		if math.Abs(variance) > allowed {
			entry.OverallCompliance = false
			entry.Violations = append(entry.Violations, models.ParityViolation{
				ChannelID:   ch.ID,
				Rate:        rate,
				VariancePct: variance,
				AllowedPct:  allowed,
			})
		}
	}
	if len(entry.ChannelRates) == 0 {
		return nil
	}
	return entry
}

func (c *Coordinator) checkParity(ctx context.Context, views []inventory.RowView, chans []models.Channel, reported map[uuid.UUID]map[string]decimal.Decimal) {
	now := c.now()
	var breaches []*models.RateParityLog
	for _, v := range views {
		entry := EvaluateParity(v, chans, reported, c.settings.DefaultVariancePct, now)
		if entry == nil {
			continue
		}
		if err := c.status.AppendParity(ctx, entry); err != nil {
			c.warn(ctx, "append rate parity log", err)
			continue
		}
		if !entry.OverallCompliance {
			breaches = append(breaches, entry)
		}
	}
	if len(breaches) == 0 || c.tx == nil {
		return
	}

	err := c.tx.WithTx(ctx, func(tx *gorm.DB) error {
		for _, b := range breaches {
			hotelID := b.HotelID
			if c.audit != nil {
				if _, err := c.audit.Record(ctx, tx, audit.Entry{
					HotelID:    &hotelID,
					Table:      audit.TableAvailability,
					RecordID:   fmt.Sprintf("%s:%s", b.RoomTypeID, types.FormatDay(b.Date)),
					ChangeType: enums.AuditRateParity,
					NewValues:  b.Violations,
					Tags:       []string{audit.TagRateParity},
				}); err != nil {
					return err
				}
			}
			if c.outbox == nil {
				continue
			}
			event := payloads.RateParityViolationEvent{HotelID: b.HotelID, RoomTypeID: b.RoomTypeID, Date: b.Date, BaseRate: b.BaseRate}
			for _, v := range b.Violations {
				event.Breaches = append(event.Breaches, payloads.ParityBreach{ChannelID: v.ChannelID, Rate: v.Rate, VariancePct: v.VariancePct})
			}
			if _, err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventRateParityViolation,
				AggregateType: enums.AggregateAvailability,
				AggregateID:   b.ID,
				Actor:         &outbox.ActorRef{Source: string(enums.SourceSystem)},
				Data:          event,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.warn(ctx, "record rate parity breach", err)
	}
}
