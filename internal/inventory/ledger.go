package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/internal/rules"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
	"github.com/angelmondragon/channelcore-backend/pkg/validation"
)

const (
	// HorizonDays bounds lazy row creation ahead of today.
	HorizonDays = 730

	maxCASAttempts = 3
)

// Reasons attached to OVERSOLD errors.
const (
	ReasonCapacity          = "capacity"
	ReasonStopSell          = "stop_sell"
	ReasonClosedToArrival   = "closed_to_arrival"
	ReasonClosedToDeparture = "closed_to_departure"
	ReasonMinLOS            = "min_los"
	ReasonMaxLOS            = "max_los"
)

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Ledger is the availability ledger: the source of truth for rooms, rates and
// restrictions per (hotel, room type, date).
type Ledger struct {
	repo   Repository
	tx     TxRunner
	rules  RuleEvaluator
	audit  audit.Service
	outbox *outbox.Service
	logg   *logger.Logger
	now    func() time.Time

	mu       sync.RWMutex
	notifier DirtyNotifier
}

// NewLedger wires the ledger. auditSvc and outboxSvc may be nil in tests.
func NewLedger(repo Repository, tx TxRunner, evaluator RuleEvaluator, auditSvc audit.Service, outboxSvc *outbox.Service, logg *logger.Logger) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("rule evaluator required")
	}
	return &Ledger{
		repo:   repo,
		tx:     tx,
		rules:  evaluator,
		audit:  auditSvc,
		outbox: outboxSvc,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// SetNotifier registers the sync queue that receives committed changes.
func (l *Ledger) SetNotifier(n DirtyNotifier) {
	l.mu.Lock()
	l.notifier = n
	l.mu.Unlock()
}

// Publish forwards committed changes to the notifier.
func (l *Ledger) Publish(changes ...Change) {
	l.mu.RLock()
	n := l.notifier
	l.mu.RUnlock()
	if n == nil {
		return
	}
	for _, c := range changes {
		if c.HotelID == uuid.Nil {
			continue
		}
		priority := c.Priority
		if priority == "" {
			priority = enums.SyncPriorityNormal
		}
		n.NotifyDirty(c.HotelID, c.RoomTypeID, c.Span.From, c.Span.To, priority)
	}
}

// Plan validates a reservation, creates missing rows and resolves rule state.
// It must run outside the write transaction.
func (l *Ledger) Plan(ctx context.Context, in ReserveInput) (*ReservePlan, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	span, err := types.NewDateRange(in.CheckIn, in.CheckOut)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "checkOut must be after checkIn")
	}
	in.Channel = normalizeChannel(in.Channel)
	if err := l.EnsureRows(ctx, in.HotelID, in.RoomTypeID, span); err != nil {
		return nil, err
	}

	withDeparture := types.DateRange{From: span.From, To: types.AddDays(span.To, 1)}
	evaluated, err := l.rules.Evaluate(ctx, in.HotelID, in.RoomTypeID, withDeparture, in.Channel)
	if err != nil {
		return nil, err
	}
	plan := &ReservePlan{Input: in, Span: span, Rules: evaluated}
	if dep, ok := evaluated[types.FormatDay(span.To)]; ok {
		plan.Departure = &dep
	}
	return plan, nil
}

// ApplyReserve performs one reservation attempt inside tx. A CONFLICT error
// means a row changed concurrently and the caller should retry.
func (l *Ledger) ApplyReserve(ctx context.Context, tx *gorm.DB, plan *ReservePlan) (Change, error) {
	in := plan.Input
	span := plan.Span
	repo := l.repo.WithTx(tx)

	rows, err := repo.ListRows(ctx, in.HotelID, in.RoomTypeID, span.From, types.AddDays(span.To, 1))
	if err != nil {
		return Change{}, err
	}
	byDay := indexRows(rows)

	for _, day := range span.Days() {
		key := types.FormatDay(day)
		row, ok := byDay[key]
		if !ok {
			return Change{}, pkgerrors.New(pkgerrors.CodeInternal, "ledger row missing for "+key)
		}
		dr := plan.Rules[key]
		restr := row.Restrictions.Merge(dr.Restrictions)
		if restr.StopSell {
			return Change{}, oversold(in, key, ReasonStopSell, row.Available(0))
		}
		if (!in.Extension || in.NewArrival) && day.Equal(span.From) {
			if restr.ClosedToArrival {
				return Change{}, oversold(in, key, ReasonClosedToArrival, row.Available(0))
			}
			nights := span.Nights()
			if in.StayNights > 0 {
				nights = in.StayNights
			}
			if restr.MinLOS != nil && nights < *restr.MinLOS {
				return Change{}, oversold(in, key, ReasonMinLOS, row.Available(0))
			}
			if restr.MaxLOS != nil && nights > *restr.MaxLOS {
				return Change{}, oversold(in, key, ReasonMaxLOS, row.Available(0))
			}
		}
		allowance := 0
		if in.AllowOverbooking {
			allowance = dr.Allowance(row.TotalRooms)
		}
		if row.SoldRooms+in.Rooms+row.BlockedRooms > row.TotalRooms+allowance {
			return Change{}, oversold(in, key, ReasonCapacity, row.Available(allowance))
		}
	}

	if !in.Extension {
		departure := types.Restrictions{}
		if row, ok := byDay[types.FormatDay(span.To)]; ok {
			departure = row.Restrictions
		}
		if plan.Departure != nil {
			departure = departure.Merge(plan.Departure.Restrictions)
		}
		if departure.ClosedToDeparture {
			return Change{}, oversold(in, types.FormatDay(span.To), ReasonClosedToDeparture, 0)
		}
	}

	for _, day := range span.Days() {
		row := byDay[types.FormatDay(day)]
		ok, err := repo.UpdateRowCAS(ctx, row.ID, row.Version, map[string]any{
			"sold_rooms": row.SoldRooms + in.Rooms,
			"dirty":      true,
			"version":    row.Version + 1,
		})
		if err != nil {
			return Change{}, err
		}
		if !ok {
			return Change{}, errConflict()
		}
	}

	l.recordTx(ctx, tx, audit.Entry{
		HotelID:    &in.HotelID,
		Table:      audit.TableAvailability,
		RecordID:   spanRecordID(in.RoomTypeID, span),
		ChangeType: enums.AuditUpdate,
		Source:     sourceOr(in.Source, in.Channel),
		NewValues:  map[string]any{"op": "reserve", "rooms": in.Rooms, "bookingId": in.BookingID, "channel": in.Channel, "allowOverbooking": in.AllowOverbooking},
	})
	return Change{HotelID: in.HotelID, RoomTypeID: in.RoomTypeID, Span: span, Priority: enums.SyncPriorityNormal}, nil
}

// Reserve atomically allocates rooms on every date of the stay or on none.
func (l *Ledger) Reserve(ctx context.Context, in ReserveInput) error {
	plan, err := l.Plan(ctx, in)
	if err != nil {
		return err
	}
	var change Change
	err = l.retryCAS(ctx, func() error {
		return l.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var applyErr error
			change, applyErr = l.ApplyReserve(ctx, tx, plan)
			return applyErr
		})
	})
	if err != nil {
		return l.surface(ctx, in.HotelID, spanRecordID(in.RoomTypeID, plan.Span), err)
	}
	l.Publish(change)
	return nil
}

// ReleaseTx returns rooms inside tx; counts never drop below zero.
func (l *Ledger) ReleaseTx(ctx context.Context, tx *gorm.DB, in ReleaseInput) (Change, error) {
	if err := validation.Struct(in); err != nil {
		return Change{}, err
	}
	span, err := types.NewDateRange(in.From, in.To)
	if err != nil {
		return Change{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "release range is empty")
	}
	repo := l.repo.WithTx(tx)
	rows, err := repo.ListRows(ctx, in.HotelID, in.RoomTypeID, span.From, span.To)
	if err != nil {
		return Change{}, err
	}
	for _, row := range rows {
		sold := row.SoldRooms - in.Rooms
		if sold < 0 {
			sold = 0
		}
		ok, err := repo.UpdateRowCAS(ctx, row.ID, row.Version, map[string]any{
			"sold_rooms": sold,
			"dirty":      true,
			"version":    row.Version + 1,
		})
		if err != nil {
			return Change{}, err
		}
		if !ok {
			return Change{}, errConflict()
		}
	}
	l.recordTx(ctx, tx, audit.Entry{
		HotelID:    &in.HotelID,
		Table:      audit.TableAvailability,
		RecordID:   spanRecordID(in.RoomTypeID, span),
		ChangeType: enums.AuditUpdate,
		Source:     sourceOr(in.Source, string(enums.SourceSystem)),
		NewValues:  map[string]any{"op": "release", "rooms": in.Rooms, "bookingId": in.BookingID},
	})
	priority := in.Priority
	if priority == "" {
		priority = enums.SyncPriorityNormal
	}
	return Change{HotelID: in.HotelID, RoomTypeID: in.RoomTypeID, Span: span, Priority: priority}, nil
}

// Release returns rooms previously reserved over the span.
func (l *Ledger) Release(ctx context.Context, in ReleaseInput) error {
	var change Change
	err := l.retryCAS(ctx, func() error {
		return l.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var applyErr error
			change, applyErr = l.ReleaseTx(ctx, tx, in)
			return applyErr
		})
	})
	if err != nil {
		return l.surface(ctx, in.HotelID, spanRecordID(in.RoomTypeID, types.DateRange{From: in.From, To: in.To}), err)
	}
	l.Publish(change)
	return nil
}

// AdjustInventory resizes total or blocked rooms. A resize that would leave
// sold + blocked above total + allowance is refused.
func (l *Ledger) AdjustInventory(ctx context.Context, in AdjustInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if in.TotalRooms == nil && in.BlockedRooms == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "totalRooms or blockedRooms is required")
	}
	span, err := types.NewDateRange(in.From, in.To)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "adjust range is empty")
	}
	if err := l.EnsureRows(ctx, in.HotelID, in.RoomTypeID, span); err != nil {
		return err
	}
	maxPct, err := l.rules.MaxAllowancePercents(ctx, in.HotelID, in.RoomTypeID, span)
	if err != nil {
		return err
	}

	err = l.retryCAS(ctx, func() error {
		return l.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := l.repo.WithTx(tx)
			rows, err := repo.ListRows(ctx, in.HotelID, in.RoomTypeID, span.From, span.To)
			if err != nil {
				return err
			}
			for _, row := range rows {
				total, blocked := row.TotalRooms, row.BlockedRooms
				if in.TotalRooms != nil {
					total = *in.TotalRooms
				}
				if in.BlockedRooms != nil {
					blocked = *in.BlockedRooms
				}
				key := types.FormatDay(row.Date)
				allowance := rules.AllowanceRooms(total, maxPct[key])
				if row.SoldRooms+blocked > total+allowance {
					return pkgerrors.New(pkgerrors.CodeIntegrityViolation, "adjustment would leave sold rooms above capacity").
						WithDetails(map[string]any{"date": key, "sold": row.SoldRooms, "blocked": blocked, "total": total, "allowance": allowance})
				}
				ok, err := repo.UpdateRowCAS(ctx, row.ID, row.Version, map[string]any{
					"total_rooms":   total,
					"blocked_rooms": blocked,
					"dirty":         true,
					"version":       row.Version + 1,
				})
				if err != nil {
					return err
				}
				if !ok {
					return errConflict()
				}
			}
			l.recordTx(ctx, tx, audit.Entry{
				HotelID:    &in.HotelID,
				Table:      audit.TableAvailability,
				RecordID:   spanRecordID(in.RoomTypeID, span),
				ChangeType: enums.AuditUpdate,
				Source:     sourceOr(in.Source, string(enums.SourceAdmin)),
				NewValues:  map[string]any{"op": "adjust", "totalRooms": in.TotalRooms, "blockedRooms": in.BlockedRooms},
			})
			return nil
		})
	})
	if err != nil {
		return l.surface(ctx, in.HotelID, spanRecordID(in.RoomTypeID, span), err)
	}
	l.Publish(Change{HotelID: in.HotelID, RoomTypeID: in.RoomTypeID, Span: span})
	return nil
}

// SetRate writes a clamped selling rate and marks the row dirty.
func (l *Ledger) SetRate(ctx context.Context, in SetRateInput) (*models.AvailabilityRow, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if !in.Rate.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rate must be positive")
	}
	rt, err := l.roomType(ctx, in.HotelID, in.RoomTypeID)
	if err != nil {
		return nil, err
	}
	day := types.Day(in.Date)
	span := types.DateRange{From: day, To: types.AddDays(day, 1)}
	if err := l.EnsureRows(ctx, in.HotelID, in.RoomTypeID, span); err != nil {
		return nil, err
	}
	rate := ClampRate(in.Rate, rt, nil, nil)

	var updated models.AvailabilityRow
	err = l.retryCAS(ctx, func() error {
		return l.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := l.repo.WithTx(tx)
			rows, err := repo.ListRows(ctx, in.HotelID, in.RoomTypeID, span.From, span.To)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return pkgerrors.New(pkgerrors.CodeInternal, "ledger row missing for "+types.FormatDay(day))
			}
			row := rows[0]
			now := l.now().UTC()
			ok, err := repo.UpdateRowCAS(ctx, row.ID, row.Version, map[string]any{
				"selling_rate":      rate,
				"last_price_update": now,
				"dirty":             true,
				"version":           row.Version + 1,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errConflict()
			}
			l.recordTx(ctx, tx, audit.Entry{
				HotelID:    &in.HotelID,
				Table:      audit.TableAvailability,
				RecordID:   row.ID.String(),
				ChangeType: enums.AuditPriceChange,
				Source:     sourceOr(in.Source, string(enums.SourceAdmin)),
				OldValues:  map[string]any{"sellingRate": row.SellingRate},
				NewValues:  map[string]any{"sellingRate": rate, "requested": in.Rate, "reason": in.Reason},
				Tags:       []string{audit.TagPriceChange},
			})
			updated = row
			updated.SellingRate = rate
			updated.LastPriceUpdate = &now
			updated.Dirty = true
			updated.Version = row.Version + 1
			return nil
		})
	})
	if err != nil {
		return nil, l.surface(ctx, in.HotelID, spanRecordID(in.RoomTypeID, span), err)
	}
	l.Publish(Change{HotelID: in.HotelID, RoomTypeID: in.RoomTypeID, Span: span})
	return &updated, nil
}

// SetRestrictions writes manual restrictions onto every row of the range.
func (l *Ledger) SetRestrictions(ctx context.Context, in SetRestrictionsInput) error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if err := in.Restrictions.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	span, err := types.NewDateRange(in.From, in.To)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "restriction range is empty")
	}
	if err := l.EnsureRows(ctx, in.HotelID, in.RoomTypeID, span); err != nil {
		return err
	}
	err = l.retryCAS(ctx, func() error {
		return l.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := l.repo.WithTx(tx)
			rows, err := repo.ListRows(ctx, in.HotelID, in.RoomTypeID, span.From, span.To)
			if err != nil {
				return err
			}
			for _, row := range rows {
				ok, err := repo.UpdateRowCAS(ctx, row.ID, row.Version, map[string]any{
					"restrictions": in.Restrictions,
					"dirty":        true,
					"version":      row.Version + 1,
				})
				if err != nil {
					return err
				}
				if !ok {
					return errConflict()
				}
			}
			l.recordTx(ctx, tx, audit.Entry{
				HotelID:    &in.HotelID,
				Table:      audit.TableAvailability,
				RecordID:   spanRecordID(in.RoomTypeID, span),
				ChangeType: enums.AuditUpdate,
				Source:     sourceOr(in.Source, string(enums.SourceAdmin)),
				NewValues:  map[string]any{"op": "restrictions", "restrictions": in.Restrictions},
			})
			return nil
		})
	})
	if err != nil {
		return l.surface(ctx, in.HotelID, spanRecordID(in.RoomTypeID, span), err)
	}
	l.Publish(Change{HotelID: in.HotelID, RoomTypeID: in.RoomTypeID, Span: span})
	return nil
}

// Query returns the rows of [from, to), creating missing ones. Rows whose
// counts breach capacity are still returned alongside an INTEGRITY_VIOLATION
// error after a reconciliation request is queued.
func (l *Ledger) Query(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time) ([]models.AvailabilityRow, error) {
	span, err := types.NewDateRange(from, to)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "query range is empty")
	}
	if err := l.EnsureRows(ctx, hotelID, roomTypeID, span); err != nil {
		return nil, err
	}
	rows, err := l.repo.ListRows(ctx, hotelID, roomTypeID, span.From, span.To)
	if err != nil {
		return nil, err
	}
	maxPct, err := l.rules.MaxAllowancePercents(ctx, hotelID, roomTypeID, span)
	if err != nil {
		return nil, err
	}

	var breaches []breach
	for _, row := range rows {
		allowance := rules.AllowanceRooms(row.TotalRooms, maxPct[types.FormatDay(row.Date)])
		if row.SoldRooms < 0 || row.BlockedRooms < 0 || row.SoldRooms+row.BlockedRooms > row.TotalRooms+allowance {
			breaches = append(breaches, breach{row: row, allowance: allowance})
		}
	}
	if len(breaches) == 0 {
		return rows, nil
	}
	return rows, l.reconcile(ctx, breaches)
}

// Availability returns rows with the allowance and sellable count a channel sees.
func (l *Ledger) Availability(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time, channel string) ([]RowView, error) {
	rows, err := l.Query(ctx, hotelID, roomTypeID, from, to)
	if err != nil && !pkgerrors.Is(err, pkgerrors.CodeIntegrityViolation) {
		return nil, err
	}
	span, spanErr := types.NewDateRange(from, to)
	if spanErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, spanErr, "query range is empty")
	}
	evaluated, evalErr := l.rules.Evaluate(ctx, hotelID, roomTypeID, span, normalizeChannel(channel))
	if evalErr != nil {
		return nil, evalErr
	}
	views := make([]RowView, 0, len(rows))
	for _, row := range rows {
		dr := evaluated[types.FormatDay(row.Date)]
		allowance := dr.Allowance(row.TotalRooms)
		row.Restrictions = row.Restrictions.Merge(dr.Restrictions)
		available := row.Available(allowance)
		if row.Restrictions.StopSell {
			available = 0
		}
		views = append(views, RowView{AvailabilityRow: row, Allowance: allowance, Available: available})
	}
	return views, err
}

// EnsureRows lazily creates rows for the span from the room type defaults.
func (l *Ledger) EnsureRows(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange) error {
	limit := types.AddDays(l.now(), HorizonDays)
	if span.Last().After(limit) {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "dates beyond the %d day horizon are not managed", HorizonDays)
	}
	existing, err := l.repo.ListRows(ctx, hotelID, roomTypeID, span.From, span.To)
	if err != nil {
		return err
	}
	if len(existing) == span.Nights() {
		return nil
	}
	rt, err := l.roomType(ctx, hotelID, roomTypeID)
	if err != nil {
		return err
	}
	have := indexRows(existing)
	var missing []models.AvailabilityRow
	for _, day := range span.Days() {
		if _, ok := have[types.FormatDay(day)]; ok {
			continue
		}
		missing = append(missing, models.AvailabilityRow{
			ID:               uuid.New(),
			HotelID:          hotelID,
			RoomTypeID:       roomTypeID,
			Date:             day,
			TotalRooms:       rt.DefaultTotalRooms,
			BaseRate:         rt.BasePrice,
			SellingRate:      rt.BasePrice,
			Currency:         currencyOr(rt.Currency),
			ChannelSnapshots: map[string]models.ChannelSnapshot{},
			Version:          1,
		})
	}
	return l.repo.InsertMissingRows(ctx, missing)
}

// ListDirty groups dirty rows into contiguous-enough spans per (hotel, room type).
// Each group's To is exclusive.
func (l *Ledger) ListDirty(ctx context.Context) ([]DirtyGroup, error) {
	rows, err := l.repo.ListDirty(ctx)
	if err != nil {
		return nil, err
	}
	type key struct{ hotel, roomType uuid.UUID }
	index := map[key]int{}
	var out []DirtyGroup
	for _, row := range rows {
		k := key{row.HotelID, row.RoomTypeID}
		day := types.Day(row.Date)
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, DirtyGroup{HotelID: row.HotelID, RoomTypeID: row.RoomTypeID, From: day, To: types.AddDays(day, 1)})
			continue
		}
		if day.Before(out[i].From) {
			out[i].From = day
		}
		if end := types.AddDays(day, 1); end.After(out[i].To) {
			out[i].To = end
		}
	}
	return out, nil
}

// Rows reads rows without creating or checking them.
func (l *Ledger) Rows(ctx context.Context, hotelID, roomTypeID uuid.UUID, span types.DateRange) ([]models.AvailabilityRow, error) {
	return l.repo.ListRows(ctx, hotelID, roomTypeID, span.From, span.To)
}

// MarkSynced stamps per-channel snapshots for the channels that accepted a
// push. dirty is cleared only when every channel succeeded and the row has not
// changed since it was rendered.
func (l *Ledger) MarkSynced(ctx context.Context, in MarkSyncedInput) error {
	at := in.At
	if at.IsZero() {
		at = l.now()
	}
	at = at.UTC()
	return l.retryCAS(ctx, func() error {
		return l.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := l.repo.WithTx(tx)
			rows, err := repo.ListRows(ctx, in.HotelID, in.RoomTypeID, in.Span.From, in.Span.To)
			if err != nil {
				return err
			}
			for _, row := range rows {
				key := types.FormatDay(row.Date)
				snapshots := make(map[string]models.ChannelSnapshot, len(row.ChannelSnapshots)+len(in.Succeeded))
				for k, v := range row.ChannelSnapshots {
					snapshots[k] = v
				}
				for _, ch := range in.Succeeded {
					snap := models.ChannelSnapshot{SyncedAt: at, RecordCount: ch.RecordCount}
					if prev, ok := snapshots[ch.ChannelID.String()]; ok {
						snap.ReportedRate = prev.ReportedRate
					}
					if rate, ok := ch.ReportedRates[key]; ok {
						r := rate
						snap.ReportedRate = &r
					}
					snapshots[ch.ChannelID.String()] = snap
				}
				encoded, err := json.Marshal(snapshots)
				if err != nil {
					return err
				}
				updates := map[string]any{"channel_snapshots": string(encoded)}
				if len(in.Succeeded) > 0 {
					updates["last_synced_at"] = at
				}
				if v, ok := in.Versions[key]; in.AllSucceeded && ok && v == row.Version {
					updates["dirty"] = false
				}
				ok, err := repo.UpdateRowCAS(ctx, row.ID, row.Version, updates)
				if err != nil {
					return err
				}
				if !ok {
					return errConflict()
				}
			}
			return nil
		})
	})
}

// ArchiveBefore flags rows older than cutoff as archived; rows are never deleted.
func (l *Ledger) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return l.repo.ArchiveBefore(ctx, types.Day(cutoff))
}

// ScanIntegrity re-reads every room type of a hotel over [from, to). Rows in
// breach are reported through the usual reconciliation path; the return
// value counts the room types that had at least one.
func (l *Ledger) ScanIntegrity(ctx context.Context, hotelID uuid.UUID, from, to time.Time) (int, error) {
	roomTypes, err := l.repo.ListRoomTypes(ctx, hotelID)
	if err != nil {
		return 0, err
	}
	violations := 0
	for _, rt := range roomTypes {
		_, err := l.Query(ctx, hotelID, rt.ID, from, to)
		switch {
		case err == nil:
		case pkgerrors.Is(err, pkgerrors.CodeIntegrityViolation):
			violations++
		default:
			return violations, err
		}
	}
	return violations, nil
}

// RulesChanged marks rows affected by a rule edit dirty so the new
// restrictions reach the channels.
func (l *Ledger) RulesChanged(ctx context.Context, hotelID uuid.UUID, roomTypeIDs []uuid.UUID, from, to time.Time) error {
	if len(roomTypeIDs) == 0 {
		roomTypes, err := l.repo.ListRoomTypes(ctx, hotelID)
		if err != nil {
			return err
		}
		for _, rt := range roomTypes {
			roomTypeIDs = append(roomTypeIDs, rt.ID)
		}
	}
	span, err := types.NewDateRange(from, to)
	if err != nil {
		return nil
	}
	var changes []Change
	for _, roomTypeID := range roomTypeIDs {
		n, err := l.repo.MarkDirtyRange(ctx, hotelID, roomTypeID, span.From, span.To)
		if err != nil {
			return err
		}
		if n > 0 {
			changes = append(changes, Change{HotelID: hotelID, RoomTypeID: roomTypeID, Span: span})
		}
	}
	l.Publish(changes...)
	return nil
}

// RequestSync marks the span dirty and emits a sync request so a coordinator
// running in another process pushes it at high priority. It returns how many
// room types were flagged.
func (l *Ledger) RequestSync(ctx context.Context, in RequestSyncInput) (int, error) {
	if err := validation.Struct(in); err != nil {
		return 0, err
	}
	span, err := types.NewDateRange(in.From, in.To)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "sync range is empty")
	}
	var roomTypeIDs []uuid.UUID
	if in.RoomTypeID != nil {
		rt, err := l.roomType(ctx, in.HotelID, *in.RoomTypeID)
		if err != nil {
			return 0, err
		}
		roomTypeIDs = []uuid.UUID{rt.ID}
	} else {
		roomTypes, err := l.repo.ListRoomTypes(ctx, in.HotelID)
		if err != nil {
			return 0, err
		}
		for _, rt := range roomTypes {
			roomTypeIDs = append(roomTypeIDs, rt.ID)
		}
	}
	if len(roomTypeIDs) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "hotel has no room types")
	}
	for _, id := range roomTypeIDs {
		if err := l.EnsureRows(ctx, in.HotelID, id, span); err != nil {
			return 0, err
		}
	}

	requestedBy := sourceOr(in.RequestedBy, string(enums.SourceAdmin))
	changes := make([]Change, 0, len(roomTypeIDs))
	err = l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)
		for _, id := range roomTypeIDs {
			if _, err := repo.MarkDirtyRange(ctx, in.HotelID, id, span.From, span.To); err != nil {
				return err
			}
			l.recordTx(ctx, tx, audit.Entry{
				HotelID:    &in.HotelID,
				Table:      audit.TableAvailability,
				RecordID:   spanRecordID(id, span),
				ChangeType: enums.AuditUpdate,
				Source:     requestedBy,
				NewValues:  map[string]any{"op": "sync_requested"},
			})
			if l.outbox != nil {
				if _, err := l.outbox.Emit(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventSyncRequested,
					AggregateType: enums.AggregateAvailability,
					AggregateID:   id,
					Actor:         &outbox.ActorRef{Source: requestedBy},
					Data: payloads.SyncRequestedEvent{
						HotelID:     in.HotelID,
						RoomTypeID:  id,
						From:        span.From,
						To:          span.To,
						RequestedBy: requestedBy,
					},
				}); err != nil {
					return err
				}
			}
			changes = append(changes, Change{HotelID: in.HotelID, RoomTypeID: id, Span: span, Priority: enums.SyncPriorityHigh})
		}
		return nil
	})
	if err != nil {
		return 0, l.surface(ctx, in.HotelID, in.HotelID.String(), err)
	}
	l.Publish(changes...)
	return len(changes), nil
}

// RoomTypes lists the room types of a hotel.
func (l *Ledger) RoomTypes(ctx context.Context, hotelID uuid.UUID) ([]models.RoomType, error) {
	return l.repo.ListRoomTypes(ctx, hotelID)
}

// RoomType loads one room type, checking it belongs to the hotel.
func (l *Ledger) RoomType(ctx context.Context, hotelID, roomTypeID uuid.UUID) (*models.RoomType, error) {
	return l.roomType(ctx, hotelID, roomTypeID)
}

// IsCapacityShortfall reports whether err is an OVERSOLD caused by capacity
// rather than a restriction, so retrying with the allowance can help.
func IsCapacityShortfall(err error) bool {
	return OversoldReason(err) == ReasonCapacity
}

// OversoldReason returns the reason detail of an OVERSOLD error.
func OversoldReason(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeOversold {
		return ""
	}
	if details, ok := typed.Details().(map[string]any); ok {
		if reason, ok := details["reason"].(string); ok {
			return reason
		}
	}
	return ""
}

type breach struct {
	row       models.AvailabilityRow
	allowance int
}

func (l *Ledger) reconcile(ctx context.Context, breaches []breach) error {
	correlationID := uuid.NewString()
	first := breaches[0].row
	if l.logg != nil {
		logCtx := l.logg.WithFields(ctx, map[string]any{
			"hotel_id":       first.HotelID.String(),
			"room_type_id":   first.RoomTypeID.String(),
			"breaches":       len(breaches),
			"correlation_id": correlationID,
		})
		l.logg.Error(logCtx, "ledger integrity violation", fmt.Errorf("sold+blocked exceeds total+allowance on %s", types.FormatDay(first.Date)))
	}

	err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		for _, b := range breaches {
			hotelID := b.row.HotelID
			if l.audit != nil {
				if _, err := l.audit.Record(ctx, tx, audit.Entry{
					HotelID:       &hotelID,
					Table:         audit.TableAvailability,
					RecordID:      b.row.ID.String(),
					ChangeType:    enums.AuditReconciliation,
					Source:        string(enums.SourceSystem),
					NewValues:     map[string]any{"total": b.row.TotalRooms, "sold": b.row.SoldRooms, "blocked": b.row.BlockedRooms, "allowance": b.allowance},
					Tags:          []string{audit.TagReconciliation},
					CorrelationID: correlationID,
				}); err != nil {
					return err
				}
			}
			if l.outbox != nil {
				if _, err := l.outbox.EmitPending(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventReconciliationRequired,
					AggregateType: enums.AggregateAvailability,
					AggregateID:   b.row.ID,
					CorrelationID: correlationID,
					Data: payloads.ReconciliationRequiredEvent{
						HotelID:       hotelID,
						RoomTypeID:    b.row.RoomTypeID,
						Date:          b.row.Date,
						TotalRooms:    b.row.TotalRooms,
						SoldRooms:     b.row.SoldRooms,
						BlockedRooms:  b.row.BlockedRooms,
						Allowance:     b.allowance,
						CorrelationID: correlationID,
					},
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	violation := pkgerrors.New(pkgerrors.CodeIntegrityViolation, "ledger rows exceed capacity").
		WithDetails(map[string]any{"dates": breachDates(breaches), "correlation_id": correlationID})
	if err != nil {
		return fmt.Errorf("%w (reconciliation enqueue failed: %v)", violation, err)
	}
	return violation
}

// retryCAS reruns fn on CONFLICT up to maxCASAttempts with jittered waits.
func (l *Ledger) retryCAS(ctx context.Context, fn func() error) error {
	return RetryOnConflict(ctx, maxCASAttempts, fn)
}

// RetryOnConflict reruns fn while it returns CONFLICT, at most attempts times.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !pkgerrors.Is(err, pkgerrors.CodeConflict) {
			return err
		}
		if attempt == attempts {
			break
		}
		wait := time.Duration(5+rand.Intn(20*attempt)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

// surface records terminal failures in the audit log and stamps the correlation id.
func (l *Ledger) surface(ctx context.Context, hotelID uuid.UUID, recordID string, err error) error {
	if l.audit == nil || !isTerminal(err) {
		return err
	}
	tags := []string{}
	changeType := enums.AuditUpdate
	if pkgerrors.Is(err, pkgerrors.CodeOversold) {
		tags = append(tags, audit.TagRejectedByInventory)
		changeType = enums.AuditRejectedByInventory
	}
	return l.audit.RecordFailure(ctx, nil, audit.Entry{
		HotelID:    &hotelID,
		Table:      audit.TableAvailability,
		RecordID:   recordID,
		ChangeType: changeType,
		Tags:       tags,
	}, err)
}

func (l *Ledger) recordTx(ctx context.Context, tx *gorm.DB, entry audit.Entry) {
	if l.audit == nil {
		return
	}
	if _, err := l.audit.Record(ctx, tx, entry); err != nil && l.logg != nil {
		l.logg.Warn(ctx, fmt.Sprintf("ledger audit failed: %v", err))
	}
}

func (l *Ledger) roomType(ctx context.Context, hotelID, roomTypeID uuid.UUID) (*models.RoomType, error) {
	rt, err := l.repo.FindRoomType(ctx, roomTypeID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "room type not found")
		}
		return nil, err
	}
	if rt.HotelID != hotelID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "room type not found")
	}
	return rt, nil
}

func isTerminal(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeOversold, pkgerrors.CodeConflict, pkgerrors.CodeIntegrityViolation, pkgerrors.CodeInvalidTransition:
		return true
	}
	return false
}

func oversold(in ReserveInput, date, reason string, available int) error {
	return pkgerrors.Newf(pkgerrors.CodeOversold, "cannot reserve %d room(s) on %s: %s", in.Rooms, date, reason).
		WithDetails(map[string]any{
			"date":      date,
			"reason":    reason,
			"requested": in.Rooms,
			"available": available,
			"channel":   in.Channel,
		})
}

func errConflict() error {
	return pkgerrors.New(pkgerrors.CodeConflict, "ledger row changed concurrently")
}

func indexRows(rows []models.AvailabilityRow) map[string]models.AvailabilityRow {
	out := make(map[string]models.AvailabilityRow, len(rows))
	for _, row := range rows {
		out[types.FormatDay(row.Date)] = row
	}
	return out
}

func breachDates(breaches []breach) []string {
	out := make([]string, 0, len(breaches))
	for _, b := range breaches {
		out = append(out, types.FormatDay(b.row.Date))
	}
	return out
}

func spanRecordID(roomTypeID uuid.UUID, span types.DateRange) string {
	return fmt.Sprintf("%s:%s..%s", roomTypeID, types.FormatDay(span.From), types.FormatDay(span.To))
}

func normalizeChannel(channel string) string {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return rules.ChannelDirect
	}
	return channel
}

func sourceOr(source, fallback string) string {
	if strings.TrimSpace(source) != "" {
		return source
	}
	if fallback == rules.ChannelDirect {
		return string(enums.SourceDirect)
	}
	return fallback
}

func currencyOr(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}
