package bookings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
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
	maxCASAttempts   = 3
	sweepBatch       = 200
	modificationType = "ota_modification"
	uniqueChannelKey = "ux_bookings_source_channel_booking"
)

// Service owns booking persistence and drives the lifecycle.
type Service interface {
	CreateHold(ctx context.Context, input CreateHoldInput) (*models.Booking, error)
	CreateConfirmed(ctx context.Context, input CreateConfirmedInput) (*models.Booking, error)
	ChangeStatus(ctx context.Context, input ChangeStatusInput) (*ChangeResult, error)
	ProcessOTAAmendment(ctx context.Context, input AmendmentInput) (*models.Booking, error)
	ResolveAmendment(ctx context.Context, input ResolveAmendmentInput) (*models.Booking, error)

	ExpireHolds(ctx context.Context) (SweepResult, error)
	AutoCheckout(ctx context.Context) (SweepResult, error)
	MarkNoShows(ctx context.Context) (SweepResult, error)

	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindByChannelBookingID(ctx context.Context, source, channelBookingID string) (*models.Booking, error)
	List(ctx context.Context, hotelID uuid.UUID, status *enums.BookingStatus, limit int) ([]models.Booking, error)
	ListNeedsSync(ctx context.Context, limit int) ([]models.Booking, error)
	MarkSynced(ctx context.Context, bookingID uuid.UUID, renderedVersion int, outcomes []SyncOutcome, at time.Time) error
}

// Ledger is the slice of the availability ledger bookings write through.
type Ledger interface {
	Plan(ctx context.Context, in inventory.ReserveInput) (*inventory.ReservePlan, error)
	ApplyReserve(ctx context.Context, tx *gorm.DB, plan *inventory.ReservePlan) (inventory.Change, error)
	ReleaseTx(ctx context.Context, tx *gorm.DB, in inventory.ReleaseInput) (inventory.Change, error)
	Publish(changes ...inventory.Change)
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Settings are the configurable windows of the booking lifecycle.
type Settings struct {
	HoldTTL time.Duration
	Policy  Policy
}

type service struct {
	repo     Repository
	tx       TxRunner
	ledger   Ledger
	audit    audit.Service
	outbox   *outbox.Service
	settings Settings
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the booking service. auditSvc, outboxSvc and logg may be nil.
func NewService(repo Repository, tx TxRunner, ledger Ledger, auditSvc audit.Service, outboxSvc *outbox.Service, settings Settings, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("booking repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if settings.HoldTTL <= 0 {
		settings.HoldTTL = 15 * time.Minute
	}
	if settings.Policy == (Policy{}) {
		settings.Policy = DefaultPolicy
	}
	return &service{
		repo:     repo,
		tx:       tx,
		ledger:   ledger,
		audit:    auditSvc,
		outbox:   outboxSvc,
		settings: settings,
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (s *service) CreateHold(ctx context.Context, input CreateHoldInput) (*models.Booking, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	b := newBooking(input, string(enums.SourceDirect))
	Seed(b, enums.BookingStatusPending, enums.SourceDirect, input.UserID, now)
	until := now.Add(s.settings.HoldTTL)
	b.ReservedUntil = &until

	err := s.create(ctx, b, inventory.ReserveInput{
		HotelID:    b.HotelID,
		RoomTypeID: b.RoomTypeID,
		CheckIn:    b.CheckIn,
		CheckOut:   b.CheckOut,
		Rooms:      b.RoomCount,
		BookingID:  b.ID,
		Channel:    rules.ChannelDirect,
		Source:     string(enums.SourceDirect),
	}, nil)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) CreateConfirmed(ctx context.Context, input CreateConfirmedInput) (*models.Booking, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	source := strings.ToLower(strings.TrimSpace(input.Source))
	if existing, err := s.repo.FindByChannelBookingID(ctx, source, input.ChannelBookingID); err == nil {
		return nil, duplicateBooking(existing.ID, source, input.ChannelBookingID)
	} else if !db.IsNotFound(err) {
		return nil, err
	}

	now := s.now().UTC()
	b := newBooking(input.CreateHoldInput, source)
	channelBookingID := input.ChannelBookingID
	b.ChannelBookingID = &channelBookingID
	b.ChannelID = input.ChannelID
	b.RawBookingPayload = input.RawPayload
	if input.PaymentStatus != "" {
		b.PaymentStatus = input.PaymentStatus
	}
	statusSource := enums.SourceOTA
	if source == string(enums.SourceDirect) {
		statusSource = enums.SourceDirect
	}
	Seed(b, enums.BookingStatusConfirmed, statusSource, input.UserID, now)
	b.NeedsSync = statusSource != enums.SourceDirect

	err := s.create(ctx, b, inventory.ReserveInput{
		HotelID:          b.HotelID,
		RoomTypeID:       b.RoomTypeID,
		CheckIn:          b.CheckIn,
		CheckOut:         b.CheckOut,
		Rooms:            b.RoomCount,
		BookingID:        b.ID,
		Channel:          source,
		Source:           source,
		AllowOverbooking: input.AllowOverbooking,
	}, input.OnCreated)
	if err != nil {
		if db.IsUniqueViolation(err, uniqueChannelKey) {
			if existing, findErr := s.repo.FindByChannelBookingID(ctx, source, input.ChannelBookingID); findErr == nil {
				return nil, duplicateBooking(existing.ID, source, input.ChannelBookingID)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "booking already exists for channel reservation")
		}
		return nil, err
	}
	return b, nil
}

// create reserves the stay and inserts b in one transaction.
func (s *service) create(ctx context.Context, b *models.Booking, reserve inventory.ReserveInput, onCreated func(context.Context, *gorm.DB, *models.Booking) error) error {
	plan, err := s.ledger.Plan(ctx, reserve)
	if err != nil {
		return err
	}
	var change inventory.Change
	err = inventory.RetryOnConflict(ctx, maxCASAttempts, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var applyErr error
			if change, applyErr = s.ledger.ApplyReserve(ctx, tx, plan); applyErr != nil {
				return applyErr
			}
			if err := s.repo.WithTx(tx).Create(ctx, b); err != nil {
				return err
			}
			if onCreated != nil {
				if err := onCreated(ctx, tx, b); err != nil {
					return err
				}
			}
			s.recordTx(ctx, tx, audit.Entry{
				HotelID:    &b.HotelID,
				Table:      audit.TableBookings,
				RecordID:   b.ID.String(),
				ChangeType: enums.AuditCreate,
				Source:     b.Source,
				NewValues:  bookingSnapshot(b),
			})
			return s.emit(ctx, tx, b, enums.EventBookingStatusChanged, payloads.BookingStatusChangedEvent{
				BookingID: b.ID,
				HotelID:   b.HotelID,
				To:        b.Status,
				Source:    b.StatusHistory[0].Source,
				At:        b.StatusHistory[0].At,
			})
		})
	})
	if err != nil {
		return s.surface(ctx, b, enums.AuditCreate, err)
	}
	s.ledger.Publish(change)
	s.info(ctx, b, fmt.Sprintf("booking created as %s", b.Status))
	return nil
}

func (s *service) ChangeStatus(ctx context.Context, input ChangeStatusInput) (*ChangeResult, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	var (
		result  *ChangeResult
		changes []inventory.Change
		current *models.Booking
	)
	err := inventory.RetryOnConflict(ctx, maxCASAttempts, func() error {
		b, err := s.load(ctx, input.BookingID)
		if err != nil {
			return err
		}
		current = b
		expected := b.Version
		from := b.Status
		fx, err := Transition(b, StatusChange{
			To:        input.To,
			Source:    input.Source,
			UserID:    input.UserID,
			Reason:    input.Reason,
			Automatic: input.Automatic,
			Options:   input.Options,
			At:        s.now(),
		}, s.settings.Policy)
		if err != nil {
			return err
		}
		b.Version = expected + 1

		changes = nil
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.save(ctx, tx, b, expected); err != nil {
				return err
			}
			if fx.NeedsRelease {
				change, err := s.ledger.ReleaseTx(ctx, tx, inventory.ReleaseInput{
					HotelID:    b.HotelID,
					RoomTypeID: b.RoomTypeID,
					From:       b.CheckIn,
					To:         b.CheckOut,
					Rooms:      b.RoomCount,
					BookingID:  b.ID,
					Source:     string(input.Source),
					Priority:   enums.SyncPriorityHigh,
				})
				if err != nil {
					return err
				}
				changes = append(changes, change)
			}
			s.recordTx(ctx, tx, audit.Entry{
				HotelID:    &b.HotelID,
				Table:      audit.TableBookings,
				RecordID:   b.ID.String(),
				ChangeType: enums.AuditStatusChange,
				Source:     string(input.Source),
				OldValues:  map[string]any{"status": from},
				NewValues:  map[string]any{"status": b.Status, "reason": input.Reason, "automatic": input.Automatic},
				Tags:       []string{audit.TagStatusChange},
			})
			return s.emitEffects(ctx, tx, b, from, input.Source, input.Automatic, fx)
		})
		if err != nil {
			return err
		}
		result = &ChangeResult{Booking: b, Effects: fx}
		return nil
	})
	if err != nil {
		return nil, s.surface(ctx, current, enums.AuditStatusChange, err)
	}
	s.ledger.Publish(changes...)
	s.info(ctx, result.Booking, fmt.Sprintf("booking moved to %s", result.Booking.Status))
	return result, nil
}

func (s *service) ProcessOTAAmendment(ctx context.Context, input AmendmentInput) (*models.Booking, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid amendment type %q", input.Type)
	}
	if input.RequestedChanges.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amendment requests no changes")
	}
	var (
		out     *models.Booking
		current *models.Booking
	)
	err := inventory.RetryOnConflict(ctx, maxCASAttempts, func() error {
		b, err := s.load(ctx, input.BookingID)
		if err != nil {
			return err
		}
		current = b
		expected := b.Version
		from := b.Status
		if from != enums.BookingStatusModified && !CanTransition(from, enums.BookingStatusModified) {
			return invalidTransition(from, enums.BookingStatusModified, RuleMatrix, "booking cannot take amendments")
		}

		now := s.now().UTC()
		amendment := models.OTAAmendment{
			ID:               uuid.New(),
			Type:             input.Type,
			Channel:          strings.ToLower(strings.TrimSpace(input.Channel)),
			RequestedChanges: input.RequestedChanges,
			Status:           enums.AmendmentPending,
			ReceivedAt:       now,
		}
		b.OTAAmendments = append(b.OTAAmendments, amendment)
		b.AmendmentFlags.HasActivePendingAmendments = true
		b.AmendmentFlags.AmendmentCount++
		b.AmendmentFlags.LastAmendmentDate = &now
		b.AmendmentFlags.RequiresReconfirmation = true

		var fx Effects
		if from != enums.BookingStatusModified {
			fx, err = Transition(b, StatusChange{
				To:        enums.BookingStatusModified,
				Source:    enums.SourceOTA,
				Reason:    "ota amendment received",
				Automatic: true,
				At:        now,
			}, s.settings.Policy)
			if err != nil {
				return err
			}
		}
		b.Version = expected + 1

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.save(ctx, tx, b, expected); err != nil {
				return err
			}
			s.recordTx(ctx, tx, audit.Entry{
				HotelID:    &b.HotelID,
				Table:      audit.TableBookings,
				RecordID:   b.ID.String(),
				ChangeType: enums.AuditUpdate,
				Source:     amendment.Channel,
				NewValues:  amendment,
				Tags:       []string{audit.TagAmendment},
			})
			if err := s.emit(ctx, tx, b, enums.EventBookingAmendmentReceived, payloads.BookingAmendmentReceivedEvent{
				BookingID:   b.ID,
				HotelID:     b.HotelID,
				AmendmentID: amendment.ID,
				Channel:     amendment.Channel,
				Type:        amendment.Type,
			}); err != nil {
				return err
			}
			if from == b.Status {
				return nil
			}
			return s.emitEffects(ctx, tx, b, from, enums.SourceOTA, true, fx)
		})
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, s.surface(ctx, current, enums.AuditUpdate, err)
	}
	s.info(ctx, out, "ota amendment recorded")
	return out, nil
}

func (s *service) ResolveAmendment(ctx context.Context, input ResolveAmendmentInput) (*models.Booking, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	switch input.Decision {
	case enums.AmendmentApproved, enums.AmendmentPartiallyApproved, enums.AmendmentRejected:
	default:
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid amendment decision %q", input.Decision)
	}

	var (
		out     *models.Booking
		current *models.Booking
		changes []inventory.Change
	)
	err := inventory.RetryOnConflict(ctx, maxCASAttempts, func() error {
		b, err := s.load(ctx, input.BookingID)
		if err != nil {
			return err
		}
		current = b
		idx, err := pendingIndex(b, input.AmendmentID)
		if err != nil {
			return err
		}
		amendment := b.OTAAmendments[idx]

		decision := input.Decision
		if decision != enums.AmendmentRejected && !acceptsStayChanges(b.Status) {
			return invalidTransition(b.Status, b.Status, RuleClosedBooking, "booking is closed; amendments can only be rejected")
		}
		rejection := strings.TrimSpace(input.RejectionReason)
		var approved *models.StayChanges
		if decision != enums.AmendmentRejected {
			approved, err = approvedChanges(amendment, input)
			if err != nil {
				return err
			}
			if conflictID, ok := conflictsWithApproved(b.OTAAmendments[:idx], *approved); ok {
				decision = enums.AmendmentRejected
				rejection = fmt.Sprintf("conflicts with approved amendment %s", conflictID)
				approved = nil
			}
		}

		var plan *inventory.ReservePlan
		var release *inventory.ReleaseInput
		if approved != nil {
			plan, release, err = s.stayDelta(ctx, b, *approved, input.Options.BypassAmendmentCheck)
			if err != nil {
				if !pkgerrors.Is(err, pkgerrors.CodeOversold) {
					return err
				}
				decision = enums.AmendmentRejected
				rejection = "rejected by inventory: " + inventory.OversoldReason(err)
				approved, plan, release = nil, nil, nil
			}
		}

		changes = nil
		err = s.commitResolution(ctx, b, idx, decision, approved, rejection, input, plan, release, &changes)
		if err != nil && pkgerrors.Is(err, pkgerrors.CodeOversold) && approved != nil {
			changes = nil
			reason := "rejected by inventory: " + inventory.OversoldReason(err)
			b, err = s.load(ctx, input.BookingID)
			if err != nil {
				return err
			}
			idx, err = pendingIndex(b, input.AmendmentID)
			if err != nil {
				return err
			}
			err = s.commitResolution(ctx, b, idx, enums.AmendmentRejected, nil, reason, input, nil, nil, &changes)
		}
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, s.surface(ctx, current, enums.AuditUpdate, err)
	}
	s.ledger.Publish(changes...)
	s.info(ctx, out, "ota amendment resolved")
	return out, nil
}

// commitResolution applies one amendment decision to b and persists it with
// any ledger movement in a single transaction.
func (s *service) commitResolution(ctx context.Context, b *models.Booking, idx int, decision enums.AmendmentStatus, approved *models.StayChanges, rejection string, input ResolveAmendmentInput, plan *inventory.ReservePlan, release *inventory.ReleaseInput, changes *[]inventory.Change) error {
	now := s.now().UTC()
	expected := b.Version
	amendment := &b.OTAAmendments[idx]
	amendment.Status = decision
	amendment.ResolvedAt = &now
	amendment.ResolvedBy = input.ResolvedBy
	if decision == enums.AmendmentRejected {
		if rejection == "" {
			rejection = "rejected"
		}
		amendment.RejectionReason = rejection
	} else {
		amendment.ApprovedChanges = approved
		before, after := applyChanges(b, *approved)
		b.Modifications = append(b.Modifications, models.Modification{
			ID:          uuid.New(),
			Type:        modificationType,
			AmendmentID: &amendment.ID,
			Before:      before,
			After:       after,
			At:          now,
			By:          input.ResolvedBy,
		})
		b.NeedsSync = b.Source != string(enums.SourceDirect)
	}

	pending := len(b.PendingAmendments()) > 0
	b.AmendmentFlags.HasActivePendingAmendments = pending
	from := b.Status
	var fx Effects
	if !pending {
		b.AmendmentFlags.RequiresReconfirmation = false
		if b.Status == enums.BookingStatusModified && acceptedSinceModified(b) {
			var err error
			fx, err = Transition(b, StatusChange{
				To:        enums.BookingStatusConfirmed,
				Source:    enums.SourceSystem,
				Reason:    "amendments resolved",
				Automatic: true,
				Options:   Options{BypassAmendmentCheck: true},
				At:        now,
			}, s.settings.Policy)
			if err != nil {
				return err
			}
		}
	}
	b.Version = expected + 1

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if release != nil {
			change, err := s.ledger.ReleaseTx(ctx, tx, *release)
			if err != nil {
				return err
			}
			*changes = append(*changes, change)
		}
		if plan != nil {
			change, err := s.ledger.ApplyReserve(ctx, tx, plan)
			if err != nil {
				return err
			}
			*changes = append(*changes, change)
		}
		if err := s.save(ctx, tx, b, expected); err != nil {
			return err
		}
		s.recordTx(ctx, tx, audit.Entry{
			HotelID:    &b.HotelID,
			Table:      audit.TableBookings,
			RecordID:   b.ID.String(),
			ChangeType: enums.AuditUpdate,
			Source:     input.ResolvedBy,
			NewValues:  map[string]any{"amendmentId": amendment.ID, "decision": decision, "approvedChanges": approved, "rejectionReason": amendment.RejectionReason},
			Tags:       []string{audit.TagAmendment},
		})
		if from == b.Status {
			return nil
		}
		return s.emitEffects(ctx, tx, b, from, enums.SourceSystem, true, fx)
	})
}

// stayDelta plans the ledger movement an approved change needs. Extra nights
// on an unchanged room type are reserved as an extension of the stay; any
// other change to room type or count releases the old stay and reserves the new one.
func (s *service) stayDelta(ctx context.Context, b *models.Booking, changes models.StayChanges, allowOverbooking bool) (*inventory.ReservePlan, *inventory.ReleaseInput, error) {
	checkIn, checkOut := b.CheckIn, b.CheckOut
	if changes.CheckIn != nil {
		checkIn = types.Day(*changes.CheckIn)
	}
	if changes.CheckOut != nil {
		checkOut = types.Day(*changes.CheckOut)
	}
	roomTypeID, rooms := b.RoomTypeID, b.RoomCount
	if changes.RoomTypeID != nil {
		roomTypeID = *changes.RoomTypeID
	}
	if changes.RoomCount != nil {
		rooms = *changes.RoomCount
	}
	if !checkOut.After(checkIn) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "amended checkOut must be after checkIn")
	}
	if rooms < 1 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "amended room count must be at least 1")
	}

	channel := b.Source
	if b.Source == string(enums.SourceDirect) {
		channel = rules.ChannelDirect
	}
	base := inventory.ReserveInput{
		HotelID:          b.HotelID,
		RoomTypeID:       roomTypeID,
		Rooms:            rooms,
		BookingID:        b.ID,
		Channel:          channel,
		Source:           b.Source,
		AllowOverbooking: allowOverbooking,
	}

	if roomTypeID != b.RoomTypeID || rooms != b.RoomCount {
		release := &inventory.ReleaseInput{
			HotelID:    b.HotelID,
			RoomTypeID: b.RoomTypeID,
			From:       b.CheckIn,
			To:         b.CheckOut,
			Rooms:      b.RoomCount,
			BookingID:  b.ID,
			Source:     b.Source,
			Priority:   enums.SyncPriorityHigh,
		}
		in := base
		in.CheckIn, in.CheckOut = checkIn, checkOut
		plan, err := s.ledger.Plan(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		return plan, release, nil
	}

	if checkIn.Equal(b.CheckIn) && checkOut.Equal(b.CheckOut) {
		return nil, nil, nil
	}
	if !checkIn.Before(b.CheckOut) || !checkOut.After(b.CheckIn) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "amended stay does not overlap the booked stay; use a room or date change with a new booking")
	}

	// Only one side may grow in a single reserve; growth on both ends of
	// the stay is planned as a fresh reservation of the new span, with every
	// arrival, departure and length-of-stay check of a new booking.
	var plan *inventory.ReservePlan
	var release *inventory.ReleaseInput
	grewBefore := checkIn.Before(b.CheckIn)
	grewAfter := checkOut.After(b.CheckOut)
	switch {
	case grewBefore && grewAfter:
		release = &inventory.ReleaseInput{HotelID: b.HotelID, RoomTypeID: b.RoomTypeID, From: b.CheckIn, To: b.CheckOut, Rooms: b.RoomCount, BookingID: b.ID, Source: b.Source, Priority: enums.SyncPriorityHigh}
		in := base
		in.CheckIn, in.CheckOut = checkIn, checkOut
		p, err := s.ledger.Plan(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		return p, release, nil
	case grewBefore:
		in := base
		in.CheckIn, in.CheckOut, in.Extension = checkIn, b.CheckIn, true
		in.NewArrival = true
		in.StayNights = types.DateRange{From: checkIn, To: checkOut}.Nights()
		p, err := s.ledger.Plan(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		plan = p
	case grewAfter:
		in := base
		in.CheckIn, in.CheckOut, in.Extension = b.CheckOut, checkOut, true
		p, err := s.ledger.Plan(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		plan = p
	}

	switch {
	case checkIn.After(b.CheckIn):
		release = &inventory.ReleaseInput{HotelID: b.HotelID, RoomTypeID: b.RoomTypeID, From: b.CheckIn, To: checkIn, Rooms: b.RoomCount, BookingID: b.ID, Source: b.Source, Priority: enums.SyncPriorityHigh}
	case checkOut.Before(b.CheckOut):
		release = &inventory.ReleaseInput{HotelID: b.HotelID, RoomTypeID: b.RoomTypeID, From: checkOut, To: b.CheckOut, Rooms: b.RoomCount, BookingID: b.ID, Source: b.Source, Priority: enums.SyncPriorityHigh}
	}
	return plan, release, nil
}

func (s *service) ExpireHolds(ctx context.Context) (SweepResult, error) {
	holds, err := s.repo.ListExpiredHolds(ctx, s.now().UTC(), sweepBatch)
	if err != nil {
		return SweepResult{}, err
	}
	return s.sweep(ctx, holds, enums.BookingStatusCancelled, "hold expired", Options{})
}

func (s *service) AutoCheckout(ctx context.Context) (SweepResult, error) {
	due, err := s.repo.ListDueCheckout(ctx, types.Day(s.now()), sweepBatch)
	if err != nil {
		return SweepResult{}, err
	}
	return s.sweep(ctx, due, enums.BookingStatusCheckedOut, "automatic checkout", Options{})
}

func (s *service) MarkNoShows(ctx context.Context) (SweepResult, error) {
	cutoff := s.now().UTC().Add(-s.settings.Policy.NoShowGrace)
	candidates, err := s.repo.ListNoShowCandidates(ctx, cutoff, sweepBatch)
	if err != nil {
		return SweepResult{}, err
	}
	return s.sweep(ctx, candidates, enums.BookingStatusNoShow, "guest did not arrive", Options{})
}

func (s *service) sweep(ctx context.Context, bookings []models.Booking, to enums.BookingStatus, reason string, opts Options) (SweepResult, error) {
	res := SweepResult{Scanned: len(bookings)}
	var errs []error
	for _, b := range bookings {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := s.ChangeStatus(ctx, ChangeStatusInput{
			BookingID: b.ID,
			To:        to,
			Source:    enums.SourceSystem,
			Reason:    reason,
			Automatic: true,
			Options:   opts,
		})
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("booking %s: %w", b.ID, err))
			continue
		}
		res.Succeeded++
	}
	return res, multierr.Combine(errs...)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return s.load(ctx, id)
}

func (s *service) FindByChannelBookingID(ctx context.Context, source, channelBookingID string) (*models.Booking, error) {
	b, err := s.repo.FindByChannelBookingID(ctx, strings.ToLower(strings.TrimSpace(source)), channelBookingID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		return nil, err
	}
	return b, nil
}

func (s *service) List(ctx context.Context, hotelID uuid.UUID, status *enums.BookingStatus, limit int) ([]models.Booking, error) {
	return s.repo.ListByHotel(ctx, hotelID, status, limit)
}

func (s *service) ListNeedsSync(ctx context.Context, limit int) ([]models.Booking, error) {
	return s.repo.ListNeedsSync(ctx, limit)
}

// MarkSynced records per-channel push outcomes. needsSync is cleared only
// when every channel succeeded and the booking has not changed since it was
// rendered.
func (s *service) MarkSynced(ctx context.Context, bookingID uuid.UUID, renderedVersion int, outcomes []SyncOutcome, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	return inventory.RetryOnConflict(ctx, maxCASAttempts, func() error {
		b, err := s.load(ctx, bookingID)
		if err != nil {
			return err
		}
		expected := b.Version
		allOK := true
		for _, o := range outcomes {
			status := string(enums.InventorySyncSuccess)
			if !o.OK {
				status = string(enums.InventorySyncFailed)
				allOK = false
			}
			b.ChannelSync = upsertChannelSync(b.ChannelSync, models.ChannelSyncEntry{
				ChannelID: o.ChannelID,
				Status:    status,
				At:        at.UTC(),
				Error:     o.Error,
			})
		}
		if allOK && expected == renderedVersion {
			b.NeedsSync = false
		}
		b.Version = expected + 1
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.save(ctx, tx, b, expected)
		})
	})
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, err := s.repo.Find(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		return nil, err
	}
	return b, nil
}

func (s *service) save(ctx context.Context, tx *gorm.DB, b *models.Booking, expected int) error {
	ok, err := s.repo.WithTx(tx).SaveCAS(ctx, b, expected)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "booking changed concurrently")
	}
	return nil
}

// emitEffects queues the status-changed event and one event per side effect.
func (s *service) emitEffects(ctx context.Context, tx *gorm.DB, b *models.Booking, from enums.BookingStatus, source enums.StatusSource, automatic bool, fx Effects) error {
	at := s.now().UTC()
	if b.LastStatusChange != nil {
		at = *b.LastStatusChange
	}
	err := s.emit(ctx, tx, b, enums.EventBookingStatusChanged, payloads.BookingStatusChangedEvent{
		BookingID: b.ID,
		HotelID:   b.HotelID,
		From:      from,
		To:        b.Status,
		Source:    source,
		Automatic: automatic,
		At:        at,
	})
	if err != nil {
		return err
	}
	if fx.NeedsRefund {
		reason := ""
		if b.CancellationReason != nil {
			reason = *b.CancellationReason
		}
		if err := s.emit(ctx, tx, b, enums.EventRefundRequested, payloads.RefundRequestedEvent{
			BookingID: b.ID, HotelID: b.HotelID, Amount: b.TotalAmount, Currency: b.Currency, Reason: reason,
		}); err != nil {
			return err
		}
	}
	if fx.NeedsRoomStatusUpdate {
		if err := s.emit(ctx, tx, b, enums.EventRoomStatusUpdate, payloads.RoomStatusUpdateEvent{
			BookingID: b.ID, HotelID: b.HotelID, RoomIDs: roomIDs(b), Status: "occupied",
		}); err != nil {
			return err
		}
	}
	if fx.NeedsFinalBilling {
		if err := s.emit(ctx, tx, b, enums.EventFinalBillingRequested, payloads.FinalBillingRequestedEvent{
			BookingID: b.ID, HotelID: b.HotelID, TotalAmount: b.TotalAmount, Currency: b.Currency, CheckedOutAt: at,
		}); err != nil {
			return err
		}
	}
	if fx.NeedsAutomation {
		if err := s.emit(ctx, tx, b, enums.EventPostCheckoutAutomation, payloads.PostCheckoutAutomationEvent{
			BookingID: b.ID, HotelID: b.HotelID, GuestEmail: b.GuestEmail, CheckedOutAt: at,
		}); err != nil {
			return err
		}
	}
	if fx.NeedsPenalty {
		if err := s.emit(ctx, tx, b, enums.EventNoShowPenaltyRequested, payloads.NoShowPenaltyRequestedEvent{
			BookingID: b.ID, HotelID: b.HotelID, FirstNight: firstNight(b), Currency: b.Currency, RecordedAt: at,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, b *models.Booking, eventType enums.OutboxEventType, data any) error {
	if s.outbox == nil {
		return nil
	}
	_, err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateBooking,
		AggregateID:   b.ID,
		Actor:         &outbox.ActorRef{Source: b.Source, UserID: b.UserID},
		Data:          data,
		OccurredAt:    s.now().UTC(),
	})
	return err
}

func (s *service) recordTx(ctx context.Context, tx *gorm.DB, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(ctx, tx, entry); err != nil && s.logg != nil {
		s.logg.Warn(ctx, fmt.Sprintf("booking audit failed: %v", err))
	}
}

// surface audits terminal failures and stamps the correlation id.
func (s *service) surface(ctx context.Context, b *models.Booking, changeType enums.AuditChangeType, err error) error {
	if s.audit == nil || b == nil {
		return err
	}
	tags := []string{}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeOversold:
		tags = append(tags, audit.TagRejectedByInventory)
		changeType = enums.AuditRejectedByInventory
	case pkgerrors.CodeInvalidTransition:
		tags = append(tags, audit.TagStatusChange)
	case pkgerrors.CodeConflict, pkgerrors.CodeIntegrityViolation:
	default:
		return err
	}
	return s.audit.RecordFailure(ctx, nil, audit.Entry{
		HotelID:    &b.HotelID,
		Table:      audit.TableBookings,
		RecordID:   b.ID.String(),
		ChangeType: changeType,
		Source:     b.Source,
		Tags:       tags,
	}, err)
}

func (s *service) info(ctx context.Context, b *models.Booking, msg string) {
	if s.logg == nil || b == nil {
		return
	}
	ctx = s.logg.WithBookingID(ctx, b.ID.String())
	ctx = s.logg.WithHotelID(ctx, b.HotelID.String())
	s.logg.Info(ctx, msg)
}

func newBooking(in CreateHoldInput, source string) *models.Booking {
	checkIn, checkOut := types.Day(in.CheckIn), types.Day(in.CheckOut)
	nights := int(checkOut.Sub(checkIn).Hours() / 24)
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "USD"
	}
	adults := in.Adults
	if adults == 0 {
		adults = 1
	}
	rooms := make([]models.BookedRoom, 0, in.Rooms)
	perRoomNight := decimal.Zero
	if nights > 0 {
		perRoomNight = in.TotalAmount.Div(decimal.NewFromInt(int64(nights * in.Rooms))).Round(2)
	}
	for i := 0; i < in.Rooms; i++ {
		rooms = append(rooms, models.BookedRoom{RoomTypeID: in.RoomTypeID, Rate: perRoomNight})
	}
	return &models.Booking{
		ID:            uuid.New(),
		HotelID:       in.HotelID,
		UserID:        in.UserID,
		RoomTypeID:    in.RoomTypeID,
		RoomCount:     in.Rooms,
		Rooms:         rooms,
		CheckIn:       checkIn,
		CheckOut:      checkOut,
		Nights:        nights,
		TotalAmount:   in.TotalAmount,
		Currency:      currency,
		PaymentStatus: enums.PaymentStatusUnpaid,
		Source:        source,
		GuestName:     in.GuestName,
		GuestEmail:    in.GuestEmail,
		Adults:        adults,
		Children:      in.Children,
		Version:       1,
	}
}

func duplicateBooking(existing uuid.UUID, source, channelBookingID string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "booking already exists for channel reservation").
		WithDetails(map[string]any{
			"bookingId":        existing.String(),
			"source":           source,
			"channelBookingId": channelBookingID,
		})
}

func pendingIndex(b *models.Booking, amendmentID uuid.UUID) (int, error) {
	for i, a := range b.OTAAmendments {
		if a.ID != amendmentID {
			continue
		}
		if a.Status != enums.AmendmentPending {
			return -1, pkgerrors.Newf(pkgerrors.CodeStateConflict, "amendment already %s", a.Status)
		}
		for _, earlier := range b.OTAAmendments[:i] {
			if earlier.Status == enums.AmendmentPending {
				return -1, pkgerrors.New(pkgerrors.CodeStateConflict, "an earlier amendment is still pending").
					WithDetail("pendingAmendmentId", earlier.ID.String())
			}
		}
		return i, nil
	}
	return -1, pkgerrors.New(pkgerrors.CodeNotFound, "amendment not found")
}

// approvedChanges resolves the accepted field set, which must be a subset of
// the requested changes.
func approvedChanges(a models.OTAAmendment, in ResolveAmendmentInput) (*models.StayChanges, error) {
	if in.Decision == enums.AmendmentApproved && in.Approved == nil {
		approved := a.RequestedChanges
		return &approved, nil
	}
	if in.Approved == nil || in.Approved.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "approvedChanges required for a partial approval")
	}
	if !in.Approved.SubsetOf(a.RequestedChanges) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "approvedChanges must be a subset of the requested changes")
	}
	approved := *in.Approved
	return &approved, nil
}

// conflictsWithApproved reports the first earlier approved amendment that set
// one of the same fields to a different value.
func conflictsWithApproved(earlier []models.OTAAmendment, changes models.StayChanges) (uuid.UUID, bool) {
	for _, a := range earlier {
		if a.ApprovedChanges == nil {
			continue
		}
		if a.Status != enums.AmendmentApproved && a.Status != enums.AmendmentPartiallyApproved {
			continue
		}
		if a.ApprovedChanges.ConflictsWith(changes) {
			return a.ID, true
		}
	}
	return uuid.Nil, false
}

// acceptedSinceModified reports whether any amendment received since the
// booking last entered modified was accepted.
func acceptedSinceModified(b *models.Booking) bool {
	var since time.Time
	for i := len(b.StatusHistory) - 1; i >= 0; i-- {
		if b.StatusHistory[i].To == enums.BookingStatusModified {
			since = b.StatusHistory[i].At
			break
		}
	}
	for _, a := range b.OTAAmendments {
		if a.ReceivedAt.Before(since) {
			continue
		}
		if a.Status == enums.AmendmentApproved || a.Status == enums.AmendmentPartiallyApproved {
			return true
		}
	}
	return false
}

// applyChanges writes changes onto b and returns the before and after values
// of the touched fields.
func applyChanges(b *models.Booking, c models.StayChanges) (models.StayChanges, models.StayChanges) {
	var before models.StayChanges
	if c.CheckIn != nil {
		v := b.CheckIn
		before.CheckIn = &v
		b.CheckIn = types.Day(*c.CheckIn)
	}
	if c.CheckOut != nil {
		v := b.CheckOut
		before.CheckOut = &v
		b.CheckOut = types.Day(*c.CheckOut)
	}
	if c.RoomTypeID != nil {
		v := b.RoomTypeID
		before.RoomTypeID = &v
		b.RoomTypeID = *c.RoomTypeID
		for i := range b.Rooms {
			b.Rooms[i].RoomTypeID = *c.RoomTypeID
		}
	}
	if c.RoomCount != nil {
		v := b.RoomCount
		before.RoomCount = &v
		b.RoomCount = *c.RoomCount
		b.Rooms = resizeRooms(b.Rooms, b.RoomTypeID, b.RoomCount)
	}
	if c.GuestName != nil {
		v := b.GuestName
		before.GuestName = &v
		b.GuestName = *c.GuestName
	}
	if c.GuestEmail != nil {
		v := b.GuestEmail
		before.GuestEmail = &v
		b.GuestEmail = *c.GuestEmail
	}
	if c.Adults != nil {
		v := b.Adults
		before.Adults = &v
		b.Adults = *c.Adults
	}
	if c.Children != nil {
		v := b.Children
		before.Children = &v
		b.Children = *c.Children
	}
	if c.TotalAmount != nil {
		v := b.TotalAmount
		before.TotalAmount = &v
		b.TotalAmount = *c.TotalAmount
	}
	b.Nights = int(b.CheckOut.Sub(b.CheckIn).Hours() / 24)
	return before, c
}

func resizeRooms(rooms []models.BookedRoom, roomTypeID uuid.UUID, n int) []models.BookedRoom {
	if n <= len(rooms) {
		return rooms[:n]
	}
	rate := decimal.Zero
	if len(rooms) > 0 {
		rate = rooms[0].Rate
	}
	for len(rooms) < n {
		rooms = append(rooms, models.BookedRoom{RoomTypeID: roomTypeID, Rate: rate})
	}
	return rooms
}

func upsertChannelSync(entries []models.ChannelSyncEntry, entry models.ChannelSyncEntry) []models.ChannelSyncEntry {
	for i := range entries {
		if entries[i].ChannelID == entry.ChannelID {
			entries[i] = entry
			return entries
		}
	}
	return append(entries, entry)
}

func firstNight(b *models.Booking) decimal.Decimal {
	if len(b.Rooms) > 0 && !b.Rooms[0].Rate.IsZero() {
		return b.Rooms[0].Rate.Mul(decimal.NewFromInt(int64(b.RoomCount)))
	}
	if b.Nights <= 0 {
		return b.TotalAmount
	}
	return b.TotalAmount.Div(decimal.NewFromInt(int64(b.Nights))).Round(2)
}

func roomIDs(b *models.Booking) []uuid.UUID {
	var out []uuid.UUID
	for _, r := range b.Rooms {
		if r.RoomID != nil {
			out = append(out, *r.RoomID)
		}
	}
	return out
}

func bookingSnapshot(b *models.Booking) map[string]any {
	return map[string]any{
		"status":     b.Status,
		"roomTypeId": b.RoomTypeID,
		"rooms":      b.RoomCount,
		"checkIn":    types.FormatDay(b.CheckIn),
		"checkOut":   types.FormatDay(b.CheckOut),
		"source":     b.Source,
		"total":      b.TotalAmount,
	}
}
