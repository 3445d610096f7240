package reservations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/internal/bookings"
	"github.com/angelmondragon/channelcore-backend/internal/channels"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/metrics"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/channelcore-backend/pkg/tracing"
	"github.com/angelmondragon/channelcore-backend/pkg/types"
)

// Bookings is the slice of the booking service inbound reservations drive.
type Bookings interface {
	CreateConfirmed(ctx context.Context, input bookings.CreateConfirmedInput) (*models.Booking, error)
	ChangeStatus(ctx context.Context, input bookings.ChangeStatusInput) (*bookings.ChangeResult, error)
	ProcessOTAAmendment(ctx context.Context, input bookings.AmendmentInput) (*models.Booking, error)
	FindByChannelBookingID(ctx context.Context, source, channelBookingID string) (*models.Booking, error)
}

// Registry resolves the channel a reservation came from and its room types.
type Registry interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	FindForSource(ctx context.Context, hotelID uuid.UUID, source string) (*models.Channel, error)
	ResolveInternalRoomType(ctx context.Context, channelID uuid.UUID, channelRoomTypeID string) (uuid.UUID, error)
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Deps wires the handler.
type Deps struct {
	Bookings Bookings
	Registry Registry
	Repo     Repository
	Audit    audit.Service
	Outbox   *outbox.Service
	Tx       TxRunner
	Metrics  *metrics.InboundMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

// Handler turns inbound channel reservations into bookings.
type Handler struct {
	bookings Bookings
	registry Registry
	repo     Repository
	audit    audit.Service
	outbox   *outbox.Service
	tx       TxRunner
	metrics  *metrics.InboundMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewHandler validates deps and builds a handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Bookings == nil {
		return nil, fmt.Errorf("booking service required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("channel registry required")
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("reservation mapping repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Handler{
		bookings: deps.Bookings,
		registry: deps.Registry,
		repo:     deps.Repo,
		audit:    deps.Audit,
		outbox:   deps.Outbox,
		tx:       deps.Tx,
		metrics:  deps.Metrics,
		logg:     deps.Logger,
		now:      clock,
	}, nil
}

// Handle processes one inbound reservation. Business refusals come back as
// a negative Outcome with a nil error; a non-nil error means the message
// should be redelivered.
func (h *Handler) Handle(ctx context.Context, res channels.Reservation) (Outcome, error) {
	ctx, span := tracing.Tracer().Start(ctx, "reservations.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation.source", res.Source),
		attribute.String("reservation.kind", string(res.Kind)),
		attribute.String("reservation.channel_booking_id", res.ChannelBookingID),
	)

	ctx = h.logg.WithFields(ctx, map[string]any{
		"source":             res.Source,
		"channel_booking_id": res.ChannelBookingID,
		"kind":               res.Kind,
	})
	out, err := h.handle(ctx, res)
	result := string(out.Action)
	if err != nil {
		result = "error"
		tracing.RecordError(span, err)
		h.logg.Error(ctx, "inbound reservation failed", err)
	}
	h.metrics.Observe(strings.ToLower(res.Source), string(res.Kind), result)
	return out, err
}

func (h *Handler) handle(ctx context.Context, res channels.Reservation) (Outcome, error) {
	if err := validate(res); err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "invalid inbound reservation")
		return nack(ReasonInvalid), nil
	}
	ch, err := h.channel(ctx, res)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			h.logg.Warn(ctx, "inbound reservation from unknown channel")
			return nack(ReasonUnknownChannel), nil
		}
		return Outcome{}, err
	}
	ctx = h.logg.WithChannelID(ctx, ch.ID.String())
	ctx = h.logg.WithHotelID(ctx, ch.HotelID.String())
	source := ch.Code

	existing, err := h.bookings.FindByChannelBookingID(ctx, source, res.ChannelBookingID)
	switch {
	case err == nil:
	case pkgerrors.Is(err, pkgerrors.CodeNotFound) || db.IsNotFound(err):
		existing = nil
	default:
		return Outcome{}, err
	}

	if existing == nil {
		if res.Kind == channels.ReservationCancel {
			h.logg.Warn(ctx, "cancellation for a reservation that was never booked")
			return Outcome{Ack: true, Action: ActionIgnored}, nil
		}
		return h.create(ctx, ch, source, res)
	}

	ctx = h.logg.WithBookingID(ctx, existing.ID.String())
	if res.Kind == channels.ReservationCancel {
		return h.cancel(ctx, ch, existing, res)
	}
	return h.amend(ctx, ch, existing, res)
}

func (h *Handler) channel(ctx context.Context, res channels.Reservation) (*models.Channel, error) {
	if res.ChannelID != uuid.Nil {
		ch, err := h.registry.Get(ctx, res.ChannelID)
		if err != nil {
			return nil, err
		}
		if ch.HotelID != res.HotelID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "channel does not belong to hotel")
		}
		return ch, nil
	}
	return h.registry.FindForSource(ctx, res.HotelID, res.Source)
}

func (h *Handler) create(ctx context.Context, ch *models.Channel, source string, res channels.Reservation) (Outcome, error) {
	roomTypeID, err := h.registry.ResolveInternalRoomType(ctx, ch.ID, res.ChannelRoomTypeID)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeMappingMissing) {
			h.recordRefusal(ctx, ch, res, ReasonMappingMissing, audit.TagMappingMissing, err)
			return nack(ReasonMappingMissing), nil
		}
		return Outcome{}, err
	}

	input := h.createInput(ch, source, roomTypeID, res)
	b, err := h.bookings.CreateConfirmed(ctx, input)
	overbooked := false
	if err != nil && inventory.IsCapacityShortfall(err) {
		// the channel sold a room the ledger no longer has; retry inside the allowance
		input.AllowOverbooking = true
		b, err = h.bookings.CreateConfirmed(ctx, input)
		overbooked = err == nil
	}
	if err != nil {
		switch {
		case pkgerrors.Is(err, pkgerrors.CodeOversold):
			reason := inventory.OversoldReason(err)
			h.recordRefusal(ctx, ch, res, reason, audit.TagRejectedByInventory, err)
			out := nack(ReasonRejectedByInventory)
			if reason != "" {
				out.Reason = ReasonRejectedByInventory + ":" + reason
			}
			return out, nil
		case pkgerrors.Is(err, pkgerrors.CodeStateConflict):
			// a concurrent delivery created it first
			if dup, findErr := h.bookings.FindByChannelBookingID(ctx, source, res.ChannelBookingID); findErr == nil {
				return ack(ActionDuplicate, dup.ID), nil
			}
			return Outcome{}, err
		case pkgerrors.Is(err, pkgerrors.CodeValidation):
			h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "inbound reservation refused by booking validation")
			return nack(ReasonInvalid), nil
		}
		return Outcome{}, err
	}

	if overbooked {
		hotelID := ch.HotelID
		h.recordAudit(ctx, nil, audit.Entry{
			HotelID:    &hotelID,
			Table:      audit.TableReservations,
			RecordID:   b.ID.String(),
			ChangeType: enums.AuditCreate,
			Source:     source,
			NewValues:  map[string]any{"channelBookingId": res.ChannelBookingID, "rooms": res.Rooms},
			Tags:       []string{audit.TagOverbooked},
		})
	}
	h.logg.Info(h.logg.WithBookingID(ctx, b.ID.String()), "inbound reservation booked")
	out := ack(ActionCreated, b.ID)
	out.Overbooked = overbooked
	return out, nil
}

func (h *Handler) createInput(ch *models.Channel, source string, roomTypeID uuid.UUID, res channels.Reservation) bookings.CreateConfirmedInput {
	channelID := ch.ID
	payment := enums.PaymentStatusFromChannel(res.Paid)
	currency := res.Currency
	if currency == "" {
		currency = ch.Settings.Currency
	}
	adults := res.Adults
	if adults <= 0 {
		adults = 1
	}
	raw := res.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(res)
	}
	return bookings.CreateConfirmedInput{
		CreateHoldInput: bookings.CreateHoldInput{
			HotelID:     ch.HotelID,
			RoomTypeID:  roomTypeID,
			CheckIn:     types.Day(res.CheckIn),
			CheckOut:    types.Day(res.CheckOut),
			Rooms:       roomsOr(res.Rooms),
			TotalAmount: res.TotalAmount,
			Currency:    strings.ToUpper(currency),
			GuestName:   res.GuestName,
			GuestEmail:  res.GuestEmail,
			Adults:      adults,
			Children:    res.Children,
		},
		Source:           source,
		ChannelID:        &channelID,
		ChannelBookingID: res.ChannelBookingID,
		PaymentStatus:    payment,
		RawPayload:       raw,
		OnCreated: func(ctx context.Context, tx *gorm.DB, b *models.Booking) error {
			return h.repo.WithTx(tx).Create(ctx, &models.ReservationMapping{
				HotelID:              b.HotelID,
				ChannelID:            channelID,
				ChannelReservationID: res.ChannelBookingID,
				BookingID:            b.ID,
				Status:               enums.MappingActive,
				Modifications:        []models.MappingModification{{At: h.now().UTC(), Kind: string(channels.ReservationNew), Payload: raw}},
			})
		},
	}
}

func (h *Handler) amend(ctx context.Context, ch *models.Channel, b *models.Booking, res channels.Reservation) (Outcome, error) {
	if b.Status.IsTerminal() && res.Kind == channels.ReservationNew {
		h.logg.Info(ctx, fmt.Sprintf("replayed reservation for %s booking acknowledged", b.Status))
		return ack(ActionDuplicate, b.ID), nil
	}
	if b.Status.IsTerminal() {
		h.logg.Warn(ctx, fmt.Sprintf("amendment for %s booking ignored", b.Status))
		return Outcome{Ack: false, Action: ActionRejected, BookingID: &b.ID, Reason: ReasonNotAmendable}, nil
	}

	roomTypeID := b.RoomTypeID
	if res.ChannelRoomTypeID != "" {
		resolved, err := h.registry.ResolveInternalRoomType(ctx, ch.ID, res.ChannelRoomTypeID)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeMappingMissing) {
				h.recordRefusal(ctx, ch, res, ReasonMappingMissing, audit.TagMappingMissing, err)
				return nack(ReasonMappingMissing), nil
			}
			return Outcome{}, err
		}
		roomTypeID = resolved
	}

	changes, kind := Diff(b, res, roomTypeID)
	if changes.IsEmpty() || pendingAlready(b, changes) {
		return ack(ActionDuplicate, b.ID), nil
	}

	updated, err := h.bookings.ProcessOTAAmendment(ctx, bookings.AmendmentInput{
		BookingID:        b.ID,
		Type:             kind,
		Channel:          ch.Code,
		RequestedChanges: changes,
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) || pkgerrors.Is(err, pkgerrors.CodeValidation) {
			h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "amendment refused by booking")
			return Outcome{Ack: false, Action: ActionRejected, BookingID: &b.ID, Reason: ReasonNotAmendable}, nil
		}
		return Outcome{}, err
	}
	if err := h.trackMapping(ctx, ch.ID, res, enums.MappingModified); err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "reservation mapping not updated")
	}
	h.logg.Info(ctx, fmt.Sprintf("amendment %s queued for review", kind))
	return ack(ActionAmended, updated.ID), nil
}

func (h *Handler) cancel(ctx context.Context, ch *models.Channel, b *models.Booking, res channels.Reservation) (Outcome, error) {
	if b.Status == enums.BookingStatusCancelled {
		return ack(ActionDuplicate, b.ID), nil
	}
	_, err := h.bookings.ChangeStatus(ctx, bookings.ChangeStatusInput{
		BookingID: b.ID,
		To:        enums.BookingStatusCancelled,
		Source:    enums.SourceOTA,
		Reason:    "cancelled by " + ch.Code,
		Options:   bookings.Options{BypassCancellationPolicy: true},
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) {
			h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "cancellation refused by booking")
			return Outcome{Ack: false, Action: ActionRejected, BookingID: &b.ID, Reason: ReasonNotAmendable}, nil
		}
		return Outcome{}, err
	}
	if err := h.trackMapping(ctx, ch.ID, res, enums.MappingCancelled); err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "reservation mapping not updated")
	}
	h.logg.Info(ctx, "inbound cancellation applied")
	return ack(ActionCancelled, b.ID), nil
}

func (h *Handler) trackMapping(ctx context.Context, channelID uuid.UUID, res channels.Reservation, status enums.ReservationMappingStatus) error {
	m, err := h.repo.Find(ctx, channelID, res.ChannelBookingID)
	if err != nil {
		return err
	}
	payload := res.Raw
	if len(payload) == 0 {
		payload, _ = json.Marshal(res)
	}
	mods := append(m.Modifications, models.MappingModification{At: h.now().UTC(), Kind: string(res.Kind), Payload: payload})
	return h.repo.Record(ctx, m.ID, status, mods)
}

// recordRefusal writes the refusal audit row and, for inventory rejections,
// the outbox event in one transaction.
func (h *Handler) recordRefusal(ctx context.Context, ch *models.Channel, res channels.Reservation, reason, tag string, cause error) {
	correlationID := pkgerrors.CorrelationID(cause)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = h.logg.WithCorrelationID(ctx, correlationID)
	h.logg.Warn(h.logg.WithField(ctx, "reason", reason), "inbound reservation refused")

	hotelID := ch.HotelID
	changeType := enums.AuditRejectedByInventory
	if tag == audit.TagMappingMissing {
		changeType = enums.AuditCreate
	}
	entry := audit.Entry{
		HotelID:    &hotelID,
		Table:      audit.TableReservations,
		RecordID:   ch.Code + ":" + res.ChannelBookingID,
		ChangeType: changeType,
		Source:     ch.Code,
		NewValues: map[string]any{
			"channelRoomTypeId": res.ChannelRoomTypeID,
			"checkIn":           types.FormatDay(res.CheckIn),
			"checkOut":          types.FormatDay(res.CheckOut),
			"rooms":             res.Rooms,
			"reason":            reason,
		},
		Tags:          []string{tag},
		CorrelationID: correlationID,
	}
	err := h.tx.WithTx(ctx, func(tx *gorm.DB) error {
		h.recordAudit(ctx, tx, entry)
		if h.outbox == nil || tag != audit.TagRejectedByInventory {
			return nil
		}
		_, err := h.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationRejected,
			AggregateType: enums.AggregateReservationInbox,
			AggregateID:   ch.ID,
			Actor:         &outbox.ActorRef{Source: string(enums.SourceOTA)},
			CorrelationID: correlationID,
			Data: payloads.ReservationRejectedEvent{
				HotelID:          ch.HotelID,
				Source:           ch.Code,
				ChannelBookingID: res.ChannelBookingID,
				Reason:           reason,
				CorrelationID:    correlationID,
			},
		})
		return err
	})
	if err != nil {
		h.logg.Error(ctx, "failed to record inbound refusal", err)
	}
}

func (h *Handler) recordAudit(ctx context.Context, tx *gorm.DB, entry audit.Entry) {
	if h.audit == nil {
		return
	}
	if _, err := h.audit.Record(ctx, tx, entry); err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "audit write failed")
	}
}

// Diff returns the fields of res that differ from b and the amendment type
// that best describes them.
func Diff(b *models.Booking, res channels.Reservation, roomTypeID uuid.UUID) (models.StayChanges, enums.AmendmentType) {
	var c models.StayChanges
	var kinds []enums.AmendmentType

	in, out := types.Day(res.CheckIn), types.Day(res.CheckOut)
	if !res.CheckIn.IsZero() && !in.Equal(types.Day(b.CheckIn)) {
		c.CheckIn = &in
	}
	if !res.CheckOut.IsZero() && !out.Equal(types.Day(b.CheckOut)) {
		c.CheckOut = &out
	}
	if c.CheckIn != nil || c.CheckOut != nil {
		kinds = append(kinds, enums.AmendmentDateChange)
	}

	if roomTypeID != uuid.Nil && roomTypeID != b.RoomTypeID {
		id := roomTypeID
		c.RoomTypeID = &id
	}
	if res.Rooms > 0 && res.Rooms != b.RoomCount {
		n := res.Rooms
		c.RoomCount = &n
	}
	if c.RoomTypeID != nil || c.RoomCount != nil {
		kinds = append(kinds, enums.AmendmentRoomChange)
	}

	if !res.TotalAmount.IsZero() && !res.TotalAmount.Equal(b.TotalAmount) {
		amount := res.TotalAmount
		c.TotalAmount = &amount
		kinds = append(kinds, enums.AmendmentRateChange)
	}

	guest := false
	if name := strings.TrimSpace(res.GuestName); name != "" && name != b.GuestName {
		c.GuestName = &name
		guest = true
	}
	if email := strings.TrimSpace(res.GuestEmail); email != "" && !strings.EqualFold(email, b.GuestEmail) {
		c.GuestEmail = &email
		guest = true
	}
	if res.Adults > 0 && res.Adults != b.Adults {
		n := res.Adults
		c.Adults = &n
		guest = true
	}
	if res.Children != b.Children && (res.Adults > 0 || res.Children > 0) {
		n := res.Children
		c.Children = &n
		guest = true
	}
	if guest {
		kinds = append(kinds, enums.AmendmentGuestChange)
	}

	switch len(kinds) {
	case 0:
		return c, enums.AmendmentOther
	case 1:
		return c, kinds[0]
	}
	if kinds[0] == enums.AmendmentDateChange || kinds[0] == enums.AmendmentRoomChange {
		return c, kinds[0]
	}
	return c, enums.AmendmentOther
}

// pendingAlready reports whether an identical amendment is still awaiting review.
func pendingAlready(b *models.Booking, changes models.StayChanges) bool {
	want, err := json.Marshal(changes)
	if err != nil {
		return false
	}
	for _, a := range b.PendingAmendments() {
		got, err := json.Marshal(a.RequestedChanges)
		if err == nil && bytes.Equal(got, want) {
			return true
		}
	}
	return false
}

func validate(res channels.Reservation) error {
	switch {
	case res.HotelID == uuid.Nil:
		return errors.New("hotel id missing")
	case strings.TrimSpace(res.ChannelBookingID) == "":
		return errors.New("channel booking id missing")
	case strings.TrimSpace(res.Source) == "" && res.ChannelID == uuid.Nil:
		return errors.New("source missing")
	}
	switch res.Kind {
	case channels.ReservationNew, channels.ReservationModify:
		if res.CheckIn.IsZero() || !types.Day(res.CheckOut).After(types.Day(res.CheckIn)) {
			return errors.New("stay dates invalid")
		}
	case channels.ReservationCancel:
	default:
		return fmt.Errorf("unknown reservation kind %q", res.Kind)
	}
	return nil
}

func roomsOr(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
