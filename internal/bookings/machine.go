package bookings

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
)

var transitions = map[enums.BookingStatus][]enums.BookingStatus{
	enums.BookingStatusPending:    {enums.BookingStatusConfirmed, enums.BookingStatusCancelled, enums.BookingStatusModified},
	enums.BookingStatusConfirmed:  {enums.BookingStatusCheckedIn, enums.BookingStatusCancelled, enums.BookingStatusNoShow, enums.BookingStatusModified},
	enums.BookingStatusModified:   {enums.BookingStatusConfirmed, enums.BookingStatusCancelled, enums.BookingStatusCheckedIn, enums.BookingStatusNoShow},
	enums.BookingStatusCheckedIn:  {enums.BookingStatusCheckedOut},
	enums.BookingStatusCheckedOut: {},
	enums.BookingStatusCancelled:  {},
	enums.BookingStatusNoShow:     {enums.BookingStatusCancelled},
}

// AllowedTransitions lists the statuses reachable from from.
func AllowedTransitions(from enums.BookingStatus) []enums.BookingStatus {
	out := make([]enums.BookingStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// CanTransition reports whether the matrix permits from → to.
func CanTransition(from, to enums.BookingStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Options relax individual business rules for a transition.
type Options struct {
	BypassAmendmentCheck     bool `json:"bypassAmendmentCheck"`
	EarlyCheckIn             bool `json:"earlyCheckIn"`
	BypassCancellationPolicy bool `json:"bypassCancellationPolicy"`
	ManualNoShow             bool `json:"manualNoShow"`
	ForceModified            bool `json:"forceModified"`
}

// StatusChange is one requested transition and who asked for it.
type StatusChange struct {
	To        enums.BookingStatus
	Source    enums.StatusSource
	UserID    *uuid.UUID
	Reason    string
	Automatic bool
	Options   Options
	At        time.Time
}

// Policy holds the configurable time windows of the business rules.
type Policy struct {
	CancellationGrace time.Duration
	NoShowGrace       time.Duration
}

// DefaultPolicy is 24 h cancellation notice and a 2 h no-show grace.
var DefaultPolicy = Policy{CancellationGrace: 24 * time.Hour, NoShowGrace: 2 * time.Hour}

// Effects is the side-effect set a transition asks its caller to carry out.
type Effects struct {
	NeedsSync             bool `json:"needsSync"`
	NeedsRelease          bool `json:"needsRelease"`
	NeedsRefund           bool `json:"needsRefund"`
	NeedsRoomStatusUpdate bool `json:"needsRoomStatusUpdate"`
	NeedsAutomation       bool `json:"needsAutomation"`
	NeedsFinalBilling     bool `json:"needsFinalBilling"`
	NeedsPenalty          bool `json:"needsPenalty"`
}

// Rule names reported in INVALID_TRANSITION details.
const (
	RuleMatrix             = "transition_matrix"
	RuleHoldExpired        = "hold_expired"
	RulePaymentFailed      = "payment_failed"
	RulePendingAmendments  = "pending_amendments"
	RuleTooEarlyCheckIn    = "check_in_not_reached"
	RuleCancellationPolicy = "cancellation_policy"
	RuleNoShowGrace        = "no_show_grace"
	RuleNoAmendment        = "no_pending_amendment"
	RuleClosedBooking      = "closed_booking"
)

// Validate checks the transition matrix and the business rule of the target state.
func Validate(b *models.Booking, change StatusChange, policy Policy) error {
	from, to := b.Status, change.To
	if !to.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid booking status %q", to)
	}
	if !CanTransition(from, to) {
		return invalidTransition(from, to, RuleMatrix, "transition not allowed")
	}
	now := change.At

	if from == enums.BookingStatusPending && b.ReservedUntil != nil && now.After(*b.ReservedUntil) &&
		!(to == enums.BookingStatusCancelled && change.Source == enums.SourceSystem) {
		return invalidTransition(from, to, RuleHoldExpired, "hold expired; only system cancellation is allowed")
	}

	switch to {
	case enums.BookingStatusConfirmed:
		if b.PaymentStatus == enums.PaymentStatusFailed {
			return invalidTransition(from, to, RulePaymentFailed, "payment failed")
		}
		if b.AmendmentFlags.HasActivePendingAmendments && !change.Options.BypassAmendmentCheck {
			return invalidTransition(from, to, RulePendingAmendments, "booking has pending amendments")
		}
	case enums.BookingStatusCheckedIn:
		if now.Before(b.CheckIn) && !change.Options.EarlyCheckIn {
			return invalidTransition(from, to, RuleTooEarlyCheckIn, "check-in date not reached")
		}
	case enums.BookingStatusCancelled:
		if (change.Source == enums.SourceGuest || change.Source == enums.SourceOTA) && !change.Options.BypassCancellationPolicy {
			if b.CheckIn.Sub(now) <= policy.CancellationGrace {
				return invalidTransition(from, to, RuleCancellationPolicy, "cancellation window has closed")
			}
		}
	case enums.BookingStatusNoShow:
		if now.Sub(b.CheckIn) < policy.NoShowGrace && !change.Options.ManualNoShow {
			return invalidTransition(from, to, RuleNoShowGrace, "no-show grace period has not elapsed")
		}
	case enums.BookingStatusModified:
		if !b.AmendmentFlags.HasActivePendingAmendments && !change.Options.ForceModified {
			return invalidTransition(from, to, RuleNoAmendment, "no pending amendment")
		}
	}
	return nil
}

// Transition validates change and applies it to b in place, returning the
// side effects the caller must run in the same unit of work.
func Transition(b *models.Booking, change StatusChange, policy Policy) (Effects, error) {
	if change.At.IsZero() {
		change.At = time.Now()
	}
	change.At = change.At.UTC()
	if !change.Source.IsValid() {
		return Effects{}, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status source %q", change.Source)
	}
	if err := Validate(b, change, policy); err != nil {
		return Effects{}, err
	}

	now := change.At
	from := b.Status
	var fx Effects

	switch change.To {
	case enums.BookingStatusConfirmed:
		if b.Source != string(enums.SourceDirect) {
			fx.NeedsSync = true
		}
	case enums.BookingStatusCheckedIn:
		b.ActualCheckIn = &now
		fx.NeedsRoomStatusUpdate = true
	case enums.BookingStatusCheckedOut:
		b.ActualCheckOut = &now
		fx.NeedsFinalBilling = true
		fx.NeedsAutomation = !b.AutomationOptOut
	case enums.BookingStatusCancelled:
		fx.NeedsRelease = true
		fx.NeedsRefund = b.PaymentStatus == enums.PaymentStatusPaid
		fx.NeedsSync = true
		if change.Reason != "" {
			reason := change.Reason
			b.CancellationReason = &reason
		}
		closePendingAmendments(b, "booking cancelled", now)
	case enums.BookingStatusNoShow:
		b.NoShowRecordedAt = &now
		fx.NeedsPenalty = true
	}

	b.ReservedUntil = nil
	if fx.NeedsSync {
		b.NeedsSync = true
	}
	b.Status = change.To
	b.LastStatusChange = &now
	b.StatusHistory = append(b.StatusHistory, models.StatusHistoryEntry{
		From:      from,
		To:        change.To,
		At:        now,
		Source:    change.Source,
		UserID:    change.UserID,
		Reason:    change.Reason,
		Automatic: change.Automatic,
		Validated: true,
	})
	return fx, nil
}

// Seed starts the status history of a new booking.
func Seed(b *models.Booking, status enums.BookingStatus, source enums.StatusSource, userID *uuid.UUID, at time.Time) {
	at = at.UTC()
	b.Status = status
	b.LastStatusChange = &at
	b.StatusHistory = []models.StatusHistoryEntry{{
		To:        status,
		At:        at,
		Source:    source,
		UserID:    userID,
		Reason:    "created",
		Validated: true,
	}}
}

// HistoryConsistent reports whether the history is time ordered and every
// consecutive pair follows the matrix.
func HistoryConsistent(history []models.StatusHistoryEntry) bool {
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		if cur.At.Before(prev.At) || cur.From != prev.To || !CanTransition(cur.From, cur.To) {
			return false
		}
	}
	return true
}

// closePendingAmendments rejects every amendment still waiting on b.
func closePendingAmendments(b *models.Booking, reason string, at time.Time) {
	for i := range b.OTAAmendments {
		a := &b.OTAAmendments[i]
		if a.Status != enums.AmendmentPending {
			continue
		}
		a.Status = enums.AmendmentRejected
		a.RejectionReason = reason
		a.ResolvedAt = &at
		a.ResolvedBy = string(enums.SourceSystem)
	}
	b.AmendmentFlags.HasActivePendingAmendments = false
	b.AmendmentFlags.RequiresReconfirmation = false
}

// acceptsStayChanges reports whether a booking in status can still have its
// stay rewritten by an amendment.
func acceptsStayChanges(status enums.BookingStatus) bool {
	switch status {
	case enums.BookingStatusCancelled, enums.BookingStatusCheckedOut, enums.BookingStatusNoShow:
		return false
	}
	return true
}

func invalidTransition(from, to enums.BookingStatus, rule, message string) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "cannot move booking from %s to %s: %s", from, to, message).
		WithDetails(map[string]any{
			"from":    from,
			"to":      to,
			"rule":    rule,
			"allowed": AllowedTransitions(from),
		})
}
