package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelcore-backend/pkg/correlation"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
)

// Tags shared by the components writing audit entries.
const (
	TagSyncSuccess         = "sync_success"
	TagSyncFailure         = "sync_failure"
	TagSyncDeadLetter      = "sync_dead_letter"
	TagRejectedByInventory = "rejected_by_inventory"
	TagReconciliation      = "reconciliation_required"
	TagRateParity          = "rate_parity"
	TagStatusChange        = "status_change"
	TagAmendment           = "ota_amendment"
	TagPriceChange         = "price_change"
	TagOverbooked          = "overbooked"
	TagMappingMissing      = "mapping_missing"
	TagTerminalError       = "terminal_error"
	defaultListLimit       = 100
	maxListLimit           = 1000
)

// Table names used as audit subjects.
const (
	TableAvailability = "availability_rows"
	TableBookings     = "bookings"
	TableChannels     = "channels"
	TableRules        = "stop_sell_rules"
	TableOverbooking  = "overbooking_rules"
	TableReservations = "reservation_mappings"
)

// Entry is the input for one audit row.
type Entry struct {
	HotelID       *uuid.UUID
	Table         string
	RecordID      string
	ChangeType    enums.AuditChangeType
	Source        string
	OldValues     any
	NewValues     any
	Tags          []string
	Extra         map[string]any
	CorrelationID string
	At            time.Time
}

// Service records and reads the append-only audit trail.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.AuditLog, error)
	RecordFailure(ctx context.Context, tx *gorm.DB, entry Entry, cause error) error
	ListByRecord(ctx context.Context, table, recordID string) ([]models.AuditLog, error)
	ListByTag(ctx context.Context, hotelID *uuid.UUID, tag string, limit int) ([]models.AuditLog, error)
	DeadLetters(ctx context.Context, hotelID *uuid.UUID, limit int) ([]models.AuditLog, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]models.AuditLog, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.AuditLog, error) {
	if strings.TrimSpace(entry.Table) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "audit table is required")
	}
	if strings.TrimSpace(entry.RecordID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "audit record id is required")
	}
	if !entry.ChangeType.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid audit change type %q", entry.ChangeType)
	}
	if entry.Source == "" {
		entry.Source = string(enums.SourceSystem)
	}
	if entry.At.IsZero() {
		entry.At = s.now()
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = correlation.From(ctx)
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}

	oldValues, err := marshalValues(entry.OldValues)
	if err != nil {
		return nil, fmt.Errorf("marshal old values: %w", err)
	}
	newValues, err := marshalValues(entry.NewValues)
	if err != nil {
		return nil, fmt.Errorf("marshal new values: %w", err)
	}

	row := &models.AuditLog{
		HotelID:       entry.HotelID,
		Entity:        entry.Table,
		RecordID:      entry.RecordID,
		ChangeType:    entry.ChangeType,
		Source:        entry.Source,
		OldValues:     oldValues,
		NewValues:     newValues,
		Metadata:      models.AuditMetadata{Tags: entry.Tags, Extra: entry.Extra},
		Tags:          joinTags(entry.Tags),
		CorrelationID: entry.CorrelationID,
		Timestamp:     entry.At.UTC(),
	}
	if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// RecordFailure writes an audit row for a terminal error and stamps the same
// correlation id onto the returned error.
func (s *service) RecordFailure(ctx context.Context, tx *gorm.DB, entry Entry, cause error) error {
	if cause == nil {
		return nil
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = pkgerrors.CorrelationID(cause)
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
	}
	if entry.Extra == nil {
		entry.Extra = map[string]any{}
	}
	entry.Extra["error"] = cause.Error()
	entry.Extra["code"] = string(pkgerrors.CodeOf(cause))
	entry.Tags = appendUnique(entry.Tags, TagTerminalError)

	if _, err := s.Record(ctx, tx, entry); err != nil {
		return fmt.Errorf("%w (audit failed: %v)", cause, err)
	}
	if typed := pkgerrors.As(cause); typed != nil {
		typed.WithDetail("correlation_id", entry.CorrelationID)
		return cause
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, cause, cause.Error()).WithDetail("correlation_id", entry.CorrelationID)
}

func (s *service) ListByRecord(ctx context.Context, table, recordID string) ([]models.AuditLog, error) {
	return s.repo.ListByRecord(ctx, table, recordID)
}

func (s *service) ListByTag(ctx context.Context, hotelID *uuid.UUID, tag string, limit int) ([]models.AuditLog, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tag is required")
	}
	return s.repo.ListByTag(ctx, hotelID, tag, clampLimit(limit))
}

func (s *service) DeadLetters(ctx context.Context, hotelID *uuid.UUID, limit int) ([]models.AuditLog, error) {
	return s.repo.ListByTag(ctx, hotelID, TagSyncDeadLetter, clampLimit(limit))
}

func (s *service) FindByCorrelationID(ctx context.Context, correlationID string) ([]models.AuditLog, error) {
	return s.repo.FindByCorrelationID(ctx, correlationID)
}

func (s *service) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "cutoff is required")
	}
	return s.repo.DeleteBefore(ctx, cutoff.UTC())
}

func marshalValues(v any) (json.RawMessage, error) {
	switch typed := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return typed, nil
	}
	return json.Marshal(v)
}

// tagToken wraps a tag in delimiters so LIKE matches whole tags only.
func tagToken(tag string) string {
	return "|" + strings.TrimSpace(tag) + "|"
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range tags {
		b.WriteString(tagToken(t))
	}
	return b.String()
}

func appendUnique(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
