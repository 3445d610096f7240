package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/validation"
)

// Sealer encrypts credential blobs bound to their owner.
type Sealer interface {
	SealJSON(v any, additional []byte) ([]byte, error)
	OpenJSON(sealed, additional []byte, v any) error
}

// Service is the channel registry.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Channel, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	List(ctx context.Context, hotelID uuid.UUID) ([]models.Channel, error)
	ListConnected(ctx context.Context, hotelID uuid.UUID) ([]models.Channel, error)
	ListAllConnected(ctx context.Context) ([]models.Channel, error)
	FindForSource(ctx context.Context, hotelID uuid.UUID, source string) (*models.Channel, error)

	UpdateSettings(ctx context.Context, id uuid.UUID, settings models.ChannelSettings) (*models.Channel, error)
	UpdateRateParity(ctx context.Context, id uuid.UUID, parity models.RateParitySettings) (*models.Channel, error)
	SetCredentials(ctx context.Context, id uuid.UUID, creds Credentials) error
	SetRoomMappings(ctx context.Context, id uuid.UUID, mappings []models.RoomMapping) (*models.Channel, error)
	ResolveRoomMapping(channel *models.Channel, roomTypeID uuid.UUID) (models.RoomMapping, error)
	ResolveInternalRoomType(ctx context.Context, channelID uuid.UUID, channelRoomTypeID string) (uuid.UUID, error)

	MarkLastSync(ctx context.Context, id uuid.UUID, at time.Time, kinds ...SyncKind) error
	UpdateConnectionStatus(ctx context.Context, id uuid.UUID, status enums.ConnectionStatus, lastErr string) error
	TestConnection(ctx context.Context, id uuid.UUID) (EndpointStatus, error)

	Connection(channel *models.Channel) (Connection, error)
	Adaptor(category enums.ChannelCategory) (Adaptor, error)
}

type service struct {
	repo     Repository
	adaptors *Adaptors
	sealer   Sealer
	audit    audit.Service
	logg     *logger.Logger
	now      func() time.Time
	syncMu   sync.Mutex
}

// NewService wires the registry. auditSvc and logg may be nil.
func NewService(repo Repository, adaptors *Adaptors, sealer Sealer, auditSvc audit.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("channel repository required")
	}
	if adaptors == nil {
		return nil, fmt.Errorf("adaptor registry required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("credential sealer required")
	}
	return &service{repo: repo, adaptors: adaptors, sealer: sealer, audit: auditSvc, logg: logg, now: time.Now}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Channel, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.Category.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid channel category %q", input.Category)
	}
	if _, err := s.adaptors.Get(input.Category); err != nil {
		return nil, err
	}
	if err := validateMappings(input.RoomMappings); err != nil {
		return nil, err
	}
	settings, err := normalizeSettings(input.Settings)
	if err != nil {
		return nil, err
	}
	ch := &models.Channel{
		ID:               uuid.New(),
		HotelID:          input.HotelID,
		Code:             strings.ToLower(strings.TrimSpace(input.Code)),
		Name:             strings.TrimSpace(input.Name),
		Category:         input.Category,
		Settings:         settings,
		RoomMappings:     input.RoomMappings,
		RateParity:       input.RateParity,
		ConnectionStatus: enums.ConnectionPending,
	}
	sealed, err := s.sealer.SealJSON(input.Credentials, ch.ID[:])
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal channel credentials")
	}
	ch.Credentials = sealed
	ch.CredentialsVersion = 1

	if err := s.repo.Create(ctx, ch); err != nil {
		if db.IsUniqueViolation(err, "ux_channels_hotel_code") {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "channel code already registered for hotel")
		}
		return nil, err
	}
	s.record(ctx, ch, enums.AuditCreate, input.Actor, nil, redacted(ch))
	return ch, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	ch, err := s.repo.Find(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "channel not found")
		}
		return nil, err
	}
	return ch, nil
}

func (s *service) List(ctx context.Context, hotelID uuid.UUID) ([]models.Channel, error) {
	return s.repo.ListByHotel(ctx, hotelID)
}

func (s *service) ListConnected(ctx context.Context, hotelID uuid.UUID) ([]models.Channel, error) {
	return s.repo.ListConnected(ctx, hotelID)
}

func (s *service) ListAllConnected(ctx context.Context) ([]models.Channel, error) {
	return s.repo.ListAllConnected(ctx)
}

// FindForSource returns the hotel's channel whose code or category equals source.
func (s *service) FindForSource(ctx context.Context, hotelID uuid.UUID, source string) (*models.Channel, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	list, err := s.repo.ListByHotel(ctx, hotelID)
	if err != nil {
		return nil, err
	}
	var byCategory *models.Channel
	for i := range list {
		if list[i].Code == source {
			return &list[i], nil
		}
		if byCategory == nil && string(list[i].Category) == source {
			byCategory = &list[i]
		}
	}
	if byCategory != nil {
		return byCategory, nil
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "no channel %q for hotel", source)
}

func (s *service) UpdateSettings(ctx context.Context, id uuid.UUID, settings models.ChannelSettings) (*models.Channel, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	settings, err = normalizeSettings(settings)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, id, map[string]any{"settings": string(raw)}); err != nil {
		return nil, err
	}
	after := *before
	after.Settings = settings
	s.record(ctx, &after, enums.AuditUpdate, "", map[string]any{"settings": before.Settings}, map[string]any{"settings": settings})
	return &after, nil
}

func (s *service) UpdateRateParity(ctx context.Context, id uuid.UUID, parity models.RateParitySettings) (*models.Channel, error) {
	if parity.VariancePct < 0 || parity.VariancePct > 100 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variancePct must be between 0 and 100")
	}
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(parity)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, id, map[string]any{"rate_parity": string(raw)}); err != nil {
		return nil, err
	}
	after := *before
	after.RateParity = parity
	s.record(ctx, &after, enums.AuditUpdate, "", map[string]any{"rateParity": before.RateParity}, map[string]any{"rateParity": parity})
	return &after, nil
}

func (s *service) SetCredentials(ctx context.Context, id uuid.UUID, creds Credentials) error {
	ch, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sealed, err := s.sealer.SealJSON(creds, ch.ID[:])
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal channel credentials")
	}
	if err := s.repo.Update(ctx, id, map[string]any{
		"credentials":         sealed,
		"credentials_version": ch.CredentialsVersion + 1,
		"connection_status":   enums.ConnectionPending,
	}); err != nil {
		return err
	}
	s.record(ctx, ch, enums.AuditUpdate, "", nil, map[string]any{"credentialsVersion": ch.CredentialsVersion + 1})
	return nil
}

func (s *service) SetRoomMappings(ctx context.Context, id uuid.UUID, mappings []models.RoomMapping) (*models.Channel, error) {
	if err := validateMappings(mappings); err != nil {
		return nil, err
	}
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(mappings)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, id, map[string]any{"room_mappings": string(raw)}); err != nil {
		return nil, err
	}
	after := *before
	after.RoomMappings = mappings
	s.record(ctx, &after, enums.AuditUpdate, "", map[string]any{"roomMappings": before.RoomMappings}, map[string]any{"roomMappings": mappings})
	return &after, nil
}

// ResolveRoomMapping returns MAPPING_MISSING when the room type is not mapped.
func (s *service) ResolveRoomMapping(channel *models.Channel, roomTypeID uuid.UUID) (models.RoomMapping, error) {
	if m, ok := channel.MappingFor(roomTypeID); ok && m.ChannelRoomTypeID != "" {
		return m, nil
	}
	return models.RoomMapping{}, pkgerrors.New(pkgerrors.CodeMappingMissing, "room type is not mapped on channel").
		WithDetails(map[string]any{"channelId": channel.ID.String(), "roomTypeId": roomTypeID.String()})
}

func (s *service) ResolveInternalRoomType(ctx context.Context, channelID uuid.UUID, channelRoomTypeID string) (uuid.UUID, error) {
	ch, err := s.Get(ctx, channelID)
	if err != nil {
		return uuid.Nil, err
	}
	want := strings.TrimSpace(channelRoomTypeID)
	for _, m := range ch.RoomMappings {
		if strings.EqualFold(m.ChannelRoomTypeID, want) {
			return m.HotelRoomTypeID, nil
		}
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeMappingMissing, "channel room type is not mapped").
		WithDetails(map[string]any{"channelId": channelID.String(), "channelRoomTypeId": want})
}

// MarkLastSync advances the given per-kind markers; markers never move backwards.
func (s *service) MarkLastSync(ctx context.Context, id uuid.UUID, at time.Time, kinds ...SyncKind) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	ch, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	at = at.UTC()
	last := ch.LastSync
	for _, kind := range kinds {
		switch kind {
		case SyncRates:
			last.Rates = later(last.Rates, at)
		case SyncInventory:
			last.Inventory = later(last.Inventory, at)
		case SyncRestrictions:
			last.Restrictions = later(last.Restrictions, at)
		case SyncReservations:
			last.Reservations = later(last.Reservations, at)
		default:
			return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown sync kind %q", kind)
		}
	}
	return s.repo.UpdateLastSync(ctx, id, last)
}

func (s *service) UpdateConnectionStatus(ctx context.Context, id uuid.UUID, status enums.ConnectionStatus, lastErr string) error {
	if !status.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid connection status %q", status)
	}
	updates := map[string]any{"connection_status": status, "last_error": nil}
	if lastErr != "" {
		updates["last_error"] = lastErr
	}
	if err := s.repo.Update(ctx, id, updates); err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "channel not found")
		}
		return err
	}
	return nil
}

// TestConnection probes the channel with its credentials and records the
// resulting connection status.
func (s *service) TestConnection(ctx context.Context, id uuid.UUID) (EndpointStatus, error) {
	ch, err := s.Get(ctx, id)
	if err != nil {
		return EndpointStatus{}, err
	}
	adaptor, err := s.adaptors.Get(ch.Category)
	if err != nil {
		return EndpointStatus{}, err
	}
	conn, err := s.Connection(ch)
	if err != nil {
		return EndpointStatus{}, err
	}
	start := s.now()
	testErr := adaptor.TestConnection(ctx, conn)
	status := EndpointStatus{OK: testErr == nil, LatencyMs: s.now().Sub(start).Milliseconds()}
	if testErr != nil {
		status.Error = testErr.Error()
		if err := s.UpdateConnectionStatus(ctx, id, enums.ConnectionError, testErr.Error()); err != nil {
			return status, err
		}
		if s.logg != nil {
			logCtx := s.logg.WithChannelID(ctx, id.String())
			s.logg.Warn(logCtx, fmt.Sprintf("channel connection test failed: %v", testErr))
		}
		return status, nil
	}
	return status, s.UpdateConnectionStatus(ctx, id, enums.ConnectionConnected, "")
}

// Connection decrypts the channel credentials for handing to its adaptor.
func (s *service) Connection(channel *models.Channel) (Connection, error) {
	var creds Credentials
	if len(channel.Credentials) > 0 {
		if err := s.sealer.OpenJSON(channel.Credentials, channel.ID[:], &creds); err != nil {
			return Connection{}, pkgerrors.Wrap(pkgerrors.CodeAdaptor, err, "open channel credentials")
		}
	}
	return Connection{
		ChannelID:   channel.ID,
		HotelID:     channel.HotelID,
		Code:        channel.Code,
		Category:    channel.Category,
		Settings:    channel.Settings,
		Credentials: creds,
	}, nil
}

func (s *service) Adaptor(category enums.ChannelCategory) (Adaptor, error) {
	return s.adaptors.Get(category)
}

func (s *service) record(ctx context.Context, ch *models.Channel, changeType enums.AuditChangeType, actor string, oldValues, newValues any) {
	if s.audit == nil {
		return
	}
	_, err := s.audit.Record(ctx, nil, audit.Entry{
		HotelID:    &ch.HotelID,
		Table:      audit.TableChannels,
		RecordID:   ch.ID.String(),
		ChangeType: changeType,
		Source:     actor,
		OldValues:  oldValues,
		NewValues:  newValues,
	})
	if err != nil && s.logg != nil {
		s.logg.Warn(ctx, fmt.Sprintf("channel audit failed: %v", err))
	}
}

func validateMappings(mappings []models.RoomMapping) error {
	seenHotel := map[uuid.UUID]bool{}
	seenChannel := map[string]bool{}
	for _, m := range mappings {
		if m.HotelRoomTypeID == uuid.Nil || strings.TrimSpace(m.ChannelRoomTypeID) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "room mapping needs both hotel and channel room type")
		}
		key := strings.ToLower(m.ChannelRoomTypeID)
		if seenHotel[m.HotelRoomTypeID] || seenChannel[key] {
			return pkgerrors.New(pkgerrors.CodeValidation, "room mappings must be one to one")
		}
		seenHotel[m.HotelRoomTypeID] = true
		seenChannel[key] = true
	}
	return nil
}

// normalizeSettings applies defaults and requires a supported ISO currency
// when one is set. An empty currency falls back to the hotel's.
func normalizeSettings(s models.ChannelSettings) (models.ChannelSettings, error) {
	s = withDefaults(s)
	if code := strings.ToUpper(strings.TrimSpace(s.Currency)); code != "" {
		currency, err := enums.ParseCurrency(code)
		if err != nil {
			return s, pkgerrors.New(pkgerrors.CodeValidation, err.Error())
		}
		s.Currency = currency.String()
	}
	return s, nil
}

func withDefaults(s models.ChannelSettings) models.ChannelSettings {
	if s.SyncFrequencySeconds <= 0 {
		s.SyncFrequencySeconds = 300
	}
	if !s.EnableRateSync && !s.EnableInventorySync && !s.EnableRestrictionSync {
		s.EnableRateSync, s.EnableInventorySync, s.EnableRestrictionSync = true, true, true
	}
	if s.MaxLeadTimeDays <= 0 {
		s.MaxLeadTimeDays = 365
	}
	return s
}

func later(current *time.Time, at time.Time) *time.Time {
	if current != nil && current.After(at) {
		return current
	}
	return &at
}

func redacted(ch *models.Channel) map[string]any {
	return map[string]any{
		"code":         ch.Code,
		"name":         ch.Name,
		"category":     ch.Category,
		"settings":     ch.Settings,
		"roomMappings": ch.RoomMappings,
		"rateParity":   ch.RateParity,
	}
}
