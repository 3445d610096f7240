package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/channelcore-backend/internal/bookings"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	pkgAuth "github.com/angelmondragon/channelcore-backend/pkg/auth"
	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
)

type stubLedger struct {
	mu       sync.Mutex
	requests []inventory.RequestSyncInput
}

func (s *stubLedger) RequestSync(_ context.Context, in inventory.RequestSyncInput) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, in)
	return 2, nil
}

func (s *stubLedger) Availability(context.Context, uuid.UUID, uuid.UUID, time.Time, time.Time, string) ([]inventory.RowView, error) {
	return []inventory.RowView{}, nil
}

type stubBookings struct {
	booking  *models.Booking
	resolved []bookings.ResolveAmendmentInput
}

func (s *stubBookings) Get(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	if s.booking == nil || s.booking.ID != id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
	}
	return s.booking, nil
}

func (s *stubBookings) List(context.Context, uuid.UUID, *enums.BookingStatus, int) ([]models.Booking, error) {
	return []models.Booking{}, nil
}

func (s *stubBookings) ResolveAmendment(_ context.Context, input bookings.ResolveAmendmentInput) (*models.Booking, error) {
	s.resolved = append(s.resolved, input)
	return s.booking, nil
}

type stubDeadLetters struct{}

func (stubDeadLetters) DeadLetters(context.Context, *uuid.UUID, int) ([]models.AuditLog, error) {
	return []models.AuditLog{}, nil
}

type stubOutboxDLQ struct {
	rows    []models.OutboxDLQ
	filters []outbox.DLQFilter
}

func (s *stubOutboxDLQ) List(_ context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error) {
	s.filters = append(s.filters, filter)
	return s.rows, nil
}

func (s *stubOutboxDLQ) FindByEventID(_ context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	for i := range s.rows {
		if s.rows[i].EventID == eventID {
			return &s.rows[i], nil
		}
	}
	return nil, nil
}

type stubRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (s *stubRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[jti], nil
}

func (s *stubRevocations) Revoke(_ context.Context, jti string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = true
	return nil
}

type memoryStore struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryStore) RateLimitKey(policy, dimension, subject string) string {
	return "rate_limit:" + policy + ":" + dimension + ":" + subject
}

func (m *memoryStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

type routerFixture struct {
	handler     http.Handler
	cfg         *config.Config
	ledger      *stubLedger
	bookings    *stubBookings
	revocations *stubRevocations
	dlq         *stubOutboxDLQ
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Env: "dev"},
		API: config.APIConfig{CORSOrigins: []string{"http://localhost:3000"}},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "channelcore", ExpirationMinutes: 30},
	}
	f := &routerFixture{
		cfg:         cfg,
		ledger:      &stubLedger{},
		bookings:    &stubBookings{},
		revocations: &stubRevocations{revoked: map[string]bool{}},
		dlq:         &stubOutboxDLQ{},
	}
	f.handler = NewRouter(Deps{
		Config:      cfg,
		Store:       newMemoryStore(),
		Revocations: f.revocations,
		Ledger:      f.ledger,
		Bookings:    f.bookings,
		DeadLetters: stubDeadLetters{},
		OutboxDLQ:   f.dlq,
	})
	return f
}

func (f *routerFixture) token(t *testing.T, role enums.OperatorRole, hotels ...uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(f.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		OperatorID: "ops-" + string(role),
		Role:       role,
		HotelIDs:   hotels,
	})
	require.NoError(t, err)
	return token
}

func (f *routerFixture) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthLiveIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", rec.Header().Get("X-ChannelCore-Env"))
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/admin/v1/ping", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestViewerCanReadButNotTriggerSync(t *testing.T) {
	f := newFixture(t)
	hotel := uuid.New()
	viewer := f.token(t, enums.OperatorRoleViewer)

	rec := f.do(http.MethodGet, "/api/admin/v1/hotels/"+hotel.String()+"/dead-letters", viewer, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/admin/v1/hotels/"+hotel.String()+"/sync", viewer,
		`{"from":"2026-11-01","to":"2026-11-05"}`, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.ledger.requests)
}

func TestAdminSyncTriggerIsIdempotent(t *testing.T) {
	f := newFixture(t)
	hotel := uuid.New()
	admin := f.token(t, enums.OperatorRoleAdmin)
	path := "/api/admin/v1/hotels/" + hotel.String() + "/sync"
	body := `{"from":"2026-11-01","to":"2026-11-05"}`

	rec := f.do(http.MethodPost, path, admin, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "idempotency key is required")

	rec = f.do(http.MethodPost, path, admin, body, "Idempotency-Key", "sync-1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = f.do(http.MethodPost, path, admin, body, "Idempotency-Key", "sync-1")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.ledger.requests, 1)
	got := f.ledger.requests[0]
	assert.Equal(t, hotel, got.HotelID)
	assert.Equal(t, "ops-admin", got.RequestedBy)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), got.From)
}

func TestHotelScopeRejectsOtherHotels(t *testing.T) {
	f := newFixture(t)
	allowed, other := uuid.New(), uuid.New()
	scoped := f.token(t, enums.OperatorRoleAdmin, allowed)

	rec := f.do(http.MethodGet, "/api/admin/v1/hotels/"+other.String()+"/bookings", scoped, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/v1/hotels/"+allowed.String()+"/bookings", scoped, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolveAmendmentHidesForeignBookings(t *testing.T) {
	f := newFixture(t)
	allowed := uuid.New()
	f.bookings.booking = &models.Booking{ID: uuid.New(), HotelID: uuid.New()}
	scoped := f.token(t, enums.OperatorRoleAdmin, allowed)

	path := fmt.Sprintf("/api/admin/v1/bookings/%s/amendments/%s/resolve", f.bookings.booking.ID, uuid.New())
	rec := f.do(http.MethodPost, path, scoped, `{"decision":"approved"}`, "Idempotency-Key", "r1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.bookings.resolved)

	unscoped := f.token(t, enums.OperatorRoleAdmin)
	rec = f.do(http.MethodPost, path, unscoped, `{"decision":"approved"}`, "Idempotency-Key", "r2")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.bookings.resolved, 1)
	assert.Equal(t, enums.AmendmentApproved, f.bookings.resolved[0].Decision)
	assert.Equal(t, "ops-admin", f.bookings.resolved[0].ResolvedBy)
}

func TestRevokedTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, enums.OperatorRoleAdmin)

	rec := f.do(http.MethodPost, "/api/admin/v1/session/revoke", admin, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/v1/ping", admin, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOutboxDeadLettersRequireGlobalAdmin(t *testing.T) {
	f := newFixture(t)
	eventID := uuid.New()
	f.dlq.rows = []models.OutboxDLQ{{
		ID:          uuid.New(),
		EventID:     eventID,
		EventType:   enums.EventSyncRequested,
		ErrorReason: enums.OutboxDLQReasonNonRetryable,
		Payload:     []byte(`{"version":1}`),
	}}

	rec := f.do(http.MethodGet, "/api/admin/v1/outbox/dead-letters", f.token(t, enums.OperatorRoleViewer), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodGet, "/api/admin/v1/outbox/dead-letters", f.token(t, enums.OperatorRoleAdmin, uuid.New()), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := f.token(t, enums.OperatorRoleAdmin)
	rec = f.do(http.MethodGet, "/api/admin/v1/outbox/dead-letters?reason=NON_RETRYABLE&limit=5", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.dlq.filters, 1)
	require.NotNil(t, f.dlq.filters[0].Reason)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, *f.dlq.filters[0].Reason)
	assert.Equal(t, 5, f.dlq.filters[0].Limit)

	rec = f.do(http.MethodGet, "/api/admin/v1/outbox/dead-letters?reason=bogus", admin, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/v1/outbox/dead-letters/"+eventID.String(), admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"payload":{"version":1}`)

	rec = f.do(http.MethodGet, "/api/admin/v1/outbox/dead-letters/"+uuid.NewString(), admin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
