package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/api/controllers"
	"github.com/angelmondragon/channelcore-backend/api/middleware"
	"github.com/angelmondragon/channelcore-backend/internal/bookings"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db/models"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/metrics"
)

// Ledger is the availability ledger surface the admin API reads and triggers.
type Ledger interface {
	RequestSync(ctx context.Context, in inventory.RequestSyncInput) (int, error)
	Availability(ctx context.Context, hotelID, roomTypeID uuid.UUID, from, to time.Time, channel string) ([]inventory.RowView, error)
}

// Bookings is the booking surface exposed to operators.
type Bookings interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	List(ctx context.Context, hotelID uuid.UUID, status *enums.BookingStatus, limit int) ([]models.Booking, error)
	ResolveAmendment(ctx context.Context, input bookings.ResolveAmendmentInput) (*models.Booking, error)
}

// DeadLetters lists abandoned sync groups.
type DeadLetters interface {
	DeadLetters(ctx context.Context, hotelID *uuid.UUID, limit int) ([]models.AuditLog, error)
}

// Revocations checks and records revoked operator tokens.
type Revocations interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// Store backs rate limiting and request idempotency.
type Store interface {
	middleware.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(policy, dimension, subject string) string
}

// Deps collects everything NewRouter wires.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	HTTPMetrics *metrics.HTTPMetrics
	// MetricsHandler serves the Prometheus scrape endpoint when set.
	MetricsHandler http.Handler
	Ready          map[string]controllers.Pinger
	Store          Store
	Revocations    Revocations
	Ledger         Ledger
	Bookings       Bookings
	DeadLetters    DeadLetters
	OutboxDLQ      controllers.OutboxDeadLetters
	Pricing        controllers.PricingService
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	apiPolicy := middleware.NewRateLimitPolicy(
		"admin",
		cfg.API.RateLimitWindow,
		cfg.API.RateLimitIP,
		cfg.API.RateLimitOperator,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Ready))
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Revocations, logg))
		r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin, enums.OperatorRoleViewer))
		r.Use(middleware.RateLimit(apiPolicy, deps.Store, logg))

		r.Get("/ping", controllers.AdminPing())
		r.Post("/session/revoke", controllers.AdminRevokeToken(deps.Revocations, logg))

		r.With(
			middleware.RequireRole(logg, enums.OperatorRoleAdmin),
			middleware.Idempotency(deps.Store, logg),
		).Post("/bookings/{bookingId}/amendments/{amendmentId}/resolve", controllers.AdminResolveAmendment(deps.Bookings, logg))

		r.Route("/outbox/dead-letters", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin))
			r.Use(middleware.RequireGlobalScope(logg))
			r.Get("/", controllers.AdminOutboxDeadLetters(deps.OutboxDLQ, logg))
			r.Get("/{eventId}", controllers.AdminOutboxDeadLetter(deps.OutboxDLQ, logg))
		})

		r.Route("/hotels/{hotelId}", func(r chi.Router) {
			r.Use(middleware.HotelScope(logg))

			r.Get("/dead-letters", controllers.AdminDeadLetters(deps.DeadLetters, logg))
			r.Get("/bookings", controllers.AdminListBookings(deps.Bookings, logg))
			r.Get("/room-types/{roomTypeId}/availability", controllers.AdminAvailability(deps.Ledger, logg))
			r.Get("/pricing/recommendations", controllers.AdminPricingRecommendations(deps.Pricing, logg))
			r.Get("/pricing/strategies", controllers.AdminListStrategies(deps.Pricing, logg))

			// Group middlewares see the full route pattern, which Idempotency keys on.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin))
				r.Use(middleware.Idempotency(deps.Store, logg))
				r.Post("/sync", controllers.AdminRequestSync(deps.Ledger, logg))
				r.Post("/pricing/strategies", controllers.AdminCreateStrategy(deps.Pricing, logg))
				r.Delete("/pricing/strategies/{strategyId}", controllers.AdminDeactivateStrategy(deps.Pricing, logg))
				r.Post("/pricing/competitor-rates", controllers.AdminRecordCompetitorRate(deps.Pricing, logg))
				r.Post("/pricing/run", controllers.AdminRunPricing(deps.Pricing, logg))
			})
		})
	})

	return r
}
