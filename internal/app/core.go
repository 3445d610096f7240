// Package app assembles the services every binary shares so each main only
// wires its own surface.
package app

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/internal/bookings"
	"github.com/angelmondragon/channelcore-backend/internal/channels"
	"github.com/angelmondragon/channelcore-backend/internal/channels/adaptors/bookingcom"
	"github.com/angelmondragon/channelcore-backend/internal/channels/adaptors/expedia"
	"github.com/angelmondragon/channelcore-backend/internal/channels/adaptors/simulator"
	"github.com/angelmondragon/channelcore-backend/internal/inventory"
	"github.com/angelmondragon/channelcore-backend/internal/rules"
	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/security"
)

// Core is the ledger, rules, bookings and channel registry over one database.
type Core struct {
	Audit    audit.Service
	Status   *audit.SyncStatusStore
	Outbox   *outbox.Service
	Rules    rules.Service
	Ledger   *inventory.Ledger
	Bookings bookings.Service
	Channels channels.Service
}

// NewCore builds the shared services. The ledger listens to rule changes so a
// new stop-sell marks the affected rows dirty.
func NewCore(cfg *config.Config, logg *logger.Logger, client *db.Client) (*Core, error) {
	conn := client.DB()

	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("audit service: %w", err)
	}
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

	rulesSvc, err := rules.NewService(rules.NewRepository(conn), auditSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("rules service: %w", err)
	}

	ledger, err := inventory.NewLedger(inventory.NewRepository(conn), client, rulesSvc, auditSvc, outboxSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	rulesSvc.SetChangeListener(ledger)

	bookingSvc, err := bookings.NewService(bookings.NewRepository(conn), client, ledger, auditSvc, outboxSvc, bookings.Settings{
		HoldTTL: cfg.Hold.TTL(),
		Policy: bookings.Policy{
			CancellationGrace: cfg.Booking.CancellationGrace(),
			NoShowGrace:       cfg.Booking.NoShowGrace(),
		},
	}, logg)
	if err != nil {
		return nil, fmt.Errorf("booking service: %w", err)
	}

	sealer, err := security.NewCredentialSealer(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("credential sealer: %w", err)
	}
	partnerHTTP := &http.Client{
		Timeout:   cfg.Sync.AdaptorTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	adaptors := channels.NewAdaptors(
		bookingcom.New(bookingcom.WithHTTPClient(partnerHTTP)),
		expedia.New(expedia.WithHTTPClient(partnerHTTP)),
		simulator.New(),
	)
	channelSvc, err := channels.NewService(channels.NewRepository(conn), adaptors, sealer, auditSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("channel service: %w", err)
	}

	return &Core{
		Audit: auditSvc,
		Status: audit.NewSyncStatusStore(conn, audit.Backoff{
			Base:       cfg.Sync.BackoffBase(),
			Cap:        cfg.Sync.BackoffCap,
			MaxRetries: cfg.Sync.MaxRetries,
		}),
		Outbox:   outboxSvc,
		Rules:    rulesSvc,
		Ledger:   ledger,
		Bookings: bookingSvc,
		Channels: channelSvc,
	}, nil
}
