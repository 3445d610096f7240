package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/channelcore-backend/internal/app"
	"github.com/angelmondragon/channelcore-backend/internal/channelsync"
	"github.com/angelmondragon/channelcore-backend/internal/consumers/syncrequests"
	"github.com/angelmondragon/channelcore-backend/internal/cron"
	"github.com/angelmondragon/channelcore-backend/internal/pricing"
	"github.com/angelmondragon/channelcore-backend/internal/reservations"
	pricingscheduler "github.com/angelmondragon/channelcore-backend/internal/schedulers/pricing"
	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/instance"
	"github.com/angelmondragon/channelcore-backend/pkg/kafka"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/metrics"
	"github.com/angelmondragon/channelcore-backend/pkg/migrate"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/channelcore-backend/pkg/pubsub"
	"github.com/angelmondragon/channelcore-backend/pkg/redis"
	"github.com/angelmondragon/channelcore-backend/pkg/tracing"
)

const (
	serviceName        = "channel-worker"
	coordinatorLockFmt = "channelcore:%s:lock:sync-coordinator"
	pricingLockScope   = "pricing-run"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"serviceKind": serviceName,
		"instance":    instance.ID(cfg.Service),
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "channel worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "channel worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logg.Error(ctx, "error flushing traces", err)
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	core, err := app.NewCore(cfg, logg, dbClient)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	lock, err := cron.NewRedisLock(redisClient, fmt.Sprintf(coordinatorLockFmt, envOrLocal(cfg.App.Env)), 2*cfg.Sync.Tick(), instance.ID(cfg.Service))
	if err != nil {
		return fmt.Errorf("coordinator lock: %w", err)
	}
	coord, err := channelsync.NewCoordinator(channelsync.Deps{
		Ledger:   core.Ledger,
		Registry: core.Channels,
		Bookings: core.Bookings,
		Status:   core.Status,
		Audit:    core.Audit,
		Outbox:   core.Outbox,
		Tx:       dbClient,
		Lock:     lock,
		Metrics:  metrics.NewSyncMetrics(reg),
		Logger:   logg,
	}, channelsync.SettingsFromConfig(cfg.Sync))
	if err != nil {
		return fmt.Errorf("sync coordinator: %w", err)
	}
	core.Ledger.SetNotifier(coord)

	handler, err := reservations.NewHandler(reservations.Deps{
		Bookings: core.Bookings,
		Registry: core.Channels,
		Repo:     reservations.NewRepository(dbClient.DB()),
		Audit:    core.Audit,
		Outbox:   core.Outbox,
		Tx:       dbClient,
		Metrics:  metrics.NewInboundMetrics(reg),
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("reservation handler: %w", err)
	}
	poller, err := reservations.NewPoller(core.Channels, handler, logg, 0)
	if err != nil {
		return fmt.Errorf("reservation poller: %w", err)
	}

	pricingLocker, err := redis.NewKeyedLocker(redisClient, pricingLockScope, 15*time.Minute)
	if err != nil {
		return fmt.Errorf("pricing locker: %w", err)
	}
	pricingSvc, err := pricing.NewService(pricing.Deps{
		Repo:     pricing.NewRepository(dbClient.DB()),
		Ledger:   core.Ledger,
		Locker:   pricingLocker,
		Metrics:  metrics.NewPricingMetrics(reg),
		Logger:   logg,
		Settings: pricing.SettingsFromConfig(cfg.Pricing),
	})
	if err != nil {
		return fmt.Errorf("pricing service: %w", err)
	}
	pricingRunner, err := pricingscheduler.NewService(pricingscheduler.ServiceParams{
		Logger:   logg,
		Pricing:  pricingSvc,
		Interval: cfg.Pricing.Interval,
	})
	if err != nil {
		return fmt.Errorf("pricing scheduler: %w", err)
	}

	inboundTTL := cfg.Inbound.IdempotencyTTL
	if inboundTTL <= 0 {
		inboundTTL = cfg.Eventing.InboundIdempotencyTTL
	}
	idem, err := idempotency.NewManager(redisClient, inboundTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}
	dispatcher, err := reservations.NewDispatcher(handler, idem, logg)
	if err != nil {
		return fmt.Errorf("reservation dispatcher: %w", err)
	}

	var pubsubClient *pubsub.Client
	if strings.TrimSpace(cfg.GCP.ProjectID) != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return fmt.Errorf("bootstrap pubsub: %w", err)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(ctx, "error closing pubsub client", err)
			}
		}()
	}

	syncConsumer, err := syncrequests.NewConsumer(coord, idem, logg)
	if err != nil {
		return fmt.Errorf("sync request consumer: %w", err)
	}

	var inbound func(context.Context) error
	switch strings.ToLower(strings.TrimSpace(cfg.Inbound.Transport)) {
	case config.InboundTransportPubSub:
		sub := pubsubClient.ReservationsSubscription()
		if sub == nil {
			return errors.New("pubsub inbound transport needs a project id and a reservations subscription")
		}
		inbound = func(ctx context.Context) error { return dispatcher.RunPubSub(ctx, sub) }
	case config.InboundTransportKafka:
		reader, err := kafka.NewReader(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("kafka reader: %w", err)
		}
		defer reader.Close()
		inbound = func(ctx context.Context) error { return dispatcher.RunKafka(ctx, reader) }
	default:
		logg.Info(ctx, "no push transport configured; relying on reservation polling")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx, cfg.Inbound.PollInterval) })
	g.Go(func() error { return pricingRunner.Run(gctx) })
	if inbound != nil {
		g.Go(func() error { return inbound(gctx) })
	}

	if sub := pubsubClient.SyncRequestsSubscription(); sub != nil {
		g.Go(func() error { return syncConsumer.Run(gctx, sub) })
	}

	if cfg.Service.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Service.MetricsAddr, reg) })
	}

	logg.Info(ctx, "starting channel worker")
	return g.Wait()
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
