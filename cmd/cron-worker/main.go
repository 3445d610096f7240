package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/channelcore-backend/internal/app"
	"github.com/angelmondragon/channelcore-backend/internal/audit"
	"github.com/angelmondragon/channelcore-backend/internal/cron"
	"github.com/angelmondragon/channelcore-backend/internal/pricing"
	"github.com/angelmondragon/channelcore-backend/pkg/bigquery"
	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/instance"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/metrics"
	"github.com/angelmondragon/channelcore-backend/pkg/migrate"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/redis"
)

const (
	serviceName   = "cron-worker"
	lockKeyFormat = "channelcore:%s:lock:cron-worker"
)

func main() {
	runJob := flag.String("job", "", "run a single job by name once and exit")
	flag.Parse()

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
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(cfg.Service),
	})

	if err := run(ctx, cfg, logg, *runJob); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

// run executes only the named job when onlyJob is set; otherwise it loops
// until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, onlyJob string) error {
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
		return fmt.Errorf("core services: %w", err)
	}

	archiver, closeArchive, err := newArchiver(ctx, cfg, logg, dbClient)
	if err != nil {
		return err
	}
	defer closeArchive()

	registry, err := buildRegistry(cfg, logg, dbClient, core, archiver)
	if err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}
	ctx = logg.WithField(ctx, "jobs", registry.Names())

	reg := prometheus.NewRegistry()
	// A crashed holder frees the lease after one full cycle.
	lockTTL := cfg.Cron.Interval + time.Duration(len(registry.Jobs()))*cfg.Cron.JobTimeout
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), lockTTL, instance.ID(cfg.Service))
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(reg),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	if onlyJob != "" {
		if err := service.RunOnce(ctx, onlyJob); err != nil {
			return fmt.Errorf("job %s: %w", onlyJob, err)
		}
		logg.Info(ctx, "cron job finished")
		return nil
	}

	logg.Info(ctx, "starting cron worker")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	if cfg.Service.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Service.MetricsAddr, reg) })
	}
	return g.Wait()
}

// newArchiver returns a nil archiver when no BigQuery audit table is set.
func newArchiver(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*audit.Archiver, func(), error) {
	noop := func() {}
	if strings.TrimSpace(cfg.BigQuery.AuditTable) == "" {
		return nil, noop, nil
	}
	bq, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return nil, noop, fmt.Errorf("bootstrap bigquery: %w", err)
	}
	closeBQ := func() {
		if err := bq.Close(); err != nil {
			logg.Error(ctx, "error closing bigquery client", err)
		}
	}
	if err := bq.EnsureTable(ctx, bigquery.TableSpec{
		Name:           cfg.BigQuery.AuditTable,
		Schema:         audit.ArchiveSchema(),
		PartitionField: audit.ArchivePartitionField,
		Description:    "audit rows exported before retention purges them",
	}); err != nil {
		closeBQ()
		return nil, noop, fmt.Errorf("ensure audit archive table: %w", err)
	}
	archiver, err := audit.NewArchiver(audit.NewRepository(dbClient.DB()), bq, cfg.BigQuery.AuditTable, cfg.BigQuery.BatchSize)
	if err != nil {
		closeBQ()
		return nil, noop, fmt.Errorf("audit archiver: %w", err)
	}
	return archiver, closeBQ, nil
}

// buildRegistry registers the booking sweeps first so holds are released
// before retention and integrity jobs read the ledger.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, core *app.Core, archiver *audit.Archiver) (*cron.Registry, error) {
	sweep := cron.BookingSweepJobParams{Logger: logg, Bookings: core.Bookings}
	builders := []func() (cron.Job, error){
		func() (cron.Job, error) { return cron.NewHoldExpiryJob(sweep) },
		func() (cron.Job, error) { return cron.NewAutoCheckoutJob(sweep) },
		func() (cron.Job, error) { return cron.NewNoShowJob(sweep) },
		func() (cron.Job, error) {
			return cron.NewLedgerArchiveJob(cron.LedgerArchiveJobParams{Logger: logg, Ledger: core.Ledger})
		},
		func() (cron.Job, error) {
			return cron.NewIntegrityScanJob(cron.IntegrityScanJobParams{
				Logger: logg,
				Hotels: pricing.NewRepository(dbClient.DB()),
				Ledger: core.Ledger,
			})
		},
		func() (cron.Job, error) {
			return cron.NewAuditRetentionJob(cron.AuditRetentionJobParams{
				Logger:    logg,
				Audit:     core.Audit,
				Retention: cfg.Cron.AuditRetention,
			})
		},
		func() (cron.Job, error) {
			return cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
				Logger:       logg,
				DB:           dbClient,
				Repository:   outbox.NewRepository(dbClient.DB()),
				DLQ:          outbox.NewDLQRepository(dbClient.DB()),
				Retention:    cfg.Cron.OutboxRetention,
				DLQRetention: cfg.Cron.DLQRetention,
				MinAttempts:  cfg.Outbox.MaxAttempts,
				BatchSize:    cfg.Cron.PurgeBatchSize,
			})
		},
	}

	registry := cron.NewRegistry()
	for _, build := range builders {
		job, err := build()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
