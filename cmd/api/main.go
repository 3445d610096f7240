package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/channelcore-backend/api/controllers"
	"github.com/angelmondragon/channelcore-backend/api/routes"
	"github.com/angelmondragon/channelcore-backend/internal/app"
	"github.com/angelmondragon/channelcore-backend/internal/pricing"
	"github.com/angelmondragon/channelcore-backend/pkg/auth"
	"github.com/angelmondragon/channelcore-backend/pkg/auth/session"
	"github.com/angelmondragon/channelcore-backend/pkg/config"
	"github.com/angelmondragon/channelcore-backend/pkg/db"
	"github.com/angelmondragon/channelcore-backend/pkg/enums"
	"github.com/angelmondragon/channelcore-backend/pkg/instance"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/metrics"
	"github.com/angelmondragon/channelcore-backend/pkg/migrate"
	"github.com/angelmondragon/channelcore-backend/pkg/outbox"
	"github.com/angelmondragon/channelcore-backend/pkg/redis"
	"github.com/angelmondragon/channelcore-backend/pkg/tracing"
)

const (
	serviceName      = "api"
	shutdownTimeout  = 15 * time.Second
	pricingLockScope = "pricing-run"
)

func main() {
	mint := flag.Bool("mint-token", false, "print an operator access token and exit")
	operator := flag.String("operator", "", "operator id for -mint-token")
	role := flag.String("role", string(enums.OperatorRoleViewer), "operator role for -mint-token: admin|viewer")
	hotels := flag.String("hotels", "", "comma separated hotel ids the token is limited to; empty means all")
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

	if *mint {
		token, err := mintToken(cfg.JWT, *operator, *role, *hotels)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mint token:", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "instance", instance.ID(cfg.Service))

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
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

	sessionManager, err := session.NewManager(redisClient)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	core, err := app.NewCore(cfg, logg, dbClient)
	if err != nil {
		return fmt.Errorf("core services: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

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

	router := routes.NewRouter(routes.Deps{
		Config:         cfg,
		Logger:         logg,
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		MetricsHandler: metrics.Handler(reg),
		Ready: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Store:       redisClient,
		Revocations: sessionManager,
		Ledger:      core.Ledger,
		Bookings:    core.Bookings,
		DeadLetters: core.Audit,
		OutboxDLQ:   outbox.NewDLQRepository(dbClient.DB()),
		Pricing:     pricingSvc,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(router, "admin-api"),
		ReadHeaderTimeout: 10 * time.Second,
		// requests keep the logger fields but drain on shutdown instead of being cancelled
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	ctx = logg.WithField(ctx, "addr", server.Addr)
	logg.Info(ctx, "starting api server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func mintToken(cfg config.JWTConfig, operator, role, hotels string) (string, error) {
	parsedRole, err := enums.ParseOperatorRole(strings.TrimSpace(role))
	if err != nil {
		return "", err
	}
	var hotelIDs []uuid.UUID
	for _, raw := range strings.Split(hotels, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("hotel id %q: %w", raw, err)
		}
		hotelIDs = append(hotelIDs, id)
	}
	return auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		OperatorID: operator,
		Role:       parsedRole,
		HotelIDs:   hotelIDs,
	})
}
