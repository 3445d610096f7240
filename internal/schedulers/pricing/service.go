package pricing

import (
	"context"
	"fmt"
	"time"

	pricingdomain "github.com/angelmondragon/channelcore-backend/internal/pricing"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

const defaultInterval = time.Hour

type runner interface {
	RunAll(ctx context.Context) (pricingdomain.RunReport, error)
}

// Service re-prices every hotel on a fixed interval.
type Service struct {
	logg     *logger.Logger
	pricing  runner
	interval time.Duration
}

type ServiceParams struct {
	Logger   *logger.Logger
	Pricing  runner
	Interval time.Duration
}

// NewService builds the pricing scheduler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pricing == nil {
		return nil, fmt.Errorf("pricing service required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		pricing:  params.Pricing,
		interval: interval,
	}, nil
}

// Run executes the scheduler loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.process(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "pricing scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.process(ctx)
		}
	}
}

func (s *Service) process(ctx context.Context) {
	report, err := s.pricing.RunAll(ctx)
	if err != nil {
		s.logg.Error(ctx, "pricing scheduler run failed", err)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"room_types": report.RoomTypes,
		"evaluated":  report.Evaluated,
		"applied":    report.Applied,
		"failed":     report.Failed,
	}), "pricing tick finished")
}
