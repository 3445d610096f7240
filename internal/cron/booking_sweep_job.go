package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/channelcore-backend/internal/bookings"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

// BookingSweeper is the subset of the booking service the sweeps drive.
type BookingSweeper interface {
	ExpireHolds(ctx context.Context) (bookings.SweepResult, error)
	AutoCheckout(ctx context.Context) (bookings.SweepResult, error)
	MarkNoShows(ctx context.Context) (bookings.SweepResult, error)
}

// BookingSweepJobParams configure the booking lifecycle sweeps.
type BookingSweepJobParams struct {
	Logger   *logger.Logger
	Bookings BookingSweeper
}

type bookingSweepJob struct {
	name  string
	logg  *logger.Logger
	sweep func(ctx context.Context) (bookings.SweepResult, error)
}

// NewHoldExpiryJob cancels pending holds past their reservedUntil.
func NewHoldExpiryJob(params BookingSweepJobParams) (Job, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &bookingSweepJob{name: "hold-expiry", logg: params.Logger, sweep: params.Bookings.ExpireHolds}, nil
}

// NewAutoCheckoutJob checks out in-house guests whose stay has ended.
func NewAutoCheckoutJob(params BookingSweepJobParams) (Job, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &bookingSweepJob{name: "auto-checkout", logg: params.Logger, sweep: params.Bookings.AutoCheckout}, nil
}

// NewNoShowJob marks confirmed arrivals past the grace window as no-shows.
func NewNoShowJob(params BookingSweepJobParams) (Job, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &bookingSweepJob{name: "no-show-sweep", logg: params.Logger, sweep: params.Bookings.MarkNoShows}, nil
}

func (p BookingSweepJobParams) validate() error {
	if p.Logger == nil {
		return fmt.Errorf("logger required")
	}
	if p.Bookings == nil {
		return fmt.Errorf("booking service required")
	}
	return nil
}

func (j *bookingSweepJob) Name() string { return j.name }

func (j *bookingSweepJob) Run(ctx context.Context) error {
	result, err := j.sweep(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":   result.Scanned,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	if result.Failed > 0 {
		j.logg.Warn(logCtx, "sweep finished with failures")
		return nil
	}
	j.logg.Info(logCtx, "sweep complete")
	return nil
}
