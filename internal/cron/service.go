package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/channelcore-backend/pkg/logger"
	"github.com/angelmondragon/channelcore-backend/pkg/metrics"
)

const defaultInterval = 15 * time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job; zero leaves jobs bounded only by shutdown.
	JobTimeout time.Duration
}

// Service runs every registered job once per interval on the replica that
// holds the lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		jobTimeout: params.JobTimeout,
		now:        time.Now,
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.runCycle(ctx, s.registry.Jobs()); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx, s.registry.Jobs()); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

// RunOnce runs the named job under the cron lock and returns its error.
func (s *Service) RunOnce(ctx context.Context, name string) error {
	job, ok := s.registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown cron job %q (known: %v)", name, s.registry.Names())
	}
	var jobErr error
	err := s.withLock(ctx, func(ctx context.Context) {
		jobErr = s.runJob(ctx, job)
	})
	if err != nil {
		return err
	}
	return jobErr
}

func (s *Service) runCycle(ctx context.Context, jobs []Job) error {
	return s.withLock(ctx, func(ctx context.Context) {
		s.logg.Info(ctx, "scheduled run starting")
		for _, job := range jobs {
			if ctx.Err() != nil {
				return
			}
			_ = s.runJob(ctx, job)
		}
		s.logg.Info(ctx, "scheduled run complete")
	})
}

func (s *Service) withLock(ctx context.Context, fn func(context.Context)) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.IncSkipped()
		fields := map[string]any{}
		if h, ok := s.lock.(interface {
			Holder(context.Context) (string, error)
		}); ok {
			if holder, err := h.Holder(ctx); err == nil && holder != "" {
				fields["lock_holder"] = holder
			}
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "another cron instance is running; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.Background()); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r, ok := s.lock.(refresher); ok && r.RefreshEvery() > 0 {
		done := make(chan struct{})
		defer func() { cancel(); <-done }()
		go func() {
			defer close(done)
			s.keepLease(runCtx, r, cancel)
		}()
	}
	fn(runCtx)
	return nil
}

type refresher interface {
	Refresh(ctx context.Context) error
	RefreshEvery() time.Duration
}

// keepLease extends the lock while a cycle runs. Losing the lease cancels
// the cycle so two replicas never run jobs side by side.
func (s *Service) keepLease(ctx context.Context, r refresher, cancel context.CancelFunc) {
	ticker := time.NewTicker(r.RefreshEvery())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.Refresh(ctx)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errLockLost) {
				s.logg.Error(ctx, "cron lock lost mid-cycle; stopping", err)
				cancel()
				return
			}
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cron lock refresh failed")
		}
	}
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, s.jobTimeout)
		defer cancel()
	}
	s.logg.Info(jobCtx, "job start")
	start := s.now()
	err := job.Run(jobCtx)
	finished := s.now()
	duration := finished.Sub(start)
	s.metrics.ObserveRun(job.Name(), duration, err, finished)
	jobCtx = s.logg.WithFields(jobCtx, map[string]any{
		"duration_ms": duration.Milliseconds(),
		"outcome":     metrics.CronOutcome(err),
	})
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	return nil
}
