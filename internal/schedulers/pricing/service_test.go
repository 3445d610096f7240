package pricing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pricingdomain "github.com/angelmondragon/channelcore-backend/internal/pricing"
	"github.com/angelmondragon/channelcore-backend/pkg/logger"
)

type countingRunner struct {
	runs atomic.Int32
	err  error
}

func (r *countingRunner) RunAll(ctx context.Context) (pricingdomain.RunReport, error) {
	r.runs.Add(1)
	return pricingdomain.RunReport{Evaluated: 3}, r.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "pricing-scheduler-test", Level: logger.ParseLevel("error")})
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Pricing: &countingRunner{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: testLogger()})
	assert.Error(t, err)

	svc, err := NewService(ServiceParams{Logger: testLogger(), Pricing: &countingRunner{}})
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, svc.interval)
}

func TestRunTicksUntilCanceled(t *testing.T) {
	runner := &countingRunner{err: errors.New("one hotel failed")}
	svc, err := NewService(ServiceParams{Logger: testLogger(), Pricing: runner, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
