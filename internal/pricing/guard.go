package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelcore-backend/pkg/redis"
)

// Locker is the cross-process half of the hotel guard.
type Locker interface {
	TryAcquire(ctx context.Context, id string) (*redis.Lease, bool, error)
}

// hotelGuard allows one pricing run per hotel at a time: an in-process set
// first, then an optional Redis lease shared by every replica.
type hotelGuard struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
	locker  Locker
}

func newHotelGuard(locker Locker) *hotelGuard {
	return &hotelGuard{running: map[uuid.UUID]struct{}{}, locker: locker}
}

// acquire returns a release func, or ok=false when the hotel is already running.
func (g *hotelGuard) acquire(ctx context.Context, hotelID uuid.UUID) (func(context.Context), bool, error) {
	g.mu.Lock()
	if _, busy := g.running[hotelID]; busy {
		g.mu.Unlock()
		return nil, false, nil
	}
	g.running[hotelID] = struct{}{}
	g.mu.Unlock()

	local := func() {
		g.mu.Lock()
		delete(g.running, hotelID)
		g.mu.Unlock()
	}
	if g.locker == nil {
		return func(context.Context) { local() }, true, nil
	}

	lease, ok, err := g.locker.TryAcquire(ctx, hotelID.String())
	if err != nil || !ok {
		local()
		return nil, false, err
	}
	stop := make(chan struct{})
	go keepAlive(lease, stop)
	return func(ctx context.Context) {
		close(stop)
		_ = lease.Release(ctx)
		local()
	}, true, nil
}

const leaseExtendEvery = 5 * time.Minute

// keepAlive extends the hotel lease until stop closes or the lease is lost.
func keepAlive(lease *redis.Lease, stop <-chan struct{}) {
	ticker := time.NewTicker(leaseExtendEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := lease.Extend(context.Background()); errors.Is(err, redis.ErrLeaseLost) {
				return
			}
		}
	}
}
