package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultLease bounds how long a claim survives a worker that died mid-handle.
const DefaultLease = 2 * time.Minute

const (
	markerPending = "pending"
	markerDone    = "done"
)

// Status is the outcome of Claim.
type Status int

const (
	// Claimed means the caller owns the message and must Complete or Release it.
	Claimed Status = iota
	// Done means an earlier delivery finished; ack without handling.
	Done
	// InFlight means another worker holds a live claim; redeliver later.
	InFlight
)

func (s Status) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case Done:
		return "done"
	case InFlight:
		return "in_flight"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Store is the Redis surface the guard needs; *redis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager deduplicates transport redeliveries per consumer. A key is held as
// pending for the lease while the message is handled and flips to done for
// the retention TTL once the handler succeeds.
type Manager struct {
	store Store
	ttl   time.Duration
	lease time.Duration
}

// NewManager keeps completed keys for ttl.
func NewManager(store Store, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	lease := DefaultLease
	if lease > ttl {
		lease = ttl
	}
	return &Manager{store: store, ttl: ttl, lease: lease}, nil
}

// Claim tries to take ownership of messageKey for consumer.
func (m *Manager) Claim(ctx context.Context, consumer, messageKey string) (Status, error) {
	key, err := m.key(consumer, messageKey)
	if err != nil {
		return InFlight, err
	}
	ok, err := m.store.SetNX(ctx, key, markerPending, m.lease)
	if err != nil {
		return InFlight, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}

	marker, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// the previous claim lapsed between the two calls
		return InFlight, nil
	case err != nil:
		return InFlight, fmt.Errorf("read claim %s: %w", key, err)
	case marker == markerDone:
		return Done, nil
	default:
		return InFlight, nil
	}
}

// Complete records a handled message so later deliveries report Done.
func (m *Manager) Complete(ctx context.Context, consumer, messageKey string) error {
	key, err := m.key(consumer, messageKey)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markerDone, m.ttl)
}

// Release drops a claim so the next delivery is handled again.
func (m *Manager) Release(ctx context.Context, consumer, messageKey string) error {
	key, err := m.key(consumer, messageKey)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer, messageKey string) (string, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	messageKey = strings.TrimSpace(messageKey)
	if messageKey == "" {
		return "", errors.New("message key is required")
	}
	return m.store.IdempotencyKey("msg:"+consumer, messageKey), nil
}
