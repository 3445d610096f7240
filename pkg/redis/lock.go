package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LockStore is the subset of Client used by KeyedLocker.
type LockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	LockKey(scope, id string) string
}

// KeyedLocker hands out per-id leases under one scope, e.g. one pricing run
// per hotel across every replica.
type KeyedLocker struct {
	store LockStore
	scope string
	ttl   time.Duration
}

// Lease is an owned lock. Its token is random per acquisition, so a lease
// that expired and was taken over can neither release nor extend the new
// owner's lock.
type Lease struct {
	store LockStore
	key   string
	token string
	ttl   time.Duration
}

// ErrLeaseLost is returned by Extend once the lease expired or changed hands.
var ErrLeaseLost = errors.New("lease no longer held")

func NewKeyedLocker(store LockStore, scope string, ttl time.Duration) (*KeyedLocker, error) {
	switch {
	case store == nil:
		return nil, errors.New("lock store is required")
	case scope == "":
		return nil, errors.New("lock scope is required")
	case ttl <= 0:
		return nil, errors.New("lock ttl must be positive")
	}
	return &KeyedLocker{store: store, scope: scope, ttl: ttl}, nil
}

// TryAcquire returns ok=false without error when another owner holds id.
func (l *KeyedLocker) TryAcquire(ctx context.Context, id string) (*Lease, bool, error) {
	key := l.store.LockKey(l.scope, id)
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{store: l.store, key: key, token: token, ttl: l.ttl}, true, nil
}

// Extend pushes the expiry out by the locker TTL.
func (l *Lease) Extend(ctx context.Context) error {
	if l == nil || l.token == "" {
		return ErrLeaseLost
	}
	ok, err := l.store.CompareAndExpire(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.key, err)
	}
	if !ok {
		l.token = ""
		return ErrLeaseLost
	}
	return nil
}

// Release is a no-op when the lease was already lost.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.token == "" {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.token = ""
	return nil
}
