package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type entry struct {
	value string
	ttl   time.Duration
}

type memStore struct {
	data   map[string]entry
	setErr error
}

func newMemStore() *memStore { return &memStore{data: map[string]entry{}} }

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	e, ok := s.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return e.value, nil
}

func (s *memStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.data[key] = entry{value: value.(string), ttl: ttl}
	return nil
}

func (s *memStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.setErr != nil {
		return false, s.setErr
	}
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = entry{value: value.(string), ttl: ttl}
	return true, nil
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *memStore) IdempotencyKey(scope, id string) string {
	return "cc:idempotency:" + scope + ":" + id
}

func mustManager(t *testing.T, store Store, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(store, ttl)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestClaimCompleteLifecycle(t *testing.T) {
	store := newMemStore()
	m := mustManager(t, store, 7*24*time.Hour)
	ctx := context.Background()
	key := "cc:idempotency:msg:inbound-reservations:booking_com:R-100:3"

	status, err := m.Claim(ctx, "inbound-reservations", "booking_com:R-100:3")
	if err != nil || status != Claimed {
		t.Fatalf("first claim = %s, %v", status, err)
	}
	if got := store.data[key]; got.value != markerPending || got.ttl != DefaultLease {
		t.Fatalf("unexpected pending entry %+v", got)
	}

	if status, _ := m.Claim(ctx, "inbound-reservations", "booking_com:R-100:3"); status != InFlight {
		t.Fatalf("second claim while pending = %s", status)
	}

	if err := m.Complete(ctx, "inbound-reservations", "booking_com:R-100:3"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := store.data[key]; got.value != markerDone || got.ttl != 7*24*time.Hour {
		t.Fatalf("unexpected done entry %+v", got)
	}
	if status, _ := m.Claim(ctx, "inbound-reservations", "booking_com:R-100:3"); status != Done {
		t.Fatalf("claim after completion = %s", status)
	}
}

func TestReleaseAllowsReclaim(t *testing.T) {
	m := mustManager(t, newMemStore(), time.Hour)
	ctx := context.Background()

	if status, _ := m.Claim(ctx, "sync-requests", "evt-1"); status != Claimed {
		t.Fatalf("expected claim, got %s", status)
	}
	if err := m.Release(ctx, "sync-requests", "evt-1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if status, _ := m.Claim(ctx, "sync-requests", "evt-1"); status != Claimed {
		t.Fatalf("expected reclaim after release, got %s", status)
	}
}

func TestConsumersAreIsolated(t *testing.T) {
	m := mustManager(t, newMemStore(), time.Hour)
	ctx := context.Background()
	_, _ = m.Claim(ctx, "a", "k")
	_ = m.Complete(ctx, "a", "k")
	if status, _ := m.Claim(ctx, "b", "k"); status != Claimed {
		t.Fatalf("other consumers must not share keys, got %s", status)
	}
}

func TestLeaseNeverExceedsRetention(t *testing.T) {
	m := mustManager(t, newMemStore(), 30*time.Second)
	if m.lease != 30*time.Second {
		t.Fatalf("lease = %s", m.lease)
	}
}

func TestClaimErrors(t *testing.T) {
	store := newMemStore()
	m := mustManager(t, store, time.Hour)
	ctx := context.Background()

	if _, err := m.Claim(ctx, "reservations", " "); err == nil {
		t.Fatal("expected blank key error")
	}
	if _, err := m.Claim(ctx, "", "k"); err == nil {
		t.Fatal("expected blank consumer error")
	}
	store.setErr = errors.New("boom")
	if _, err := m.Claim(ctx, "reservations", "k"); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := NewManager(store, 0); err == nil {
		t.Fatal("expected ttl error")
	}
	if _, err := NewManager(nil, time.Hour); err == nil {
		t.Fatal("expected store error")
	}
}
