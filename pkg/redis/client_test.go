package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/channelcore-backend/pkg/config"
)

func TestIncrWithTTLAppliesExpireOnlyWhenMissing(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for want := int64(1); want <= 3; want++ {
		count, err := client.IncrWithTTL(ctx, "window", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != want {
			t.Fatalf("expected counter %d got %d", want, count)
		}
	}
	if mock.ttls["window"] != time.Second {
		t.Fatalf("expected ttl set, got %v", mock.ttls["window"])
	}
	if mock.expireSet != 1 {
		t.Fatalf("expire nx should only take effect once, got %d", mock.expireSet)
	}
}

func TestUninitializedClientFails(t *testing.T) {
	client := &Client{}
	if _, err := client.IncrWithTTL(context.Background(), "k", time.Second); err == nil {
		t.Fatal("expected error")
	}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on empty client: %v", err)
	}
}

func TestKeyedLockerLifecycle(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	locker, err := NewKeyedLocker(client, "pricing", time.Minute)
	if err != nil {
		t.Fatalf("locker: %v", err)
	}

	lease, ok, err := locker.TryAcquire(ctx, "hotel-1")
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := locker.TryAcquire(ctx, "hotel-1"); ok {
		t.Fatal("second acquire should fail while lease is held")
	}
	if _, ok, _ := locker.TryAcquire(ctx, "hotel-2"); !ok {
		t.Fatal("other ids must not be blocked")
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := locker.TryAcquire(ctx, "hotel-1"); !ok {
		t.Fatal("expected acquire after release")
	}
	if _, err := client.Get(ctx, client.LockKey("pricing", "missing")); err != redis.Nil {
		t.Fatalf("expected redis.Nil for unknown lock, got %v", err)
	}
}

func TestLeaseCannotTouchTakenOverLock(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	locker, err := NewKeyedLocker(client, "pricing", time.Minute)
	if err != nil {
		t.Fatalf("locker: %v", err)
	}

	stale, ok, err := locker.TryAcquire(ctx, "hotel-1")
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if err := stale.Extend(ctx); err != nil {
		t.Fatalf("extend while held: %v", err)
	}
	if mock.ttls[client.LockKey("pricing", "hotel-1")] != time.Minute {
		t.Fatal("extend should reset the ttl")
	}

	// simulate expiry followed by another replica taking the lease
	key := client.LockKey("pricing", "hotel-1")
	delete(mock.data, key)
	if _, ok, _ := locker.TryAcquire(ctx, "hotel-1"); !ok {
		t.Fatal("expected takeover after expiry")
	}
	owner := mock.data[key]

	if err := stale.Extend(ctx); err != ErrLeaseLost {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mock.data[key] != owner {
		t.Fatal("stale lease must not delete the new owner's lock")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "cc:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("admin", "ip", "10.0.0.1"); got != "cc:rate_limit:admin:ip:10.0.0.1" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.LockKey("pricing", ""); got != "cc:lock:pricing" {
		t.Fatalf("lock key should skip empty parts, got %s", got)
	}

	staging := &Client{prefix: normalizePrefix(" staging: ")}
	if got := staging.RevokedTokenKey("jti-1"); got != "staging:revoked:jti-1" {
		t.Fatalf("unexpected revoked key %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/3", DB: 1, PoolSize: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 3 || opts.PoolSize != 20 {
		t.Fatalf("url db should win over env default: db=%d pool=%d", opts.DB, opts.PoolSize)
	}
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
}

type mockCmdable struct {
	data      map[string]string
	incr      map[string]int64
	ttls      map[string]time.Duration
	expireSet int
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	if _, ok := m.ttls[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.ttls[key] = expiration
	m.expireSet++
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	key, token := keys[0], fmt.Sprint(args[0])
	if m.data[key] != token {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case compareAndDeleteScript:
		delete(m.data, key)
	case compareAndExpireScript:
		m.ttls[key] = time.Duration(args[1].(int64)) * time.Millisecond
	default:
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
	}
	return redis.NewCmdResult(int64(1), nil)
}
