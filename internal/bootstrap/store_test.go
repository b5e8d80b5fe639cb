package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/config"
	redisclient "github.com/hackgods/doctor-appointment-booking/internal/redis"
)

func TestOpenStore_Memory(t *testing.T) {
	b, err := OpenStore(context.Background(), config.Config{StoreBackend: config.BackendMemory, BreakerEnabled: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenStore error: %v", err)
	}
	defer b.Close()

	if _, ok := b.Store.(*appointment.MemoryStore); !ok {
		t.Fatalf("expected unwrapped memory store, got %T", b.Store)
	}
}

func TestOpenStore_RedisWithBreaker(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := OpenStore(context.Background(), config.Config{
		StoreBackend:       config.BackendRedis,
		RedisAddr:          mr.Addr(),
		RedisKeyPrefix:     "t:",
		BreakerEnabled:     true,
		BreakerMaxFailures: 3,
		BreakerOpenTimeout: time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenStore error: %v", err)
	}
	defer b.Close()

	if _, ok := b.Store.(*appointment.BreakerStore); !ok {
		t.Fatalf("expected breaker-wrapped store, got %T", b.Store)
	}
	if err := b.Checks["redis"](context.Background()); err != nil {
		t.Fatalf("redis check error: %v", err)
	}

	b2, err := OpenStore(context.Background(), config.Config{StoreBackend: config.BackendRedis, RedisAddr: mr.Addr()}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenStore error: %v", err)
	}
	defer b2.Close()
	if _, ok := b2.Store.(*redisclient.Store); !ok {
		t.Fatalf("expected bare redis store, got %T", b2.Store)
	}
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	if _, err := OpenStore(context.Background(), config.Config{StoreBackend: "cassandra"}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy(config.Config{StoreMaxAttempts: 4, StoreTimeout: time.Second, RetryInitialInterval: time.Millisecond, RetryMaxInterval: time.Second})
	if p.MaxAttempts != 4 || p.AttemptTimeout != time.Second {
		t.Fatalf("unexpected policy %+v", p)
	}
}
