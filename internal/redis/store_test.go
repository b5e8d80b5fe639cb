package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/appointment/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), mr.Addr(), "", "")
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, "test:"), mr
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) appointment.Store {
		s, _ := newTestStore(t)
		return s
	})
}

func TestStore_ColonInNamesDoesNotCollide(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, storetest.NewAppointment("a@x.com", "Dr. A:B", "C")); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := s.Reserve(ctx, storetest.NewAppointment("b@x.com", "Dr. A", "B:C")); err != nil {
		t.Fatalf("expected distinct slot, got %v", err)
	}
}

func TestStore_ReleaseClearsAllKeys(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Reserve(ctx, storetest.NewAppointment("jane@x.com", storetest.DrSmith, "S1")); err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if _, err := s.Release(ctx, "jane@x.com", "S1"); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys left, got %v", keys)
	}
}

func TestStore_TimestampsRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	fixed := time.Date(2024, 1, 1, 9, 0, 0, 123_000_000, time.UTC)
	s.now = func() time.Time { return fixed }

	got, err := s.Reserve(context.Background(), storetest.NewAppointment("jane@x.com", storetest.DrSmith, "S1"))
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if !got.CreatedAt.Equal(fixed) || !got.UpdatedAt.Equal(fixed) {
		t.Fatalf("expected timestamps %v, got %v / %v", fixed, got.CreatedAt, got.UpdatedAt)
	}
}

func TestStore_UnreachableServerIsTransient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	s := NewStore(client, "test:")
	_, err := s.Reserve(context.Background(), storetest.NewAppointment("jane@x.com", storetest.DrSmith, "S1"))
	if !errors.Is(err, appointment.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestClassifyRedisError(t *testing.T) {
	if err := classifyRedisError(context.DeadlineExceeded); !errors.Is(err, appointment.ErrTransient) {
		t.Fatalf("expected deadline to be transient, got %v", err)
	}
	plain := errors.New("ERR unknown command")
	if err := classifyRedisError(plain); errors.Is(err, appointment.ErrTransient) {
		t.Fatalf("expected plain error to stay permanent")
	}
}
