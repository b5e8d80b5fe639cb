package appointment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/appointment/storetest"
)

// failingStore returns err from every call.
type failingStore struct {
	appointment.Store
	err   error
	calls int
}

func (f *failingStore) Reserve(context.Context, appointment.Appointment) (*appointment.Appointment, error) {
	f.calls++
	return nil, f.err
}

func TestBreakerStore_OpensOnInfrastructureFailures(t *testing.T) {
	next := &failingStore{Store: appointment.NewMemoryStore(), err: appointment.Transient(errors.New("connection refused"))}
	b := appointment.NewBreakerStore(next, appointment.BreakerSettings{Name: "test", MaxFailures: 2, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()
	a := storetest.NewAppointment("jane@x.com", storetest.DrSmith, "S1")

	for i := 0; i < 2; i++ {
		if _, err := b.Reserve(ctx, a); !errors.Is(err, appointment.ErrTransient) {
			t.Fatalf("call %d: expected ErrTransient, got %v", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker open, got %s", b.State())
	}

	_, err := b.Reserve(ctx, a)
	if !errors.Is(err, appointment.ErrTransient) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected fast transient failure, got %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected open breaker to skip the store, got %d calls", next.calls)
	}
}

func TestBreakerStore_DomainOutcomesKeepItClosed(t *testing.T) {
	next := &failingStore{Store: appointment.NewMemoryStore(), err: appointment.ErrSlotTaken}
	b := appointment.NewBreakerStore(next, appointment.BreakerSettings{Name: "test", MaxFailures: 1, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := b.Reserve(ctx, storetest.NewAppointment("jane@x.com", storetest.DrSmith, "S1")); !errors.Is(err, appointment.ErrSlotTaken) {
			t.Fatalf("call %d: expected ErrSlotTaken, got %v", i, err)
		}
	}
	if _, err := b.Release(ctx, "nobody@x.com", "S1"); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
	if b.State() != gobreaker.StateClosed {
		t.Fatalf("expected breaker closed, got %s", b.State())
	}
}

func TestBreakerStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) appointment.Store {
		return appointment.NewBreakerStore(appointment.NewMemoryStore(), appointment.BreakerSettings{Name: "test", MaxFailures: 5, OpenTimeout: time.Second}, nil)
	})
}
