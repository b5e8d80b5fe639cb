package main

import (
	"context"
	"testing"
	"time"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/doctor"
)

func TestWorkingSlotsSkipsWeekends(t *testing.T) {
	// 2024-01-05 is a Friday; the next seven days hold five weekdays.
	slots := workingSlots(time.Date(2024, 1, 5, 13, 0, 0, 0, time.UTC), 7)
	if len(slots) != 5*8 {
		t.Fatalf("expected 40 slots, got %d", len(slots))
	}
	if slots[0] != "2024-01-08T09:00" {
		t.Fatalf("expected monday 09:00 first, got %s", slots[0])
	}
}

func TestSeedAppointmentsNeverDoubleBooks(t *testing.T) {
	ctx := context.Background()
	names := []string{"Dr. Smith", "Dr. Johnson"}
	registry := doctor.NewRegistry(names)
	svc := appointment.NewService(appointment.NewMemoryStore(), registry, appointment.DefaultRetryPolicy(), nil, nil)
	slots := []string{"S1", "S2", "S3"}

	booked, taken, err := seedAppointments(ctx, svc, names, slots, 50, 8)
	if err != nil {
		t.Fatalf("seedAppointments error: %v", err)
	}
	if booked+taken != 50 {
		t.Fatalf("expected 50 attempts accounted for, got %d + %d", booked, taken)
	}
	if booked > int64(len(names)*len(slots)) {
		t.Fatalf("booked %d appointments into %d pairs", booked, len(names)*len(slots))
	}

	var total int
	for _, n := range names {
		list, err := svc.ListByDoctor(ctx, n)
		if err != nil {
			t.Fatalf("ListByDoctor error: %v", err)
		}
		total += len(list)
	}
	if int64(total) != booked {
		t.Fatalf("expected %d stored appointments, found %d", booked, total)
	}
}
