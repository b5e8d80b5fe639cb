// Package storetest checks that an appointment.Store backend keeps
// (doctor, slot) exclusive under sequential and concurrent use.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
)

const (
	DrSmith   = "Dr. Smith"
	DrJohnson = "Dr. Johnson"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) appointment.Store

// NewAppointment builds an unsaved appointment with a fresh ID.
func NewAppointment(email, doctor, slot string) appointment.Appointment {
	return appointment.Appointment{
		ID: uuid.New(),
		Patient: appointment.Patient{
			FirstName: "First " + email,
			LastName:  "Last " + email,
			Email:     email,
		},
		TimeSlot:   slot,
		DoctorName: doctor,
	}
}

// Run executes the whole conformance suite against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s appointment.Store)
	}{
		{"ReserveThenFind", testReserveThenFind},
		{"ReserveTakenSlot", testReserveTakenSlot},
		{"ReserveRetrySameID", testReserveRetrySameID},
		{"ConcurrentReserve", testConcurrentReserve},
		{"ReleaseReturnsRecord", testReleaseReturnsRecord},
		{"ReleaseMissing", testReleaseMissing},
		{"ReleaseEarliestFirst", testReleaseEarliestFirst},
		{"ReleaseThenRebook", testReleaseThenRebook},
		{"TransferSlot", testTransferSlot},
		{"TransferMissing", testTransferMissing},
		{"TransferTaken", testTransferTaken},
		{"TransferSameSlot", testTransferSameSlot},
		{"ConcurrentSwap", testConcurrentSwap},
		{"ConcurrentTransferSameTarget", testConcurrentTransferSameTarget},
		{"QueriesFilter", testQueriesFilter},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func mustReserve(t *testing.T, s appointment.Store, a appointment.Appointment) *appointment.Appointment {
	t.Helper()
	got, err := s.Reserve(context.Background(), a)
	if err != nil {
		t.Fatalf("Reserve(%s, %s) error: %v", a.DoctorName, a.TimeSlot, err)
	}
	return got
}

func countAt(t *testing.T, s appointment.Store, doctor, slot string) int {
	t.Helper()
	list, err := s.FindByDoctor(context.Background(), doctor)
	if err != nil {
		t.Fatalf("FindByDoctor error: %v", err)
	}
	n := 0
	for _, a := range list {
		if a.TimeSlot == slot {
			n++
		}
	}
	return n
}

func testReserveThenFind(t *testing.T, s appointment.Store) {
	ctx := context.Background()
	want := NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00")

	got := mustReserve(t, s, want)
	if got.ID != want.ID || got.Patient != want.Patient || got.TimeSlot != want.TimeSlot || got.DoctorName != want.DoctorName {
		t.Fatalf("reserve returned %+v, want fields of %+v", got, want)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt set")
	}

	found, err := s.FindByDoctorAndSlot(ctx, DrSmith, "2024-01-01T09:00")
	if err != nil {
		t.Fatalf("FindByDoctorAndSlot error: %v", err)
	}
	if found.ID != want.ID {
		t.Fatalf("found id %s, want %s", found.ID, want.ID)
	}

	if _, err := s.FindByDoctorAndSlot(ctx, DrSmith, "2024-01-01T10:00"); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound for free slot, got %v", err)
	}
}

func testReserveTakenSlot(t *testing.T, s appointment.Store) {
	mustReserve(t, s, NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00"))

	for i := 0; i < 3; i++ {
		_, err := s.Reserve(context.Background(), NewAppointment("john@x.com", DrSmith, "2024-01-01T09:00"))
		if !errors.Is(err, appointment.ErrSlotTaken) {
			t.Fatalf("attempt %d: expected ErrSlotTaken, got %v", i, err)
		}
	}
	if n := countAt(t, s, DrSmith, "2024-01-01T09:00"); n != 1 {
		t.Fatalf("expected 1 appointment at slot, got %d", n)
	}

	// Same slot, different doctor is free.
	mustReserve(t, s, NewAppointment("john@x.com", DrJohnson, "2024-01-01T09:00"))
}

func testReserveRetrySameID(t *testing.T, s appointment.Store) {
	a := NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00")
	first := mustReserve(t, s, a)

	again, err := s.Reserve(context.Background(), a)
	if err != nil {
		t.Fatalf("retried reserve error: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("retried reserve returned id %s, want %s", again.ID, first.ID)
	}
	if n := countAt(t, s, DrSmith, "2024-01-01T09:00"); n != 1 {
		t.Fatalf("expected 1 appointment at slot, got %d", n)
	}
}

func testConcurrentReserve(t *testing.T, s appointment.Store) {
	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		taken   int
		other   []error
	)

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.Reserve(context.Background(), NewAppointment(fmt.Sprintf("p%d@x.com", i), DrSmith, "2024-01-01T09:00"))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, appointment.ErrSlotTaken):
				taken++
			default:
				other = append(other, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if success != 1 || taken != n-1 {
		t.Fatalf("expected 1 success and %d taken, got %d and %d", n-1, success, taken)
	}
	if c := countAt(t, s, DrSmith, "2024-01-01T09:00"); c != 1 {
		t.Fatalf("expected 1 appointment at slot, got %d", c)
	}
}

func testReleaseReturnsRecord(t *testing.T, s appointment.Store) {
	ctx := context.Background()
	a := mustReserve(t, s, NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00"))

	removed, err := s.Release(ctx, "jane@x.com", "2024-01-01T09:00")
	if err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if removed.ID != a.ID || removed.Patient.Email != "jane@x.com" {
		t.Fatalf("released %+v, want %s", removed, a.ID)
	}

	list, err := s.FindByPatient(ctx, "jane@x.com")
	if err != nil {
		t.Fatalf("FindByPatient error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no appointments after release, got %d", len(list))
	}
}

func testReleaseMissing(t *testing.T, s appointment.Store) {
	mustReserve(t, s, NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00"))

	if _, err := s.Release(context.Background(), "jane@x.com", "2024-01-01T10:00"); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
	if _, err := s.Release(context.Background(), "john@x.com", "2024-01-01T09:00"); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound for other patient, got %v", err)
	}
}

func testReleaseEarliestFirst(t *testing.T, s appointment.Store) {
	first := mustReserve(t, s, NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00"))
	time.Sleep(5 * time.Millisecond)
	second := mustReserve(t, s, NewAppointment("jane@x.com", DrJohnson, "2024-01-01T09:00"))

	removed, err := s.Release(context.Background(), "jane@x.com", "2024-01-01T09:00")
	if err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if removed.ID != first.ID {
		t.Fatalf("expected earliest appointment %s released, got %s", first.ID, removed.ID)
	}

	left, err := s.FindByPatient(context.Background(), "jane@x.com")
	if err != nil {
		t.Fatalf("FindByPatient error: %v", err)
	}
	if len(left) != 1 || left[0].ID != second.ID {
		t.Fatalf("expected only %s left, got %+v", second.ID, left)
	}
}

func testReleaseThenRebook(t *testing.T, s appointment.Store) {
	mustReserve(t, s, NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00"))

	if _, err := s.Release(context.Background(), "jane@x.com", "2024-01-01T09:00"); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	john := mustReserve(t, s, NewAppointment("john@x.com", DrSmith, "2024-01-01T09:00"))
	found, err := s.FindByDoctorAndSlot(context.Background(), DrSmith, "2024-01-01T09:00")
	if err != nil {
		t.Fatalf("FindByDoctorAndSlot error: %v", err)
	}
	if found.ID != john.ID {
		t.Fatalf("expected john to hold the slot, got %s", found.ID)
	}
}

func testTransferSlot(t *testing.T, s appointment.Store) {
	ctx := context.Background()
	a := mustReserve(t, s, NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00"))

	moved, err := s.TransferSlot(ctx, "jane@x.com", "2024-01-01T09:00", "2024-01-01T10:00")
	if err != nil {
		t.Fatalf("TransferSlot error: %v", err)
	}
	if moved.ID != a.ID || moved.TimeSlot != "2024-01-01T10:00" || moved.DoctorName != DrSmith {
		t.Fatalf("unexpected moved appointment %+v", moved)
	}

	if _, err := s.FindByDoctorAndSlot(ctx, DrSmith, "2024-01-01T09:00"); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected old slot vacated, got %v", err)
	}
	found, err := s.FindByDoctorAndSlot(ctx, DrSmith, "2024-01-01T10:00")
	if err != nil {
		t.Fatalf("FindByDoctorAndSlot error: %v", err)
	}
	if found.ID != a.ID {
		t.Fatalf("expected %s at new slot, got %s", a.ID, found.ID)
	}

	// The vacated slot is bookable again.
	mustReserve(t, s, NewAppointment("john@x.com", DrSmith, "2024-01-01T09:00"))
}

func testTransferMissing(t *testing.T, s appointment.Store) {
	_, err := s.TransferSlot(context.Background(), "jane@x.com", "2024-01-01T09:00", "2024-01-01T10:00")
	if !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func testTransferTaken(t *testing.T, s appointment.Store) {
	ctx := context.Background()
	jane := mustReserve(t, s, NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00"))
	mustReserve(t, s, NewAppointment("john@x.com", DrSmith, "2024-01-01T10:00"))

	_, err := s.TransferSlot(ctx, "jane@x.com", "2024-01-01T09:00", "2024-01-01T10:00")
	if !errors.Is(err, appointment.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	found, err := s.FindByDoctorAndSlot(ctx, DrSmith, "2024-01-01T09:00")
	if err != nil {
		t.Fatalf("expected jane untouched, got %v", err)
	}
	if found.ID != jane.ID {
		t.Fatalf("expected %s at original slot, got %s", jane.ID, found.ID)
	}

	// Another doctor's appointment at the target does not conflict.
	mustReserve(t, s, NewAppointment("amy@x.com", DrJohnson, "2024-01-01T11:00"))
	if _, err := s.TransferSlot(ctx, "jane@x.com", "2024-01-01T09:00", "2024-01-01T11:00"); err != nil {
		t.Fatalf("expected transfer next to other doctor to succeed, got %v", err)
	}
}

func testTransferSameSlot(t *testing.T, s appointment.Store) {
	a := mustReserve(t, s, NewAppointment("jane@x.com", DrSmith, "2024-01-01T09:00"))

	moved, err := s.TransferSlot(context.Background(), "jane@x.com", "2024-01-01T09:00", "2024-01-01T09:00")
	if err != nil {
		t.Fatalf("TransferSlot to same slot error: %v", err)
	}
	if moved.ID != a.ID || moved.TimeSlot != "2024-01-01T09:00" {
		t.Fatalf("unexpected appointment %+v", moved)
	}
	if n := countAt(t, s, DrSmith, "2024-01-01T09:00"); n != 1 {
		t.Fatalf("expected 1 appointment at slot, got %d", n)
	}
}

// Swapping two held slots can never succeed in one step: each target is
// occupied by the other leg until that leg commits.
func testConcurrentSwap(t *testing.T, s appointment.Store) {
	ctx := context.Background()
	a := mustReserve(t, s, NewAppointment("a@x.com", DrSmith, "S1"))
	b := mustReserve(t, s, NewAppointment("b@x.com", DrSmith, "S2"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		_, errs[0] = s.TransferSlot(ctx, "a@x.com", "S1", "S2")
	}()
	go func() {
		defer wg.Done()
		<-start
		_, errs[1] = s.TransferSlot(ctx, "b@x.com", "S2", "S1")
	}()
	close(start)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, appointment.ErrSlotTaken) {
			t.Fatalf("leg %d: expected ErrSlotTaken, got %v", i, err)
		}
	}

	atS1, err := s.FindByDoctorAndSlot(ctx, DrSmith, "S1")
	if err != nil || atS1.ID != a.ID {
		t.Fatalf("expected a at S1, got %v / %v", atS1, err)
	}
	atS2, err := s.FindByDoctorAndSlot(ctx, DrSmith, "S2")
	if err != nil || atS2.ID != b.ID {
		t.Fatalf("expected b at S2, got %v / %v", atS2, err)
	}
}

func testConcurrentTransferSameTarget(t *testing.T, s appointment.Store) {
	ctx := context.Background()
	const n = 8
	for i := 0; i < n; i++ {
		mustReserve(t, s, NewAppointment(fmt.Sprintf("p%d@x.com", i), DrSmith, fmt.Sprintf("S%d", i)))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		taken   int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.TransferSlot(ctx, fmt.Sprintf("p%d@x.com", i), fmt.Sprintf("S%d", i), "TARGET")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, appointment.ErrSlotTaken):
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if success != 1 || taken != n-1 {
		t.Fatalf("expected 1 success and %d taken, got %d and %d", n-1, success, taken)
	}
	if c := countAt(t, s, DrSmith, "TARGET"); c != 1 {
		t.Fatalf("expected 1 appointment at target, got %d", c)
	}

	all, err := s.FindByDoctor(ctx, DrSmith)
	if err != nil {
		t.Fatalf("FindByDoctor error: %v", err)
	}
	if len(all) != n {
		t.Fatalf("expected %d appointments to survive, got %d", n, len(all))
	}
}

func testQueriesFilter(t *testing.T, s appointment.Store) {
	ctx := context.Background()
	mustReserve(t, s, NewAppointment("jane@x.com", DrSmith, "S1"))
	mustReserve(t, s, NewAppointment("jane@x.com", DrJohnson, "S2"))
	mustReserve(t, s, NewAppointment("john@x.com", DrSmith, "S3"))

	jane, err := s.FindByPatient(ctx, "jane@x.com")
	if err != nil {
		t.Fatalf("FindByPatient error: %v", err)
	}
	if len(jane) != 2 {
		t.Fatalf("expected 2 appointments for jane, got %d", len(jane))
	}
	for _, a := range jane {
		if a.Patient.Email != "jane@x.com" {
			t.Fatalf("unexpected patient %q in result", a.Patient.Email)
		}
	}

	smith, err := s.FindByDoctor(ctx, DrSmith)
	if err != nil {
		t.Fatalf("FindByDoctor error: %v", err)
	}
	if len(smith) != 2 {
		t.Fatalf("expected 2 appointments for %s, got %d", DrSmith, len(smith))
	}

	none, err := s.FindByPatient(ctx, "nobody@x.com")
	if err != nil {
		t.Fatalf("FindByPatient error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty result, got %d", len(none))
	}
}
