package appointment_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/doctor"
)

var testDoctors = doctor.NewRegistry([]string{"Dr. Smith", "Dr. Johnson", "Dr. Williams"})

func fastRetry(attempts int) appointment.RetryPolicy {
	return appointment.RetryPolicy{
		MaxAttempts:     attempts,
		AttemptTimeout:  200 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func newService(store appointment.Store, rec appointment.Recorder) *appointment.Service {
	return appointment.NewService(store, testDoctors, fastRetry(3), nil, rec)
}

func book(first, last, email, slot, doctorName string) appointment.BookRequest {
	return appointment.BookRequest{
		FirstName:  first,
		LastName:   last,
		Email:      email,
		TimeSlot:   slot,
		DoctorName: doctorName,
	}
}

// scriptedStore fails Reserve with the queued errors before delegating.
type scriptedStore struct {
	appointment.Store
	mu       sync.Mutex
	failures []error
	calls    int32
	block    int32 // number of leading calls that wait for their deadline
}

func (s *scriptedStore) Reserve(ctx context.Context, appt appointment.Appointment) (*appointment.Appointment, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if n <= atomic.LoadInt32(&s.block) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	return s.Store.Reserve(ctx, appt)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	retries  map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: map[string]int{}, retries: map[string]int{}}
}

func (r *countingRecorder) ObserveOutcome(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[op+"/"+outcome]++
}

func (r *countingRecorder) ObserveStore(string, time.Duration) {}

func (r *countingRecorder) IncRetry(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[op]++
}

var _ appointment.Recorder = (*countingRecorder)(nil)

func TestService_BookRescheduleScenario(t *testing.T) {
	ctx := context.Background()
	svc := newService(appointment.NewMemoryStore(), nil)

	jane, err := svc.Book(ctx, book("Jane", "Doe", "jane@x.com", "2024-01-01T09:00", "Dr. Smith"))
	if err != nil {
		t.Fatalf("Book jane error: %v", err)
	}
	if jane.ID.String() == "" || jane.ID.Version() != 4 {
		t.Fatalf("expected generated uuid, got %s", jane.ID)
	}

	_, err = svc.Book(ctx, book("John", "Roe", "john@x.com", "2024-01-01T09:00", "Dr. Smith"))
	if !errors.Is(err, appointment.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken for john, got %v", err)
	}

	moved, err := svc.Reschedule(ctx, "jane@x.com", "2024-01-01T09:00", "2024-01-01T10:00")
	if err != nil {
		t.Fatalf("Reschedule error: %v", err)
	}
	if moved.ID != jane.ID || moved.TimeSlot != "2024-01-01T10:00" {
		t.Fatalf("unexpected rescheduled appointment %+v", moved)
	}

	list, err := svc.ListByDoctor(ctx, "Dr. Smith")
	if err != nil {
		t.Fatalf("ListByDoctor error: %v", err)
	}
	if len(list) != 1 || list[0].TimeSlot != "2024-01-01T10:00" || list[0].ID != jane.ID {
		t.Fatalf("expected jane alone at 10:00, got %+v", list)
	}
}

func TestService_BookMissingFieldsNeverReachStore(t *testing.T) {
	store := &scriptedStore{Store: appointment.NewMemoryStore()}
	svc := newService(store, nil)

	_, err := svc.Book(context.Background(), book("Jane", "", "jane@x.com", "", "Dr. Smith"))
	if !errors.Is(err, appointment.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}

	var mf *appointment.MissingFieldError
	if !errors.As(err, &mf) {
		t.Fatalf("expected *MissingFieldError, got %T", err)
	}
	if strings.Join(mf.Fields, ",") != "lastName,timeSlot" {
		t.Fatalf("unexpected missing fields %v", mf.Fields)
	}
	if store.calls != 0 {
		t.Fatalf("expected no store calls, got %d", store.calls)
	}
}

func TestService_BookInvalidDoctor(t *testing.T) {
	store := &scriptedStore{Store: appointment.NewMemoryStore()}
	svc := newService(store, nil)

	_, err := svc.Book(context.Background(), book("Jane", "Doe", "jane@x.com", "S1", "Dr. Who"))
	if !errors.Is(err, appointment.ErrInvalidDoctor) {
		t.Fatalf("expected ErrInvalidDoctor, got %v", err)
	}
	if store.calls != 0 {
		t.Fatalf("expected no store calls, got %d", store.calls)
	}
}

func TestService_ConcurrentBookSameSlot(t *testing.T) {
	const n = 50
	store := appointment.NewMemoryStore()
	svc := newService(store, nil)

	var (
		wg      sync.WaitGroup
		success int32
		taken   int32
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := svc.Book(context.Background(), book("P", fmt.Sprint(i), fmt.Sprintf("p%d@x.com", i), "2024-01-01T09:00", "Dr. Smith"))
			switch {
			case err == nil:
				atomic.AddInt32(&success, 1)
			case errors.Is(err, appointment.ErrSlotTaken):
				atomic.AddInt32(&taken, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if success != 1 || taken != n-1 {
		t.Fatalf("expected 1 success / %d taken, got %d / %d", n-1, success, taken)
	}

	list, err := svc.ListByDoctor(context.Background(), "Dr. Smith")
	if err != nil {
		t.Fatalf("ListByDoctor error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one live appointment, got %d", len(list))
	}
}

func TestService_RebookTakenSlotAlwaysFails(t *testing.T) {
	ctx := context.Background()
	svc := newService(appointment.NewMemoryStore(), nil)

	if _, err := svc.Book(ctx, book("Jane", "Doe", "jane@x.com", "S1", "Dr. Smith")); err != nil {
		t.Fatalf("Book error: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := svc.Book(ctx, book("John", "Roe", "john@x.com", "S1", "Dr. Smith")); !errors.Is(err, appointment.ErrSlotTaken) {
			t.Fatalf("attempt %d: expected ErrSlotTaken, got %v", i, err)
		}
	}

	list, err := svc.ListByDoctor(ctx, "Dr. Smith")
	if err != nil {
		t.Fatalf("ListByDoctor error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(list))
	}
}

func TestService_BookThenListByPatientRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newService(appointment.NewMemoryStore(), nil)

	created, err := svc.Book(ctx, book("Jane", "Doe", "jane@x.com", "S1", "Dr. Williams"))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}

	list, err := svc.ListByPatient(ctx, "jane@x.com")
	if err != nil {
		t.Fatalf("ListByPatient error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(list))
	}
	got := list[0]
	if got.ID != created.ID || got.Patient != created.Patient || got.TimeSlot != "S1" || got.DoctorName != "Dr. Williams" {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, created)
	}
}

func TestService_CancelThenRebookByOtherPatient(t *testing.T) {
	ctx := context.Background()
	svc := newService(appointment.NewMemoryStore(), nil)

	jane, err := svc.Book(ctx, book("Jane", "Doe", "jane@x.com", "S1", "Dr. Smith"))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}

	removed, err := svc.Cancel(ctx, "jane@x.com", "S1")
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if removed.ID != jane.ID {
		t.Fatalf("cancelled %s, want %s", removed.ID, jane.ID)
	}

	if _, err := svc.Book(ctx, book("John", "Roe", "john@x.com", "S1", "Dr. Smith")); err != nil {
		t.Fatalf("rebook after cancel error: %v", err)
	}
}

func TestService_EmptyResultsAreAsymmetric(t *testing.T) {
	ctx := context.Background()
	svc := newService(appointment.NewMemoryStore(), nil)

	if _, err := svc.ListByPatient(ctx, "nobody@x.com"); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound for empty patient list, got %v", err)
	}

	list, err := svc.ListByDoctor(ctx, "Dr. Johnson")
	if err != nil {
		t.Fatalf("expected empty doctor list to succeed, got %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	if _, err := svc.ListByDoctor(ctx, "Dr. Who"); !errors.Is(err, appointment.ErrInvalidDoctor) {
		t.Fatalf("expected ErrInvalidDoctor, got %v", err)
	}
}

func TestService_CancelAndRescheduleOutcomes(t *testing.T) {
	ctx := context.Background()
	svc := newService(appointment.NewMemoryStore(), nil)

	if _, err := svc.Cancel(ctx, "jane@x.com", "S1"); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound on cancel, got %v", err)
	}
	if _, err := svc.Reschedule(ctx, "jane@x.com", "S1", "S2"); !errors.Is(err, appointment.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound on reschedule, got %v", err)
	}
	if _, err := svc.Cancel(ctx, "", "S1"); !errors.Is(err, appointment.ErrMissingField) {
		t.Fatalf("expected ErrMissingField on cancel, got %v", err)
	}
	if _, err := svc.Reschedule(ctx, "jane@x.com", "S1", ""); !errors.Is(err, appointment.ErrMissingField) {
		t.Fatalf("expected ErrMissingField on reschedule, got %v", err)
	}

	if _, err := svc.Book(ctx, book("Jane", "Doe", "jane@x.com", "S1", "Dr. Smith")); err != nil {
		t.Fatalf("Book error: %v", err)
	}
	if _, err := svc.Book(ctx, book("John", "Roe", "john@x.com", "S2", "Dr. Smith")); err != nil {
		t.Fatalf("Book error: %v", err)
	}
	if _, err := svc.Reschedule(ctx, "jane@x.com", "S1", "S2"); !errors.Is(err, appointment.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken on reschedule, got %v", err)
	}
}

func TestService_ConcurrentRescheduleSwapNeverDoubleBooks(t *testing.T) {
	ctx := context.Background()
	svc := newService(appointment.NewMemoryStore(), nil)

	if _, err := svc.Book(ctx, book("A", "A", "a@x.com", "S1", "Dr. Smith")); err != nil {
		t.Fatalf("Book error: %v", err)
	}
	if _, err := svc.Book(ctx, book("B", "B", "b@x.com", "S2", "Dr. Smith")); err != nil {
		t.Fatalf("Book error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = svc.Reschedule(ctx, "a@x.com", "S1", "S2") }()
	go func() { defer wg.Done(); _, errs[1] = svc.Reschedule(ctx, "b@x.com", "S2", "S1") }()
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, appointment.ErrSlotTaken) {
			t.Fatalf("leg %d: expected ErrSlotTaken, got %v", i, err)
		}
	}

	list, err := svc.ListByDoctor(ctx, "Dr. Smith")
	if err != nil {
		t.Fatalf("ListByDoctor error: %v", err)
	}
	seen := map[string]int{}
	for _, a := range list {
		seen[a.TimeSlot]++
	}
	if seen["S1"] != 1 || seen["S2"] != 1 {
		t.Fatalf("expected one appointment per slot, got %v", seen)
	}
}

func TestService_RetriesTransientFailures(t *testing.T) {
	store := &scriptedStore{
		Store: appointment.NewMemoryStore(),
		failures: []error{
			appointment.Transient(errors.New("connection reset")),
			appointment.Transient(errors.New("connection reset")),
		},
	}
	rec := newCountingRecorder()
	svc := newService(store, rec)

	if _, err := svc.Book(context.Background(), book("Jane", "Doe", "jane@x.com", "S1", "Dr. Smith")); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 store calls, got %d", store.calls)
	}
	if rec.retries[appointment.OpBook] != 2 {
		t.Fatalf("expected 2 retries recorded, got %d", rec.retries[appointment.OpBook])
	}
	if rec.outcomes["book/success"] != 1 {
		t.Fatalf("expected success outcome, got %v", rec.outcomes)
	}
}

func TestService_TransientExhaustionSurfaces(t *testing.T) {
	transient := appointment.Transient(errors.New("pool exhausted on db-7"))
	store := &scriptedStore{
		Store:    appointment.NewMemoryStore(),
		failures: []error{transient, transient, transient, transient},
	}
	rec := newCountingRecorder()
	svc := newService(store, rec)

	_, err := svc.Book(context.Background(), book("Jane", "Doe", "jane@x.com", "S1", "Dr. Smith"))
	if !errors.Is(err, appointment.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if strings.Contains(err.Error(), "db-7") {
		t.Fatalf("internal detail leaked: %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("expected attempts capped at 3, got %d", store.calls)
	}
	if rec.outcomes["book/transient"] != 1 {
		t.Fatalf("expected transient outcome, got %v", rec.outcomes)
	}
}

func TestService_AttemptTimeoutIsRetried(t *testing.T) {
	store := &scriptedStore{Store: appointment.NewMemoryStore(), block: 1}
	svc := appointment.NewService(store, testDoctors, appointment.RetryPolicy{
		MaxAttempts:     2,
		AttemptTimeout:  20 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, nil, nil)

	created, err := svc.Book(context.Background(), book("Jane", "Doe", "jane@x.com", "S1", "Dr. Smith"))
	if err != nil {
		t.Fatalf("expected success on second attempt, got %v", err)
	}
	if created.TimeSlot != "S1" {
		t.Fatalf("unexpected appointment %+v", created)
	}
	if store.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", store.calls)
	}
}

func TestService_UnknownFailureIsInternalAndNotRetried(t *testing.T) {
	store := &scriptedStore{
		Store:    appointment.NewMemoryStore(),
		failures: []error{errors.New("syntax error at or near SELEKT")},
	}
	rec := newCountingRecorder()
	svc := newService(store, rec)

	_, err := svc.Book(context.Background(), book("Jane", "Doe", "jane@x.com", "S1", "Dr. Smith"))
	if !errors.Is(err, appointment.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if strings.Contains(err.Error(), "SELEKT") {
		t.Fatalf("internal detail leaked: %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", store.calls)
	}
	if rec.outcomes["book/internal"] != 1 {
		t.Fatalf("expected internal outcome, got %v", rec.outcomes)
	}
}

func TestService_CancelledCallerStopsRetries(t *testing.T) {
	store := &scriptedStore{
		Store:    appointment.NewMemoryStore(),
		failures: []error{appointment.Transient(errors.New("timeout"))},
	}
	svc := newService(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Book(ctx, book("Jane", "Doe", "jane@x.com", "S1", "Dr. Smith")); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if store.calls > 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", store.calls)
	}
}
