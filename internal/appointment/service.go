package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	OpBook          = "book"
	OpListByPatient = "list_by_patient"
	OpListByDoctor  = "list_by_doctor"
	OpCancel        = "cancel"
	OpReschedule    = "reschedule"
)

var tracer = otel.Tracer("github.com/hackgods/doctor-appointment-booking/internal/appointment")

// Recorder receives booking outcomes and store timings.
type Recorder interface {
	ObserveOutcome(op, outcome string)
	ObserveStore(op string, d time.Duration)
	IncRetry(op string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOutcome(string, string)      {}
func (nopRecorder) ObserveStore(string, time.Duration) {}
func (nopRecorder) IncRetry(string)                    {}

type Service struct {
	store   Store
	doctors DoctorRegistry
	retry   RetryPolicy
	log     *zap.Logger
	metrics Recorder
}

func NewService(store Store, doctors DoctorRegistry, retry RetryPolicy, log *zap.Logger, metrics Recorder) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Service{
		store:   store,
		doctors: doctors,
		retry:   retry.normalized(),
		log:     log,
		metrics: metrics,
	}
}

// Book reserves (doctor, slot) for a patient. Presence and roster checks
// run first; uniqueness is decided only by the store's atomic Reserve.
func (s *Service) Book(ctx context.Context, req BookRequest) (appt *Appointment, err error) {
	ctx, done := s.begin(ctx, OpBook,
		attribute.String("doctor", req.DoctorName),
		attribute.String("time_slot", req.TimeSlot),
	)
	defer func() { err = done(err) }()

	if err := requireFields(
		"firstName", req.FirstName,
		"lastName", req.LastName,
		"email", req.Email,
		"timeSlot", req.TimeSlot,
		"doctorName", req.DoctorName,
	); err != nil {
		return nil, err
	}
	if !s.doctors.IsValid(req.DoctorName) {
		return nil, ErrInvalidDoctor
	}

	candidate := Appointment{
		ID: uuid.New(),
		Patient: Patient{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
		},
		TimeSlot:   req.TimeSlot,
		DoctorName: req.DoctorName,
	}

	created, err := withRetry(ctx, s, OpBook, func(ctx context.Context) (*Appointment, error) {
		return s.store.Reserve(ctx, candidate)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor", created.DoctorName),
		zap.String("time_slot", created.TimeSlot),
	)
	return created, nil
}

// ListByPatient reports ErrAppointmentNotFound when the patient holds
// nothing, unlike ListByDoctor.
func (s *Service) ListByPatient(ctx context.Context, email string) (list []Appointment, err error) {
	ctx, done := s.begin(ctx, OpListByPatient)
	defer func() { err = done(err) }()

	if err := requireFields("email", email); err != nil {
		return nil, err
	}

	list, err = withRetry(ctx, s, OpListByPatient, func(ctx context.Context) ([]Appointment, error) {
		return s.store.FindByPatient(ctx, email)
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrAppointmentNotFound
	}
	return list, nil
}

// ListByDoctor returns every live appointment of a registered doctor. An
// empty result is a valid outcome.
func (s *Service) ListByDoctor(ctx context.Context, doctorName string) (list []Appointment, err error) {
	ctx, done := s.begin(ctx, OpListByDoctor, attribute.String("doctor", doctorName))
	defer func() { err = done(err) }()

	if !s.doctors.IsValid(doctorName) {
		return nil, ErrInvalidDoctor
	}

	return withRetry(ctx, s, OpListByDoctor, func(ctx context.Context) ([]Appointment, error) {
		return s.store.FindByDoctor(ctx, doctorName)
	})
}

// Cancel releases the patient's appointment at timeSlot and returns the
// removed record.
func (s *Service) Cancel(ctx context.Context, email, timeSlot string) (appt *Appointment, err error) {
	ctx, done := s.begin(ctx, OpCancel, attribute.String("time_slot", timeSlot))
	defer func() { err = done(err) }()

	if err := requireFields("email", email, "timeSlot", timeSlot); err != nil {
		return nil, err
	}

	removed, err := withRetry(ctx, s, OpCancel, func(ctx context.Context) (*Appointment, error) {
		return s.store.Release(ctx, email, timeSlot)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", removed.ID.String()),
		zap.String("doctor", removed.DoctorName),
		zap.String("time_slot", removed.TimeSlot),
	)
	return removed, nil
}

// Reschedule moves the patient's appointment to newTimeSlot with the same
// doctor in one atomic store step.
func (s *Service) Reschedule(ctx context.Context, email, originalTimeSlot, newTimeSlot string) (appt *Appointment, err error) {
	ctx, done := s.begin(ctx, OpReschedule,
		attribute.String("from_time_slot", originalTimeSlot),
		attribute.String("to_time_slot", newTimeSlot),
	)
	defer func() { err = done(err) }()

	if err := requireFields(
		"email", email,
		"originalTimeSlot", originalTimeSlot,
		"newTimeSlot", newTimeSlot,
	); err != nil {
		return nil, err
	}

	updated, err := withRetry(ctx, s, OpReschedule, func(ctx context.Context) (*Appointment, error) {
		return s.store.TransferSlot(ctx, email, originalTimeSlot, newTimeSlot)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("doctor", updated.DoctorName),
		zap.String("from_time_slot", originalTimeSlot),
		zap.String("to_time_slot", updated.TimeSlot),
	)
	return updated, nil
}

// begin opens a span for op. The returned func classifies the final error,
// records the outcome and ends the span.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error) error) {
	ctx, span := tracer.Start(ctx, "appointment."+op)
	span.SetAttributes(attrs...)

	return ctx, func(err error) error {
		defer span.End()

		err = s.classify(op, err)
		outcome := Outcome(err)
		s.metrics.ObserveOutcome(op, outcome)
		span.SetAttributes(attribute.String("outcome", outcome))

		if errors.Is(err, ErrTransient) || errors.Is(err, ErrInternal) {
			span.SetStatus(codes.Error, outcome)
		}
		return err
	}
}

// classify turns anything outside the domain taxonomy into ErrInternal,
// logging the detail instead of returning it.
func (s *Service) classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMissingField),
		errors.Is(err, ErrInvalidDoctor),
		errors.Is(err, ErrSlotTaken),
		errors.Is(err, ErrAppointmentNotFound):
		return err
	case errors.Is(err, ErrTransient):
		s.log.Error("store unavailable after retries", zap.String("operation", op), zap.Error(err))
		return ErrTransient
	default:
		s.log.Error("booking operation failed", zap.String("operation", op), zap.Error(err))
		return ErrInternal
	}
}

// Outcome names the result of an operation for metrics and traces.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidDoctor):
		return "invalid_doctor"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}

// requireFields takes name/value pairs and reports every empty value.
func requireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return &MissingFieldError{Fields: missing}
	}
	return nil
}
