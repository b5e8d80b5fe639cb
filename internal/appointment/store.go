package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingField        = errors.New("missing required field")
	ErrInvalidDoctor       = errors.New("invalid doctor name")
	ErrSlotTaken           = errors.New("time slot is already booked for this doctor")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrTransient           = errors.New("store temporarily unavailable")
	ErrInternal            = errors.New("internal error")
)

// MissingFieldError lists the required inputs that were empty.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// Transient marks err as retryable while keeping it inspectable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Store owns the durable set of appointments. Every mutation is a single
// atomic step with respect to other mutations on the same (doctor, slot).
// Backends return ErrAppointmentNotFound when a lookup matches nothing,
// ErrSlotTaken when a reservation would break doctor/slot uniqueness and
// ErrTransient for timeouts and unavailability.
type Store interface {
	FindByDoctorAndSlot(ctx context.Context, doctorName, timeSlot string) (*Appointment, error)

	// Reserve inserts the appointment if nobody holds its (doctor, slot).
	// Reserving again with the ID that already holds the slot returns the
	// stored record, so an attempt that timed out after committing can be
	// retried safely.
	Reserve(ctx context.Context, appt Appointment) (*Appointment, error)

	// Release removes the patient's appointment at timeSlot. When the
	// patient holds several there (different doctors) the earliest created
	// one goes.
	Release(ctx context.Context, email, timeSlot string) (*Appointment, error)

	// TransferSlot moves the patient's appointment from one slot to another
	// for the same doctor, failing with ErrSlotTaken if a different
	// appointment already holds the target.
	TransferSlot(ctx context.Context, email, fromTimeSlot, toTimeSlot string) (*Appointment, error)

	// Read side, ordered by creation time.
	FindByPatient(ctx context.Context, email string) ([]Appointment, error)
	FindByDoctor(ctx context.Context, doctorName string) ([]Appointment, error)
}

// DoctorRegistry validates doctor identity against the configured roster.
type DoctorRegistry interface {
	IsValid(name string) bool
}
