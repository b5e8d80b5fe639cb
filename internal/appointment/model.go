package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	FirstName string
	LastName  string
	Email     string // identity key, not validated as an address
}

// Appointment reserves one (DoctorName, TimeSlot) pair for a patient.
// TimeSlot is an opaque token compared only for equality.
type Appointment struct {
	ID         uuid.UUID
	Patient    Patient
	TimeSlot   string
	DoctorName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SlotKey identifies the unit of exclusivity: one doctor at one slot.
type SlotKey struct {
	DoctorName string
	TimeSlot   string
}

func (a Appointment) SlotKey() SlotKey {
	return SlotKey{DoctorName: a.DoctorName, TimeSlot: a.TimeSlot}
}

// BookRequest carries the inputs of a booking.
type BookRequest struct {
	FirstName  string
	LastName   string
	Email      string
	TimeSlot   string
	DoctorName string
}
