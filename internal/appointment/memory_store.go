package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps appointments in process memory. One mutex covers the
// whole set, which is fine for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]Appointment
	bySlot map[SlotKey]uuid.UUID
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[uuid.UUID]Appointment),
		bySlot: make(map[SlotKey]uuid.UUID),
		now:    time.Now,
	}
}

func (m *MemoryStore) FindByDoctorAndSlot(ctx context.Context, doctorName, timeSlot string) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySlot[SlotKey{DoctorName: doctorName, TimeSlot: timeSlot}]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a := m.byID[id]
	return &a, nil
}

func (m *MemoryStore) Reserve(ctx context.Context, appt Appointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := appt.SlotKey()
	if holder, ok := m.bySlot[key]; ok {
		if holder == appt.ID {
			a := m.byID[holder]
			return &a, nil
		}
		return nil, ErrSlotTaken
	}

	now := m.now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now

	m.byID[appt.ID] = appt
	m.bySlot[key] = appt.ID

	return &appt, nil
}

func (m *MemoryStore) Release(ctx context.Context, email, timeSlot string) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.earliestLocked(email, timeSlot)
	if !ok {
		return nil, ErrAppointmentNotFound
	}

	delete(m.byID, a.ID)
	delete(m.bySlot, a.SlotKey())

	return &a, nil
}

func (m *MemoryStore) TransferSlot(ctx context.Context, email, fromTimeSlot, toTimeSlot string) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.earliestLocked(email, fromTimeSlot)
	if !ok {
		return nil, ErrAppointmentNotFound
	}

	target := SlotKey{DoctorName: a.DoctorName, TimeSlot: toTimeSlot}
	if holder, taken := m.bySlot[target]; taken && holder != a.ID {
		return nil, ErrSlotTaken
	}

	delete(m.bySlot, a.SlotKey())
	a.TimeSlot = toTimeSlot
	a.UpdatedAt = m.now().UTC()
	m.bySlot[target] = a.ID
	m.byID[a.ID] = a

	return &a, nil
}

func (m *MemoryStore) FindByPatient(ctx context.Context, email string) ([]Appointment, error) {
	return m.filter(ctx, func(a Appointment) bool { return a.Patient.Email == email })
}

func (m *MemoryStore) FindByDoctor(ctx context.Context, doctorName string) ([]Appointment, error) {
	return m.filter(ctx, func(a Appointment) bool { return a.DoctorName == doctorName })
}

func (m *MemoryStore) filter(ctx context.Context, keep func(Appointment) bool) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	result := make([]Appointment, 0)
	for _, a := range m.byID {
		if keep(a) {
			result = append(result, a)
		}
	}
	m.mu.RUnlock()

	sortByCreation(result)
	return result, nil
}

// earliestLocked must be called with mu held.
func (m *MemoryStore) earliestLocked(email, timeSlot string) (Appointment, bool) {
	var (
		found Appointment
		ok    bool
	)
	for _, a := range m.byID {
		if a.Patient.Email != email || a.TimeSlot != timeSlot {
			continue
		}
		if !ok || createdBefore(a, found) {
			found, ok = a, true
		}
	}
	return found, ok
}

func createdBefore(a, b Appointment) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func sortByCreation(list []Appointment) {
	sort.Slice(list, func(i, j int) bool { return createdBefore(list[i], list[j]) })
}
