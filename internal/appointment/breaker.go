package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type BreakerSettings struct {
	Name        string
	MaxFailures int           // consecutive infrastructure failures before opening
	OpenTimeout time.Duration // time spent open before a half-open probe
}

// BreakerStore fails fast with ErrTransient while the wrapped store keeps
// failing. Domain outcomes such as ErrSlotTaken count as healthy calls.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerStore(next Store, settings BreakerSettings, log *zap.Logger) *BreakerStore {
	if log == nil {
		log = zap.NewNop()
	}
	maxFailures := uint32(settings.MaxFailures)
	if maxFailures == 0 {
		maxFailures = 1
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrSlotTaken) ||
				errors.Is(err, ErrAppointmentNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("store breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &BreakerStore{next: next, cb: cb}
}

func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func execute[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, Transient(err)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (b *BreakerStore) FindByDoctorAndSlot(ctx context.Context, doctorName, timeSlot string) (*Appointment, error) {
	return execute(b, func() (*Appointment, error) {
		return b.next.FindByDoctorAndSlot(ctx, doctorName, timeSlot)
	})
}

func (b *BreakerStore) Reserve(ctx context.Context, appt Appointment) (*Appointment, error) {
	return execute(b, func() (*Appointment, error) {
		return b.next.Reserve(ctx, appt)
	})
}

func (b *BreakerStore) Release(ctx context.Context, email, timeSlot string) (*Appointment, error) {
	return execute(b, func() (*Appointment, error) {
		return b.next.Release(ctx, email, timeSlot)
	})
}

func (b *BreakerStore) TransferSlot(ctx context.Context, email, fromTimeSlot, toTimeSlot string) (*Appointment, error) {
	return execute(b, func() (*Appointment, error) {
		return b.next.TransferSlot(ctx, email, fromTimeSlot, toTimeSlot)
	})
}

func (b *BreakerStore) FindByPatient(ctx context.Context, email string) ([]Appointment, error) {
	return execute(b, func() ([]Appointment, error) {
		return b.next.FindByPatient(ctx, email)
	})
}

func (b *BreakerStore) FindByDoctor(ctx context.Context, doctorName string) ([]Appointment, error) {
	return execute(b, func() ([]Appointment, error) {
		return b.next.FindByDoctor(ctx, doctorName)
	})
}
