package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgQueryCanceled        = "57014"
)

const appointmentColumns = `id, first_name, last_name, email, time_slot, doctor_name, created_at, updated_at`

// PgStore relies on the appointments_doctor_slot_key unique constraint for
// doctor/slot exclusivity.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.Patient.FirstName,
		&a.Patient.LastName,
		&a.Patient.Email,
		&a.TimeSlot,
		&a.DoctorName,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// classifyPgError maps driver failures onto the store error contract.
func classifyPgError(err error) error {
	if err == nil || errors.Is(err, ErrAppointmentNotFound) || errors.Is(err, ErrSlotTaken) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrSlotTaken
		case pgSerializationFailure, pgDeadlockDetected, pgQueryCanceled:
			return Transient(err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return Transient(err)
	}

	return err
}

// Interface methods

func (r *PgStore) FindByDoctorAndSlot(ctx context.Context, doctorName, timeSlot string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_name = $1 AND time_slot = $2
	`, doctorName, timeSlot)

	a, err := scanAppointment(row)
	return a, classifyPgError(err)
}

func (r *PgStore) Reserve(ctx context.Context, appt Appointment) (*Appointment, error) {
	// The conflict branch only returns a row when the holder is this very
	// appointment, i.e. a retried insert that already committed.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, first_name, last_name, email, time_slot, doctor_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (doctor_name, time_slot) DO UPDATE
		SET updated_at = appointments.updated_at
		WHERE appointments.id = EXCLUDED.id
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.Patient.FirstName, appt.Patient.LastName, appt.Patient.Email, appt.TimeSlot, appt.DoctorName)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrSlotTaken
	}
	if err != nil {
		return nil, fmt.Errorf("reserve slot: %w", classifyPgError(err))
	}
	return a, nil
}

func (r *PgStore) Release(ctx context.Context, email, timeSlot string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		DELETE FROM appointments
		WHERE id = (
			SELECT id FROM appointments
			WHERE email = $1 AND time_slot = $2
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE
		)
		RETURNING `+appointmentColumns+`
	`, email, timeSlot)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("release slot: %w", classifyPgError(err))
	}
	return a, nil
}

func (r *PgStore) TransferSlot(ctx context.Context, email, fromTimeSlot, toTimeSlot string) (*Appointment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transfer: %w", classifyPgError(err))
	}
	defer tx.Rollback(ctx)

	current, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE email = $1 AND time_slot = $2
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE
	`, email, fromTimeSlot))
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lock appointment: %w", classifyPgError(err))
	}

	// Committed holders of the target are rejected up front, so a pair of
	// crossing transfers fails cleanly instead of deadlocking on each
	// other's rows.
	var holder uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM appointments
		WHERE doctor_name = $1 AND time_slot = $2
	`, current.DoctorName, toTimeSlot).Scan(&holder)
	switch {
	case err == nil && holder != current.ID:
		return nil, ErrSlotTaken
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("check target slot: %w", classifyPgError(err))
	}

	// A competing holder of (doctor, toTimeSlot) surfaces as a unique
	// violation on this update, which also waits on any in-flight insert of
	// the same key.
	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET time_slot = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, current.ID, toTimeSlot))
	if err != nil {
		if errors.Is(classifyPgError(err), ErrSlotTaken) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("move appointment: %w", classifyPgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", classifyPgError(err))
	}

	return updated, nil
}

func (r *PgStore) FindByPatient(ctx context.Context, email string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE email = $1
		ORDER BY created_at, id
	`, email)
	if err != nil {
		return nil, fmt.Errorf("find by patient: %w", classifyPgError(err))
	}

	result, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("scan by patient: %w", classifyPgError(err))
	}
	return result, nil
}

func (r *PgStore) FindByDoctor(ctx context.Context, doctorName string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_name = $1
		ORDER BY created_at, id
	`, doctorName)
	if err != nil {
		return nil, fmt.Errorf("find by doctor: %w", classifyPgError(err))
	}

	result, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("scan by doctor: %w", classifyPgError(err))
	}
	return result, nil
}
