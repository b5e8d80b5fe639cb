package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

var migrations = []struct {
	name  string
	query string
}{
	{
		name: "create_appointments",
		query: `CREATE TABLE IF NOT EXISTS appointments (
			id          UUID PRIMARY KEY,
			first_name  TEXT NOT NULL,
			last_name   TEXT NOT NULL,
			email       TEXT NOT NULL,
			time_slot   TEXT NOT NULL,
			doctor_name TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT appointments_doctor_slot_key UNIQUE (doctor_name, time_slot)
		)`,
	},
	{
		name:  "idx_appointments_patient_slot",
		query: `CREATE INDEX IF NOT EXISTS idx_appointments_patient_slot ON appointments (email, time_slot, created_at)`,
	},
	{
		name:  "idx_appointments_doctor_created",
		query: `CREATE INDEX IF NOT EXISTS idx_appointments_doctor_created ON appointments (doctor_name, created_at)`,
	},
}

// MigratePostgres creates the appointments table and its indexes. Every
// statement is idempotent.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	log.Info("running database migrations")
	start := time.Now()

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.query); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}
