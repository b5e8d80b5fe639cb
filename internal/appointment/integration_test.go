package appointment_test

import (
	"context"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/appointment/storetest"
	"github.com/hackgods/doctor-appointment-booking/internal/db"
)

// Run against real servers with TEST_POSTGRES_DSN / TEST_MONGO_URI set.

func TestPgStore_Conformance(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("ConnectPostgres error: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.MigratePostgres(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("MigratePostgres error: %v", err)
	}

	storetest.Run(t, func(t *testing.T) appointment.Store {
		if _, err := pool.Exec(ctx, `TRUNCATE appointments`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return appointment.NewPgStore(pool)
	})
}

func TestMongoStore_Conformance(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, err := db.ConnectMongo(ctx, uri)
	if err != nil {
		t.Fatalf("ConnectMongo error: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	database := client.Database("doctor_appointments_test")

	storetest.Run(t, func(t *testing.T) appointment.Store {
		if err := database.Collection(appointment.AppointmentsCollection).Drop(ctx); err != nil {
			t.Fatalf("drop collection: %v", err)
		}
		s := appointment.NewMongoStore(database)
		if err := s.EnsureIndexes(ctx); err != nil {
			t.Fatalf("EnsureIndexes error: %v", err)
		}
		return s
	})
}
