package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/bootstrap"
	"github.com/hackgods/doctor-appointment-booking/internal/config"
	"github.com/hackgods/doctor-appointment-booking/internal/doctor"
	"github.com/hackgods/doctor-appointment-booking/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	count := getInt("SEED_COUNT", 500)
	concurrency := getInt("SEED_CONCURRENCY", 16)
	days := getInt("SEED_DAYS", 14)

	log.Info("seed starting",
		zap.String("store_backend", cfg.StoreBackend),
		zap.Int("count", count),
		zap.Int("concurrency", concurrency),
	)

	ctx := context.Background()
	backend, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer backend.Close()

	doctors := doctor.NewRegistry(cfg.Doctors)
	svc := appointment.NewService(backend.Store, doctors, bootstrap.RetryPolicy(cfg), zap.NewNop(), nil)

	slots := workingSlots(time.Now().UTC(), days)

	booked, taken, err := seedAppointments(ctx, svc, doctors.Names(), slots, count, concurrency)
	if err != nil {
		log.Fatal("seed appointments", zap.Error(err))
	}

	log.Info("seed complete", zap.Int64("booked", booked), zap.Int64("slot_taken", taken))
}

// seedAppointments books count random patients into random (doctor, slot)
// pairs. Collisions are expected and counted, not treated as failures.
func seedAppointments(ctx context.Context, svc *appointment.Service, doctors, slots []string, count, concurrency int) (booked, taken int64, err error) {
	if len(doctors) == 0 || len(slots) == 0 {
		return 0, 0, errors.New("no doctors or slots to seed")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := 0; i < count; i++ {
		req := appointment.BookRequest{
			FirstName:  gofakeit.FirstName(),
			LastName:   gofakeit.LastName(),
			Email:      gofakeit.Email(),
			TimeSlot:   slots[gofakeit.Number(0, len(slots)-1)],
			DoctorName: doctors[gofakeit.Number(0, len(doctors)-1)],
		}

		g.Go(func() error {
			_, err := svc.Book(ctx, req)
			switch {
			case err == nil:
				atomic.AddInt64(&booked, 1)
			case errors.Is(err, appointment.ErrSlotTaken):
				atomic.AddInt64(&taken, 1)
			default:
				return fmt.Errorf("book %s at %s: %w", req.DoctorName, req.TimeSlot, err)
			}
			return nil
		})
	}

	err = g.Wait()
	return atomic.LoadInt64(&booked), atomic.LoadInt64(&taken), err
}

// workingSlots lists hourly slots from 09:00 to 16:00 on the weekdays of
// the next n days, formatted like 2024-01-01T09:00.
func workingSlots(from time.Time, n int) []string {
	var slots []string
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	for d := 1; d <= n; d++ {
		day := start.AddDate(0, 0, d)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		for h := 9; h < 17; h++ {
			slots = append(slots, day.Add(time.Duration(h)*time.Hour).Format("2006-01-02T15:04"))
		}
	}
	return slots
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
