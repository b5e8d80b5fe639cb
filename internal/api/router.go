package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-booking/internal/appointment"
	"github.com/hackgods/doctor-appointment-booking/internal/metrics"
)

type BookingService interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	ListByPatient(ctx context.Context, email string) ([]appointment.Appointment, error)
	ListByDoctor(ctx context.Context, doctorName string) ([]appointment.Appointment, error)
	Cancel(ctx context.Context, email, timeSlot string) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, email, originalTimeSlot, newTimeSlot string) (*appointment.Appointment, error)
}

type DoctorLister interface {
	Names() []string
}

type RouterConfig struct {
	Service BookingService
	Doctors DoctorLister
	Checks  map[string]Check
	Metrics *metrics.Collector // optional
	Log     *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/doctors", listDoctorsHandler(cfg.Doctors))

	// Appointment endpoints
	r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	r.Delete("/appointments", cancelAppointmentHandler(cfg.Service))
	r.Put("/appointments", rescheduleAppointmentHandler(cfg.Service))
	r.Get("/appointments/doctor/{doctorName}", listDoctorAppointmentsHandler(cfg.Service))
	r.Get("/appointments/{email}", listPatientAppointmentsHandler(cfg.Service))

	return r
}
