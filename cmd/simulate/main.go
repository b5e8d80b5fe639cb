package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"golang.org/x/sync/errgroup"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	PatientCount    int
	SlotCount       int
}

type patient struct {
	FirstName string
	LastName  string
	Email     string
}

// held is a booking the simulator believes a patient owns.
type held struct {
	Email    string
	TimeSlot string
}

type DataPool struct {
	Doctors  []string
	Patients []patient
	Slots    []string

	mu   sync.Mutex
	held []held
}

func (dp *DataPool) AddHeld(h held) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.held = append(dp.held, h)
}

// TakeHeld removes and returns a random held booking.
func (dp *DataPool) TakeHeld(rng *rand.Rand) (held, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.held) == 0 {
		return held{}, false
	}
	idx := rng.Intn(len(dp.held))
	h := dp.held[idx]
	dp.held[idx] = dp.held[len(dp.held)-1]
	dp.held = dp.held[:len(dp.held)-1]
	return h, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type SimMetrics struct {
	Booking       OperationMetrics
	Reschedule    OperationMetrics
	Cancel        OperationMetrics
	ListByDoctor  OperationMetrics
	ListByPatient OperationMetrics

	// DoubleBookings counts (doctor, slot) pairs seen with more than one
	// appointment in a single listing.
	DoubleBookings int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics SimMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f reschedule=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.RescheduleRatio, cfg.CancelRatio, cfg.ReadRatio)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doctors, err := sim.fetchDoctors(ctx)
	if err != nil {
		log.Fatalf("load doctors: %v", err)
	}
	sim.pool = buildDataPool(doctors, cfg)

	log.Printf("loaded: %d doctors, %d patients, %d slots", len(sim.pool.Doctors), len(sim.pool.Patients), len(sim.pool.Slots))

	if err := sim.Run(); err != nil {
		log.Fatalf("simulation: %v", err)
	}

	auditCtx, cancelAudit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelAudit()
	if err := sim.Audit(auditCtx); err != nil {
		log.Printf("final audit failed: %v", err)
	}

	sim.PrintReport()

	if atomic.LoadInt64(&sim.metrics.DoubleBookings) > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.2),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.2),
		PatientCount:    getInt("SIM_PATIENT_COUNT", 200),
		SlotCount:       getInt("SIM_SLOT_COUNT", 20),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.PatientCount <= 0 || cfg.SlotCount <= 0 {
		return fmt.Errorf("SIM_PATIENT_COUNT and SIM_SLOT_COUNT must be > 0")
	}
	return nil
}

// buildDataPool keeps the slot space small so workers collide on the same
// (doctor, slot) pairs.
func buildDataPool(doctors []string, cfg SimConfig) *DataPool {
	dp := &DataPool{Doctors: doctors}

	for i := 0; i < cfg.PatientCount; i++ {
		dp.Patients = append(dp.Patients, patient{
			FirstName: gofakeit.FirstName(),
			LastName:  gofakeit.LastName(),
			Email:     fmt.Sprintf("%d.%s", i, gofakeit.Email()),
		})
	}

	day := time.Now().UTC().AddDate(0, 0, 1)
	for i := 0; i < cfg.SlotCount; i++ {
		slot := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * 30 * time.Minute)
		dp.Slots = append(dp.Slots, slot.Format("2006-01-02T15:04"))
	}

	return dp
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var g errgroup.Group
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID)
			return nil
		})
	}

	err := g.Wait()
	log.Println("simulation complete")
	return err
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.RescheduleRatio:
				s.doReschedule(ctx, rng)
			case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doListByDoctor(ctx, rng)
				} else {
					s.doListByPatient(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	status, err := s.send(ctx, http.MethodPost, "/appointments", map[string]string{
		"firstName":  p.FirstName,
		"lastName":   p.LastName,
		"email":      p.Email,
		"timeSlot":   slot,
		"doctorName": s.pool.Doctors[rng.Intn(len(s.pool.Doctors))],
	}, nil)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success {
		s.pool.AddHeld(held{Email: p.Email, TimeSlot: slot})
	}
	s.metrics.Booking.Record(latency, success, err == nil && status == http.StatusBadRequest)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	h, ok := s.pool.TakeHeld(rng)
	if !ok {
		return
	}
	target := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	status, err := s.send(ctx, http.MethodPut, "/appointments", map[string]string{
		"email":            h.Email,
		"originalTimeSlot": h.TimeSlot,
		"newTimeSlot":      target,
	}, nil)
	latency := time.Since(start)

	success := err == nil && status == http.StatusOK
	switch {
	case success:
		s.pool.AddHeld(held{Email: h.Email, TimeSlot: target})
	case err == nil && status == http.StatusBadRequest:
		s.pool.AddHeld(h)
	}
	s.metrics.Reschedule.Record(latency, success, err == nil && status == http.StatusBadRequest)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	h, ok := s.pool.TakeHeld(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.send(ctx, http.MethodDelete, "/appointments", map[string]string{
		"email":    h.Email,
		"timeSlot": h.TimeSlot,
	}, nil)
	latency := time.Since(start)

	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, err == nil && status == http.StatusNotFound)
}

func (s *Simulator) doListByDoctor(ctx context.Context, rng *rand.Rand) {
	name := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]

	start := time.Now()
	list, err := s.listDoctor(ctx, name)
	latency := time.Since(start)

	if err == nil {
		s.checkExclusive(name, list)
	}
	s.metrics.ListByDoctor.Record(latency, err == nil, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	status, err := s.send(ctx, http.MethodGet, "/appointments/"+url.PathEscape(p.Email), nil, nil)
	latency := time.Since(start)

	ok := err == nil && (status == http.StatusOK || status == http.StatusNotFound)
	s.metrics.ListByPatient.Record(latency, ok, false)
}

type listedAppointment struct {
	ID       string `json:"id"`
	TimeSlot string `json:"timeSlot"`
}

type appointmentList struct {
	Appointments []listedAppointment `json:"appointments"`
}

func (s *Simulator) listDoctor(ctx context.Context, name string) (appointmentList, error) {
	var list appointmentList
	status, err := s.send(ctx, http.MethodGet, "/appointments/doctor/"+url.PathEscape(name), nil, &list)
	if err != nil {
		return list, err
	}
	if status != http.StatusOK {
		return list, fmt.Errorf("list %s: status %d", name, status)
	}
	return list, nil
}

// checkExclusive counts slots held by more than one appointment.
func (s *Simulator) checkExclusive(doctorName string, list appointmentList) int {
	seen := make(map[string]int, len(list.Appointments))
	for _, a := range list.Appointments {
		seen[a.TimeSlot]++
	}

	violations := 0
	for slot, n := range seen {
		if n > 1 {
			violations++
			log.Printf("DOUBLE BOOKING: doctor=%q slot=%s appointments=%d", doctorName, slot, n)
		}
	}
	atomic.AddInt64(&s.metrics.DoubleBookings, int64(violations))
	return violations
}

// Audit lists every doctor once more after the load has stopped.
func (s *Simulator) Audit(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.pool.Doctors {
		g.Go(func() error {
			list, err := s.listDoctor(ctx, name)
			if err != nil {
				return err
			}
			s.checkExclusive(name, list)
			return nil
		})
	}
	return g.Wait()
}

func (s *Simulator) fetchDoctors(ctx context.Context) ([]string, error) {
	var resp struct {
		Doctors []string `json:"doctors"`
	}
	status, err := s.send(ctx, http.MethodGet, "/doctors", nil, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || len(resp.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors available (status %d)", status)
	}
	return resp.Doctors, nil
}

// send issues one JSON request and decodes a 2xx body into out when given.
func (s *Simulator) send(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List by Doctor", &s.metrics.ListByDoctor)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)

	fmt.Printf("Double bookings observed: %d\n", atomic.LoadInt64(&s.metrics.DoubleBookings))
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
