package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/teembama/clinic-scheduling/internal/config"
	"github.com/teembama/clinic-scheduling/internal/db"
	"github.com/teembama/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	CancelRatio     float64
	RescheduleRatio float64
	ReadRatio       float64
	Patients        int
	SlotLimit       int
	PostgresDSN     string
}

type simSlot struct {
	ID          uuid.UUID
	ClinicianID uuid.UUID
	StartTime   time.Time
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []simSlot
	mu       sync.RWMutex
	bookings []uuid.UUID
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
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
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

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

type Metrics struct {
	Booking         OperationMetrics
	Cancel          OperationMetrics
	Reschedule      OperationMetrics
	ReadBooking     OperationMetrics
	PatientBookings OperationMetrics
	AvailableSlots  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		boot := logging.New("simulate", "prod", "info")
		boot.Fatal().Err(err).Msg("failed to load base config")
	}
	log := logging.New("simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("slots", len(dataPool.Slots)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	violations, err := verifyInvariants(context.Background(), pgPool)
	if err != nil {
		log.Fatal().Err(err).Msg("verify invariants")
	}
	if len(violations) > 0 {
		for _, v := range violations {
			log.Error().Msg(v)
		}
		os.Exit(1)
	}
	log.Info().Msg("no double bookings or orphaned reservations found")
}

func loadConfig(baseCfg config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.4),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.15),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		Patients:        getInt("SIM_PATIENTS", 500),
		SlotLimit:       getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:     baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.RescheduleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.RescheduleRatio /= total
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
	if cfg.Patients <= 0 {
		return fmt.Errorf("SIM_PATIENTS must be > 0")
	}
	return nil
}

// loadDataPool picks future open slots to contend over. Patients are
// external identities, so the simulator invents them.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	for i := 0; i < cfg.Patients; i++ {
		dataPool.Patients = append(dataPool.Patients, uuid.New())
	}

	rows, err := pool.Query(ctx, `
		SELECT id, clinician_id, start_time FROM slots
		WHERE status = 'open' AND start_time > now()
		ORDER BY start_time
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s simSlot
		if err := rows.Scan(&s.ID, &s.ClinicianID, &s.StartTime); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no open slots loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Msg("simulation running")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
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
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio+s.config.RescheduleRatio:
				s.doReschedule(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadBooking(ctx, rng)
				case 1:
					s.doPatientBookings(ctx, rng)
				case 2:
					s.doAvailableSlots(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	var created struct {
		BookingID uuid.UUID `json:"booking_id"`
	}
	status, latency, err := s.send(ctx, http.MethodPost, "/bookings", map[string]any{
		"patient_id":   patientID.String(),
		"clinician_id": slot.ClinicianID.String(),
		"slot_id":      slot.ID.String(),
	}, &created)

	success := err == nil && status == http.StatusCreated
	if success && created.BookingID != uuid.Nil {
		s.pool.AddBooking(created.BookingID)
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	status, latency, err := s.send(ctx, http.MethodPost, "/bookings/"+bookingID.String()+"/cancel", nil, nil)
	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	var moved struct {
		BookingID uuid.UUID `json:"booking_id"`
	}
	status, latency, err := s.send(ctx, http.MethodPost, "/bookings/"+bookingID.String()+"/reschedule", map[string]any{
		"new_slot_id": slot.ID.String(),
	}, &moved)

	success := err == nil && status == http.StatusOK
	if success && moved.BookingID != uuid.Nil {
		s.pool.AddBooking(moved.BookingID)
	}
	s.metrics.Reschedule.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doReadBooking(ctx context.Context, rng *rand.Rand) {
	bookingID, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	status, latency, err := s.send(ctx, http.MethodGet, "/bookings/"+bookingID.String(), nil, nil)
	s.metrics.ReadBooking.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doPatientBookings(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	status, latency, err := s.send(ctx, http.MethodGet, "/patients/"+patientID.String()+"/bookings", nil, nil)
	s.metrics.PatientBookings.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doAvailableSlots(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	path := fmt.Sprintf("/clinicians/%s/slots?date=%s", slot.ClinicianID, slot.StartTime.UTC().Format("2006-01-02"))

	status, latency, err := s.send(ctx, http.MethodGet, path, nil, nil)
	s.metrics.AvailableSlots.Record(latency, err == nil && status == http.StatusOK, false)
}

// send performs one API call and decodes a JSON body into out on 2xx.
func (s *Simulator) send(ctx context.Context, method, path string, body any, out any) (int, time.Duration, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

// verifyInvariants checks the store after the run: no slot holds more than
// one active booking, and every reserved slot is backed by one.
func verifyInvariants(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	var violations []string

	rows, err := pool.Query(ctx, `
		SELECT slot_id, count(*) FROM bookings
		WHERE status IN ('pending', 'confirmed', 'completed')
		GROUP BY slot_id
		HAVING count(*) > 1
	`)
	if err != nil {
		return nil, fmt.Errorf("check double bookings: %w", err)
	}
	for rows.Next() {
		var slotID uuid.UUID
		var n int
		if err := rows.Scan(&slotID, &n); err != nil {
			rows.Close()
			return nil, err
		}
		violations = append(violations, fmt.Sprintf("slot %s has %d active bookings", slotID, n))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT s.id FROM slots s
		WHERE s.status = 'reserved'
		AND NOT EXISTS (
			SELECT 1 FROM bookings b
			WHERE b.slot_id = s.id AND b.status IN ('pending', 'confirmed', 'completed')
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("check orphaned reservations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var slotID uuid.UUID
		if err := rows.Scan(&slotID); err != nil {
			return nil, err
		}
		violations = append(violations, fmt.Sprintf("slot %s is reserved without an active booking", slotID))
	}

	return violations, rows.Err()
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Read booking", &s.metrics.ReadBooking)
	printOperationReport("Patient bookings", &s.metrics.PatientBookings)
	printOperationReport("Available slots", &s.metrics.AvailableSlots)
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
