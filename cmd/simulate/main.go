package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	BookingRatio      float64
	RescheduleRatio   float64
	CancelRatio       float64
	ReadRatio         float64
	PractitionerLimit int
	PatientLimit      int
	Days              int
	PostgresDSN       string
	PostgresMaxConn   int
	DirectoryFile     string
}

// DataPool holds the ids the workers draw from. Booked appointments are
// appended as the run progresses so later operations can target them.
type DataPool struct {
	Practitioners []uuid.UUID
	Patients      []uuid.UUID
	Monday        time.Time

	mu           sync.Mutex
	appointments []booked
}

type booked struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

// TakeAppointment removes a random booked appointment from the pool.
func (dp *DataPool) TakeAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	idx := rng.Intn(len(dp.appointments))
	b := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return b, true
}

func (dp *DataPool) Size() int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return len(dp.appointments)
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
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

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

type Metrics struct {
	Booking    OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	List       OperationMetrics
	Calendar   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	cfg, baseCfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("reschedule", cfg.RescheduleRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dataPool, err := buildDataPool(ctx, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}

	logger.Info("data pool ready",
		zap.Int("practitioners", len(dataPool.Practitioners)),
		zap.Int("patients", len(dataPool.Patients)),
		zap.Time("week_of", dataPool.Monday))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	if err := sim.Run(context.Background()); err != nil {
		logger.Error("simulation aborted", zap.Error(err))
	}
	sim.PrintReport()
}

func loadConfig() (SimConfig, config.Config) {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:        getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 10),
		BookingRatio:      getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio:   getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		CancelRatio:       getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:         getFloat("SIM_READ_RATIO", 0.3),
		PractitionerLimit: getInt("SIM_PRACTITIONER_LIMIT", 20),
		PatientLimit:      getInt("SIM_PATIENT_LIMIT", 4000),
		Days:              getInt("SIM_DAYS", 5),
		PostgresDSN:       baseCfg.PostgresDSN,
		PostgresMaxConn:   baseCfg.PostgresMaxConn,
		DirectoryFile:     baseCfg.DirectoryFile,
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg, baseCfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Days <= 0 || cfg.Days > 7 {
		return fmt.Errorf("SIM_DAYS must be between 1 and 7")
	}
	if cfg.PractitionerLimit <= 0 || cfg.PatientLimit <= 0 {
		return fmt.Errorf("SIM_PRACTITIONER_LIMIT and SIM_PATIENT_LIMIT must be > 0")
	}
	return nil
}

// buildDataPool reads ids from Postgres when a DSN is set, else from the
// memory server's DIRECTORY_FILE. Without either the server is assumed to
// accept any id.
func buildDataPool(ctx context.Context, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{Monday: nextMonday(time.Now().UTC())}

	if cfg.PostgresDSN == "" && cfg.DirectoryFile != "" {
		file, err := appointment.ReadDirectoryFile(cfg.DirectoryFile)
		if err != nil {
			return nil, err
		}
		dataPool.Practitioners = limitIDs(file.Practitioners, cfg.PractitionerLimit)
		dataPool.Patients = limitIDs(file.Patients, cfg.PatientLimit)
		if len(dataPool.Practitioners) == 0 || len(dataPool.Patients) == 0 {
			return nil, fmt.Errorf("directory file %s has no practitioners or patients", cfg.DirectoryFile)
		}
		return dataPool, nil
	}

	if cfg.PostgresDSN == "" {
		for range cfg.PractitionerLimit {
			dataPool.Practitioners = append(dataPool.Practitioners, uuid.New())
		}
		for range cfg.PatientLimit {
			dataPool.Patients = append(dataPool.Patients, uuid.New())
		}
		return dataPool, nil
	}

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	dataPool.Practitioners, err = loadIDs(ctx, pgPool, "practitioners", cfg.PractitionerLimit)
	if err != nil {
		return nil, err
	}
	dataPool.Patients, err = loadIDs(ctx, pgPool, "patients", cfg.PatientLimit)
	if err != nil {
		return nil, err
	}
	if len(dataPool.Practitioners) == 0 {
		return nil, fmt.Errorf("no practitioners loaded")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	return dataPool, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, table string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, "SELECT id FROM "+table+" LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func limitIDs(people []appointment.Person, limit int) []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range people {
		if len(ids) == limit {
			break
		}
		ids = append(ids, p.ID)
	}
	return ids
}

func nextMonday(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(time.Monday) - int(day.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	return day.AddDate(0, 0, offset)
}

func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := range s.config.Workers {
		g.Go(func() error {
			s.worker(ctx, i)
			return nil
		})
	}
	err := g.Wait()
	s.log.Info("simulation complete", zap.Int("live_appointments", s.pool.Size()))
	return err
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookingRatio:
			s.doBooking(ctx, rng)
		case r < c.BookingRatio+c.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < c.BookingRatio+c.RescheduleRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		case rng.Intn(2) == 0:
			s.doList(ctx, rng)
		default:
			s.doCalendar(ctx, rng)
		}
	}
}

// randomSlot picks a half-hour aligned start between 08:00 and 17:00 on one
// of the simulated weekdays. Sessions last 30 or 60 minutes so neighbouring
// bookings overlap often enough to exercise conflict detection.
func (s *Simulator) randomSlot(rng *rand.Rand) (time.Time, time.Time) {
	day := s.pool.Monday.AddDate(0, 0, rng.Intn(s.config.Days))
	start := day.Add(8*time.Hour + time.Duration(rng.Intn(18))*30*time.Minute)
	length := time.Duration(30*(1+rng.Intn(2))) * time.Minute
	return start, start.Add(length)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	practitionerID := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	start, end := s.randomSlot(rng)

	body := api.CreateAppointmentRequest{
		PatientID:      patientID.String(),
		PractitionerID: practitionerID.String(),
		Start:          api.Timestamp(start),
		End:            api.Timestamp(end),
		Type:           "session",
	}

	var created api.CreateAppointmentResponse
	status, latency, err := s.send(ctx, http.MethodPost, "/appointments", body, &created)
	if ctx.Err() != nil {
		return
	}
	if err == nil && status == http.StatusCreated {
		for _, a := range created.Appointments {
			s.pool.AddAppointment(booked{ID: a.ID, PractitionerID: a.PractitionerID})
		}
	}
	s.metrics.Booking.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}
	start, end := s.randomSlot(rng)
	body := api.RescheduleAppointmentRequest{Start: api.Timestamp(start), End: api.Timestamp(end)}

	status, latency, err := s.send(ctx, http.MethodPatch, "/appointments/"+b.ID.String(), body, nil)
	if ctx.Err() != nil {
		return
	}
	// The appointment stays scheduled whether or not the move succeeded.
	s.pool.AddAppointment(b)
	s.metrics.Reschedule.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}

	status, latency, err := s.send(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	practitionerID := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	day := s.pool.Monday.AddDate(0, 0, rng.Intn(s.config.Days)).Format(time.DateOnly)
	path := fmt.Sprintf("/practitioners/%s/appointments?from=%s&to=%s", practitionerID, day, day)

	status, latency, err := s.send(ctx, http.MethodGet, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.List.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doCalendar(ctx context.Context, rng *rand.Rand) {
	practitionerID := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]
	path := fmt.Sprintf("/practitioners/%s/calendar?view=week&date=%s",
		practitionerID, s.pool.Monday.Format(time.DateOnly))

	status, latency, err := s.send(ctx, http.MethodGet, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Calendar.Record(latency, err == nil && status == http.StatusOK, false)
}

// send issues one request and decodes a 2xx body into out when out is set.
func (s *Simulator) send(ctx context.Context, method, path string, in, out any) (int, time.Duration, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	if in != nil {
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
		return resp.StatusCode, latency, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Practitioners: %d, Patients: %d\n", len(s.pool.Practitioners), len(s.pool.Patients))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List by Practitioner", &s.metrics.List)
	printOperationReport("Weekly Calendar", &s.metrics.Calendar)
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
