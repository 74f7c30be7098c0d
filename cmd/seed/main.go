package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

var specialties = []string{
	"Physiotherapy",
	"Psychology",
	"Speech Therapy",
	"Occupational Therapy",
	"Nutrition",
	"General Practice",
	"Pediatrics",
	"Psychiatry",
}

type options struct {
	practitioners int
	patients      int
	perDay        int
	days          int
	directoryOut  string
}

func main() {
	var opts options
	flag.IntVar(&opts.practitioners, "practitioners", 20, "number of practitioners")
	flag.IntVar(&opts.patients, "patients", 500, "number of patients")
	flag.IntVar(&opts.perDay, "per-day", 6, "booking attempts per practitioner per day")
	flag.IntVar(&opts.days, "days", 7, "days to fill, starting today")
	flag.StringVar(&opts.directoryOut, "directory-out", "", "also write the generated people to this DIRECTORY_FILE (required with memory storage)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("seed starting", zap.String("storage", cfg.StorageDriver))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, logger, opts); err != nil {
		logger.Error("seed failed", zap.Error(err))
		cancel()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, opts options) error {
	gofakeit.Seed(time.Now().UnixNano())

	dir := appointment.DirectoryFile{
		Practitioners: fakePeople(opts.practitioners, func() string { return "Dr. " + gofakeit.Name() }),
		Patients:      fakePeople(opts.patients, gofakeit.Name),
	}
	if opts.directoryOut != "" {
		if err := appointment.WriteDirectoryFile(opts.directoryOut, dir); err != nil {
			return err
		}
		logger.Info("directory file written", zap.String("file", opts.directoryOut))
	}

	// a memory server lives in another process, so only its directory can be seeded
	if cfg.StorageDriver != config.StoragePostgres {
		if opts.directoryOut == "" {
			return fmt.Errorf("memory storage needs -directory-out")
		}
		return nil
	}

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	repo := appointment.NewPgRepository(pool)
	svc := appointment.NewService(repo, redisclient.NewLocalPractitionerLocker(cfg.LockWait), appointment.Deps{
		Patients:      appointment.NewPgPatientDirectory(pool),
		Practitioners: appointment.NewPgPractitionerDirectory(pool),
		Documentation: repo,
		Clock:         clock.System(),
		Logger:        zap.NewNop(),
	}, cfg)

	if err := persistPeople(ctx, repo, "practitioners", dir.Practitioners, func() string {
		return specialties[gofakeit.Number(0, len(specialties)-1)]
	}); err != nil {
		return fmt.Errorf("seed practitioners: %w", err)
	}
	if err := persistPeople(ctx, repo, "patients", dir.Patients, gofakeit.Email); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	logger.Info("directory seeded", zap.Int("practitioners", len(dir.Practitioners)), zap.Int("patients", len(dir.Patients)))

	stats := seedAppointments(ctx, logger, svc, repo, ids(dir.Practitioners), ids(dir.Patients), opts.days, opts.perDay)
	logger.Info("seed complete",
		zap.Int("created", stats.created),
		zap.Int("conflicts", stats.conflicts),
		zap.Int("documented", stats.documented))
	return nil
}

func fakePeople(count int, name func() string) []appointment.Person {
	people := make([]appointment.Person, 0, count)
	for range count {
		people = append(people, appointment.Person{ID: uuid.New(), Name: name()})
	}
	return people
}

func persistPeople(ctx context.Context, repo *appointment.PgRepository, table string, people []appointment.Person, extra func() string) error {
	for _, p := range people {
		if err := repo.AddPerson(ctx, table, p, extra()); err != nil {
			return err
		}
	}
	return nil
}

func ids(people []appointment.Person) []uuid.UUID {
	out := make([]uuid.UUID, len(people))
	for i, p := range people {
		out[i] = p.ID
	}
	return out
}

var (
	complaints  = []string{"lower back pain", "anxiety", "knee mobility", "speech delay", "sleep quality", "shoulder strain"}
	progression = []string{"improving", "stable", "slower than expected", "resolved"}
)

func soapNote() string {
	pick := func(xs []string) string { return xs[gofakeit.Number(0, len(xs)-1)] }
	return fmt.Sprintf("S: patient reports %s. O: reviewed by %s. A: %s. P: continue plan, reassess next session.",
		pick(complaints), gofakeit.Name(), pick(progression))
}

type seedStats struct {
	created    int
	conflicts  int
	documented int
}

func seedAppointments(ctx context.Context, logger *zap.Logger, svc *appointment.Service, repo *appointment.PgRepository,
	practitioners, patients []uuid.UUID, days, perDay int) seedStats {

	var stats seedStats
	today := interval.Date(clock.System().Now())
	durations := []time.Duration{30 * time.Minute, 45 * time.Minute, time.Hour}
	payments := []appointment.PaymentStatus{appointment.PaymentPending, appointment.PaymentPaid, appointment.PaymentPaid}

	for _, practitionerID := range practitioners {
		for d := range days {
			day := today.AddDate(0, 0, d)
			for range perDay {
				// half-hour starts between 08:00 and 17:00
				start := day.Add(8*time.Hour + time.Duration(gofakeit.Number(0, 17))*30*time.Minute)
				iv := interval.Interval{Start: start, End: start.Add(durations[gofakeit.Number(0, len(durations)-1)])}

				res, err := svc.Create(ctx, appointment.CreateRequest{
					PatientID:      patients[gofakeit.Number(0, len(patients)-1)],
					PractitionerID: practitionerID,
					Interval:       iv,
					Type:           appointment.AllTypes[gofakeit.Number(0, len(appointment.AllTypes)-1)],
					Value:          decimal.NewFromInt(int64(gofakeit.Number(8, 30) * 10)),
					PaymentStatus:  payments[gofakeit.Number(0, len(payments)-1)],
				})
				if err != nil {
					stats.conflicts++
					logger.Debug("seed booking skipped", zap.Error(err))
					continue
				}
				stats.created++

				if gofakeit.Number(1, 5) == 1 {
					a := res.Appointments[0]
					if err := repo.AttachDocument(ctx, a.ID, appointment.DocumentClinicalNote, soapNote()); err != nil {
						logger.Warn("attach note failed", zap.Error(err))
						continue
					}
					stats.documented++
				}
			}
		}
	}
	return stats
}
