// Package bootstrap wires storage, locking, notifications and the scheduling
// service from configuration. It is shared by the api-server and the worker.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type Components struct {
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Repo         appointment.Repository
	Service      *appointment.Service
	Calendar     *calendar.Builder
	HealthChecks []api.HealthCheck

	closers []func()
}

// New connects the configured backends. Close releases whatever was opened,
// also when New fails halfway.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Components, error) {
	c := &Components{}
	deps := appointment.Deps{Clock: clock.System(), Logger: log}

	switch cfg.StorageDriver {
	case config.StoragePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
		cancel()
		if err != nil {
			return c, fmt.Errorf("postgres connection: %w", err)
		}
		c.Pool = pool
		c.closers = append(c.closers, pool.Close)
		log.Info("connected to Postgres")

		if err := db.EnsureSchema(ctx, pool); err != nil {
			return c, err
		}

		repo := appointment.NewPgRepository(pool)
		c.Repo = repo
		deps.Documentation = repo
		deps.Patients = appointment.NewPgPatientDirectory(pool)
		deps.Practitioners = appointment.NewPgPractitionerDirectory(pool)
		c.HealthChecks = append(c.HealthChecks, api.HealthCheck{Name: "postgres", Critical: true, Ping: pool.Ping})
	default:
		repo := appointment.NewMemoryRepository(deps.Clock.Now)
		c.Repo = repo
		deps.Documentation = repo
		log.Warn("using in-memory storage; data is lost on restart")

		if cfg.DirectoryFile == "" {
			// patients and practitioners are not validated without a directory
			log.Warn("no DIRECTORY_FILE set; any patient or practitioner id is accepted")
			break
		}
		patients, practitioners, err := appointment.LoadDirectoryFile(cfg.DirectoryFile)
		if err != nil {
			return c, err
		}
		deps.Patients = patients
		deps.Practitioners = practitioners
		log.Info("loaded directory", zap.String("file", cfg.DirectoryFile))
	}

	var locker redisclient.Locker
	switch cfg.LockDriver {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.OptionsFromConfig(cfg))
		if err != nil {
			return c, fmt.Errorf("redis connection: %w", err)
		}
		c.Redis = rdb
		c.closers = append(c.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		})
		log.Info("connected to Redis")
		locker = redisclient.NewRedisPractitionerLocker(rdb, cfg.LockTTL, cfg.LockWait)
		c.HealthChecks = append(c.HealthChecks, api.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	default:
		locker = redisclient.NewLocalPractitionerLocker(cfg.LockWait)
	}

	deps.Notifier = notify.Nop()
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return c, fmt.Errorf("rabbitmq connection: %w", err)
		}
		deps.Notifier = pub
		c.closers = append(c.closers, func() {
			if err := pub.Close(); err != nil {
				log.Warn("error closing rabbitmq", zap.Error(err))
			}
		})
		log.Info("publishing appointment events", zap.String("exchange", cfg.AMQPExchange))
	}

	c.Service = appointment.NewService(c.Repo, locker, deps, cfg)

	hours, err := calendar.WorkingHoursFromConfig(cfg)
	if err != nil {
		return c, fmt.Errorf("working hours: %w", err)
	}
	c.Calendar = calendar.NewBuilder(c.Service, hours)

	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
