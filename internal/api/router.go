package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// Scheduler is the part of appointment.Service the HTTP layer uses.
type Scheduler interface {
	Create(ctx context.Context, req appointment.CreateRequest) (*appointment.CreateResult, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.View, error)
	List(ctx context.Context, practitionerID uuid.UUID, rng interval.Interval) ([]appointment.View, error)
	Reschedule(ctx context.Context, id uuid.UUID, req appointment.RescheduleRequest) (*appointment.View, error)
	Cancel(ctx context.Context, id uuid.UUID) (*appointment.View, error)
	Transition(ctx context.Context, id uuid.UUID, action appointment.Action) (*appointment.View, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CancelSeries(ctx context.Context, seriesID uuid.UUID, from time.Time) (*appointment.SeriesCancellation, error)
}

type CalendarBuilder interface {
	Build(ctx context.Context, practitionerID uuid.UUID, view calendar.ViewKind, date time.Time) (*calendar.Calendar, error)
}

type RouterConfig struct {
	Service            Scheduler
	Calendar           CalendarBuilder
	Logger             *zap.Logger
	Clock              clock.Clock
	HealthChecks       []HealthCheck
	Env                string
	Version            string
	RateLimitPerMinute int
	CORSAllowedOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	h := &handlers{svc: cfg.Service, calendar: cfg.Calendar, log: log, clock: clk}

	r := chi.NewRouter()

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	// Health endpoints
	health := NewHealthHandler(cfg.HealthChecks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Reads
	r.Get("/appointments/{id}", h.getAppointment)
	r.Get("/practitioners/{id}/appointments", h.listPractitionerAppointments)
	r.Get("/practitioners/{id}/calendar", h.practitionerCalendar)

	// Writes
	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}
		r.Post("/appointments", h.createAppointment)
		r.Patch("/appointments/{id}", h.rescheduleAppointment)
		r.Delete("/appointments/{id}", h.deleteAppointment)
		r.Post("/appointments/{id}/cancel", h.cancelAppointment)
		r.Post("/appointments/{id}/status", h.transitionAppointment)
		r.Post("/series/{id}/cancel", h.cancelSeries)
	})

	return r
}
