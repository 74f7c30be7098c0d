package api

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck pings one dependency. A failing critical check makes the service
// unready; any other failure only degrades it.
type HealthCheck struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

type HealthHandler struct {
	checks  []HealthCheck
	env     string
	version string
}

func NewHealthHandler(checks []HealthCheck, env, version string) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	status := "ok"

	for _, check := range h.checks {
		checkCtx, checkCancel := context.WithTimeout(ctx, time.Second)
		err := check.Ping(checkCtx)
		checkCancel()

		if err == nil {
			deps[check.Name] = "ok"
			continue
		}
		deps[check.Name] = "down"
		switch {
		case check.Critical:
			status = "error"
		case status == "ok":
			status = "degraded"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}
