// Package http provides the health, readiness and version endpoints
package http

import (
	"context"
	"net/http"
	"time"

	"metxy/internal/core/version"
	phttp "metxy/internal/platform/net/http"
	"metxy/internal/platform/store"
)

// Deps are the handler dependencies; nil backends are reported as skipped
type Deps struct {
	ServiceName string
	StartedAt   time.Time
	PG          store.Pinger
	CH          store.Pinger
}

type handlers struct {
	deps Deps
	now  func() time.Time
}

// Register mounts the meta routes
func Register(r phttp.Router, d Deps) {
	h := &handlers{deps: d, now: time.Now}
	phttp.GetJSON(r, "/healthz", h.health)
	phttp.GetJSON(r, "/readyz", h.ready)
	phttp.GetJSON(r, "/version", h.version)
}

// HealthResponse is the liveness payload
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Started string `json:"started"`
	Uptime  int64  `json:"uptime_seconds"`
}

// ReadyCheck describes a single dependency check
type ReadyCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // ok fail skipped
	Error  string `json:"error,omitempty"`
}

// ReadyResponse summarizes readiness
type ReadyResponse struct {
	Status string       `json:"status"` // ok fail
	Checks []ReadyCheck `json:"checks"`
}

func (h *handlers) health(_ *http.Request) (any, error) {
	return HealthResponse{
		OK:      true,
		Service: h.deps.ServiceName,
		Started: h.deps.StartedAt.UTC().Format(time.RFC3339),
		Uptime:  int64(h.now().Sub(h.deps.StartedAt).Seconds()),
	}, nil
}

func (h *handlers) ready(r *http.Request) (any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	check := func(name string, p store.Pinger) ReadyCheck {
		if p == nil {
			return ReadyCheck{Name: name, Status: "skipped"}
		}
		if err := p.Ping(ctx); err != nil {
			return ReadyCheck{Name: name, Status: "fail", Error: err.Error()}
		}
		return ReadyCheck{Name: name, Status: "ok"}
	}

	out := ReadyResponse{Status: "ok", Checks: []ReadyCheck{check("pg", h.deps.PG), check("ch", h.deps.CH)}}
	for _, c := range out.Checks {
		if c.Status == "fail" {
			out.Status = "fail"
		}
	}
	return out, nil
}

func (h *handlers) version(_ *http.Request) (any, error) {
	return version.Info(h.deps.ServiceName), nil
}
