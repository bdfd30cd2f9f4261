// Package module wires the meta endpoints into the API
package module

import (
	"time"

	"metxy/internal/modkit"
	phttp "metxy/internal/platform/net/http"
	"metxy/internal/platform/store"
	metahttp "metxy/internal/services/api/meta/http"
)

// Module implements modkit.Module; routes mount at the root, not under /v1
type Module struct {
	deps      modkit.Deps
	service   string
	startedAt time.Time
}

// New constructs the meta module
func New(deps modkit.Deps, service string) *Module {
	return &Module{deps: deps, service: service, startedAt: time.Now()}
}

// MountRoutes mounts /healthz, /readyz and /version
func (m *Module) MountRoutes(r phttp.Router) {
	d := metahttp.Deps{ServiceName: m.service, StartedAt: m.startedAt}
	// backends that cannot ping are reported as skipped
	if p, ok := m.deps.PG.(store.Pinger); ok {
		d.PG = p
	}
	if p, ok := m.deps.CH.(store.Pinger); ok {
		d.CH = p
	}
	metahttp.Register(r, d)
}

// Ports returns nil; meta exposes no ports
func (m *Module) Ports() any { return nil }

// Name returns the module name
func (m *Module) Name() string { return "meta" }
