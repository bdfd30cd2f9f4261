// Package module wires the results API into the server
package module

import (
	"metxy/internal/adapters/results"
	"metxy/internal/modkit"
	phttp "metxy/internal/platform/net/http"
	"metxy/internal/services/api/results/domain"
	reshttp "metxy/internal/services/api/results/http"
	ressvc "metxy/internal/services/api/results/service"
	derive "metxy/internal/services/derive/domain"
	"metxy/internal/services/derive/repo"
)

// Options configures the results module
type Options struct {
	ResultsDir string
}

// FromConfig reads METXY_API_RESULTS_DIR
func FromConfig(deps modkit.Deps) Options {
	return Options{ResultsDir: deps.Cfg.Prefix("METXY_API_").MayString("RESULTS_DIR", "results")}
}

// Ports defines the results module ports
type Ports struct {
	Service domain.Service
}

// Module implements modkit.Module
type Module struct {
	svc *ressvc.Service
}

// New constructs the results module; the ledger is read from Postgres when
// deps.PG is set, otherwise only the result files are served and every run
// lookup is not found
func New(deps modkit.Deps, opt Options) *Module {
	var ledger derive.LedgerPort = repo.NewLedger(deps.PG, 0)
	return &Module{svc: ressvc.New(results.NewFS(opt.ResultsDir), ledger)}
}

// MountRoutes mounts the results endpoints on r
func (m *Module) MountRoutes(r phttp.Router) { reshttp.Register(r, m.svc) }

// Ports returns the module ports
func (m *Module) Ports() any { return Ports{Service: m.svc} }

// Name returns the module name
func (m *Module) Name() string { return "results" }
