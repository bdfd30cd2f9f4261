// Package modkit provides module wiring and core deps
package modkit

import (
	"metxy/internal/modkit/repokit"
	"metxy/internal/platform/config"
	"metxy/internal/platform/logger"
	phttp "metxy/internal/platform/net/http"
	"metxy/internal/platform/store"
)

// Deps holds core dependencies passed to modules
// PG and CH are nil when their backend is not configured
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	PG  repokit.TxRunner
	CH  store.Clickhouse
}

// FromStore builds deps from an opened store; a nil store leaves both backends unset
func FromStore(cfg config.Conf, st *store.Store) Deps {
	d := Deps{Log: *logger.Get(), Cfg: cfg}
	if st != nil {
		d.PG, d.CH = st.PG, st.CH
	}
	return d
}

// HasPG reports whether a Postgres backend is wired
func (d Deps) HasPG() bool { return d.PG != nil }

// Module is the surface HTTP modules expose to the API composer
type Module interface {
	// MountRoutes mounts HTTP routes under the provided router seam
	MountRoutes(r phttp.Router)

	// Ports returns the module's port set for cross wiring
	Ports() any

	// Name returns the module name
	Name() string
}
