// Package api composes the HTTP API of metxy
package api

import (
	"time"

	"metxy/internal/modkit"
	"metxy/internal/platform/config"
	"metxy/internal/platform/metrics"
	phttp "metxy/internal/platform/net/http"
	"metxy/internal/platform/net/middleware"
	"metxy/internal/platform/store"

	metamod "metxy/internal/services/api/meta/module"
	resultsmod "metxy/internal/services/api/results/module"
)

// Options are the API options
type Options struct {
	Config  config.Conf
	Store   *store.Store      // nil serves result files only
	Metrics *metrics.Pipeline // nil disables /metrics
	Service string
}

// Mount mounts the middleware stack, the root endpoints and the /v1 modules on r
func Mount(r phttp.Router, opt Options) {
	deps := modkit.FromStore(opt.Config, opt.Store)
	api := opt.Config.Prefix("METXY_API_")

	r.Use(middleware.Defaults(api.MayDuration("SLOW", 500*time.Millisecond))...)
	r.Use(middleware.CORS(middleware.CORSOptions{
		AllowedOrigins: api.MayCSV("CORS_ORIGINS", []string{"*"}),
		MaxAge:         300,
	}))

	metamod.New(deps, opt.Service).MountRoutes(r)
	if opt.Metrics != nil {
		r.Handle("/metrics", opt.Metrics.Handler())
	}

	mods := []modkit.Module{
		resultsmod.New(deps, resultsmod.FromConfig(deps)),
	}
	r.Route("/v1", func(v1 phttp.Router) {
		for _, m := range mods {
			deps.Log.Debug().Str("module", m.Name()).Msg("api: mounting module")
			m.MountRoutes(v1)
		}
	})
}
