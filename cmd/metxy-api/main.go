// Command metxy-api serves stored corrections and run state over HTTP
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"metxy/internal/modkit/repokit"
	"metxy/internal/platform/config"
	"metxy/internal/platform/logger"
	"metxy/internal/platform/metrics"
	phttp "metxy/internal/platform/net/http"
	"metxy/internal/platform/store"
	"metxy/internal/services/api"
)

func main() {
	root := config.New()
	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// postgres and clickhouse are both optional for the API
	st, err := store.Open(ctx, store.ConfigFromEnv(root, "metxy", "api"), store.WithLogger(*l))
	if err != nil {
		l.Fatal().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	repokit.MustGuard(ctx, st)

	srv := phttp.NewServer(root)
	api.Mount(srv.Router(), api.Options{
		Config:  root,
		Store:   st,
		Metrics: metrics.New().WithRuntime(),
		Service: "metxy-api",
	})
	if err := root.Err(); err != nil {
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := srv.Run(ctx); err != nil {
		l.Fatal().Err(err).Msg("http server stopped")
	}
}
