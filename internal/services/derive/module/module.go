// Package module provides the derive module implementation
package module

import (
	"context"

	"metxy/internal/adapters/events"
	"metxy/internal/adapters/results"
	"metxy/internal/core/golden"
	"metxy/internal/modkit"
	"metxy/internal/platform/metrics"
	"metxy/internal/services/derive/domain"
	"metxy/internal/services/derive/guardrails"
	"metxy/internal/services/derive/repo"
	"metxy/internal/services/derive/service"
)

// Inputs are the run-scoped collaborators the caller resolves before wiring
type Inputs struct {
	Catalog    domain.Catalog
	ResultsDir string
	Metrics    *metrics.Pipeline // optional
}

// Ports defines the derive module ports
type Ports struct {
	Runner domain.RunnerPort
	Ledger domain.LedgerPort
}

// Module implements the derive module
type Module struct {
	deps   modkit.Deps
	ports  Ports
	golden *golden.Cache
}

// New constructs the derive module.
// It wires the adapters and the service using config from deps.Cfg; the
// ledger lives in Postgres when deps.PG is set and in memory otherwise, and
// snapshots are mirrored to ClickHouse when deps.CH is set.
func New(ctx context.Context, deps modkit.Deps, in Inputs) (*Module, error) {
	opts := FromConfig(deps.Cfg)
	if err := deps.Cfg.Err(); err != nil {
		return nil, err
	}

	// input files: local paths, or http(s) through the optional disk cache
	fetch := events.NewHTTPFetcherWithTimeout(opts.HTTPTimeout)
	open := events.Router{Local: events.LocalOpener{}, Remote: fetch}
	if opts.CacheDir != "" {
		open.Remote = events.NewCachedFetcher(opts.CacheDir, fetch,
			events.WithRevalidate(opts.Revalidate),
			events.WithRetention(opts.RetainMaxAge, opts.RetainMaxBytes),
		)
	}

	gc, err := golden.NewCache(opts.GoldenCacheSize)
	if err != nil {
		return nil, err
	}

	fs := results.NewFS(in.ResultsDir)
	snaps := results.Tee{fs}
	if deps.CH != nil {
		chs := results.NewCHSnapshots(deps.CH, opts.SnapshotBatch)
		if err := chs.EnsureTable(ctx); err != nil {
			gc.Close()
			return nil, err
		}
		snaps = append(snaps, chs)
	}

	if deps.HasPG() {
		if err := repo.EnsureSchema(ctx, deps.PG); err != nil {
			gc.Close()
			return nil, err
		}
	}
	ledger := repo.NewLedger(deps.PG, opts.DBTimeout)

	svc := service.New(
		in.Catalog, gc, open, fs, ledger,
		service.Config{
			Workers:    opts.Workers,
			MaxRetries: opts.MaxRetries,
			RetryBase:  opts.RetryBase,
			BatchSize:  opts.BatchSize,
			Timeouts: guardrails.Timeouts{
				Tag:  opts.TagTimeout,
				File: opts.FileTimeout,
				DB:   opts.DBTimeout,
			},
			Binning: opts.Binning,
			Window:  opts.Window,
		},
	).WithSnapshots(snaps).WithMetrics(in.Metrics)

	m := &Module{deps: deps, golden: gc}
	m.ports = Ports{Runner: svc, Ledger: ledger}
	return m, nil
}

// Name returns the module name
func (m *Module) Name() string { return "derive" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Runner returns the typed runner port
func (m *Module) Runner() domain.RunnerPort { return m.ports.Runner }

// Close releases the golden registry cache
func (m *Module) Close() { m.golden.Close() }
