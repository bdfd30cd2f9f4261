package domain

import (
	"context"

	"metxy/internal/adapters/dataset"
	"metxy/internal/adapters/events"
	"metxy/internal/adapters/results"
	"metxy/internal/core/correction"
	"metxy/internal/core/golden"
	"metxy/internal/core/hist"
)

// RunnerPort is the port the module exposes
type RunnerPort interface {
	Run(ctx context.Context, req Request) (Report, error)
}

// LedgerPort is the read side other modules (the results API) consume
type LedgerPort interface {
	Get(ctx context.Context, k Key) (Run, error)
	List(ctx context.Context, version, epoch string) ([]Run, error)
}

// Ledger records the per Key state machine
type Ledger interface {
	LedgerPort

	// Start marks a phase as running for k under runID
	Start(ctx context.Context, runID string, k Key, phase Phase) error

	// Finish records the phase result; ErrText set means the phase failed
	Finish(ctx context.Context, runID string, k Key, phase Phase, fin Finish) error
}

// Catalog resolves the datasets a run works on
type Catalog interface {
	Select(types []dataset.Type, tags []string) ([]dataset.Dataset, error)
}

// Registries loads golden registries, possibly cached
type Registries interface {
	Load(path string) (*golden.Registry, error)
}

// ResultStore persists histograms and corrections
type ResultStore interface {
	HistExists(k Key) bool
	WriteHists(k Key, hs hist.Set) error
	ReadHists(k Key) (hist.Set, error)
	WriteCorrections(k Key, c correction.Set) error
	WriteSummary(version, epoch string) (string, error)
}

// Opener opens event file references
type Opener = events.Opener

// Snapshotter receives reduced per-event points
type Snapshotter = results.Snapshotter
