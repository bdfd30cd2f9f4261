// Package domain holds the contracts of the read-only results API
package domain

import (
	"context"

	"metxy/internal/adapters/results"
	"metxy/internal/core/correction"
	derive "metxy/internal/services/derive/domain"
)

// Key addresses one stored correction
type Key = results.Key

// Entry is one stored correction with its key
type Entry = results.Entry

// Scope selects every result of one version and epoch
type Scope struct {
	Version string `param:"version" json:"version" validate:"required,ident"`
	Epoch   string `param:"epoch" json:"epoch" validate:"required,ident"`
}

// Corrections reads persisted correction records
type Corrections interface {
	ReadCorrections(k Key) (correction.Set, error)
	ListCorrections(version, epoch string) ([]Entry, error)
}

// Service is what the HTTP layer calls
type Service interface {
	Correction(ctx context.Context, k Key) (Entry, error)
	Corrections(ctx context.Context, s Scope) ([]Entry, error)
	Run(ctx context.Context, k Key) (derive.Run, error)
	Runs(ctx context.Context, s Scope) ([]derive.Run, error)
}
