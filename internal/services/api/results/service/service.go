// Package service answers results API queries from the result store and the run ledger
package service

import (
	"context"

	perr "metxy/internal/platform/errors"
	"metxy/internal/services/api/results/domain"
	derive "metxy/internal/services/derive/domain"
)

// Service implements domain.Service
type Service struct {
	store  domain.Corrections
	ledger derive.LedgerPort
}

// New constructs the service
func New(store domain.Corrections, ledger derive.LedgerPort) *Service {
	if store == nil || ledger == nil {
		panic("results.Service requires a correction store and a ledger")
	}
	return &Service{store: store, ledger: ledger}
}

// Correction returns the stored record for k
func (s *Service) Correction(_ context.Context, k domain.Key) (domain.Entry, error) {
	set, err := s.store.ReadCorrections(k)
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			return domain.Entry{}, perr.WithOp(perr.NotFoundf("no corrections for %s", k.Op()), k.Op())
		}
		return domain.Entry{}, err
	}
	return domain.Entry{Key: k, Set: set}, nil
}

// Corrections lists every record of the scope, sorted by tag then MET
func (s *Service) Corrections(_ context.Context, sc domain.Scope) ([]domain.Entry, error) {
	return s.store.ListCorrections(sc.Version, sc.Epoch)
}

// Run returns the ledger row for k
func (s *Service) Run(ctx context.Context, k domain.Key) (derive.Run, error) {
	return s.ledger.Get(ctx, k)
}

// Runs lists the ledger rows of the scope
func (s *Service) Runs(ctx context.Context, sc domain.Scope) ([]derive.Run, error) {
	return s.ledger.List(ctx, sc.Version, sc.Epoch)
}
