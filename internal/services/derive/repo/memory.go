package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	perr "metxy/internal/platform/errors"
	ptime "metxy/internal/platform/time"
	"metxy/internal/services/derive/domain"
)

// Memory is a process-local ledger with the same semantics as the PG one
type Memory struct {
	mu   sync.RWMutex
	rows map[domain.Key]domain.Run
	now  func() time.Time
}

// NewMemory returns an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{rows: map[domain.Key]domain.Run{}, now: time.Now}
}

// Start implements domain.Ledger
func (m *Memory) Start(_ context.Context, runID string, k domain.Key, phase domain.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.rows[k]
	if !ok {
		run = domain.Run{Key: k, Stage: domain.StageUnstarted}
	}
	run.RunID, run.Phase, run.Status = runID, phase, "running"
	run.ErrText, run.StartedAt, run.FinishedAt = "", m.now(), nil
	m.rows[k] = run
	return nil
}

// Finish implements domain.Ledger
func (m *Memory) Finish(_ context.Context, runID string, k domain.Key, phase domain.Phase, fin domain.Finish) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.rows[k]
	if !ok || run.RunID != runID {
		return perr.WithOp(perr.NotFoundf("no running ledger entry for run %s", runID), k.Op())
	}
	status, stage := outcome(fin)
	if stage != "" {
		run.Stage = stage
	}
	run.Phase, run.Status, run.FinishedAt = phase, status, ptime.Ptr(m.now())
	run.Files, run.Events, run.Accepted = fin.Files, fin.Events, fin.Accepted
	run.ElapsedMS, run.ErrText = fin.ElapsedMS, fin.ErrText
	m.rows[k] = run
	return nil
}

// Get implements domain.LedgerPort
func (m *Memory) Get(_ context.Context, k domain.Key) (domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.rows[k]
	if !ok {
		return domain.Run{}, perr.WithOp(perr.NotFoundf("no ledger entry"), k.Op())
	}
	return run, nil
}

// List implements domain.LedgerPort
func (m *Memory) List(_ context.Context, version, epoch string) ([]domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Run
	for k, run := range m.rows {
		if k.Version == version && k.Epoch == epoch {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].MET < out[j].MET
	})
	return out, nil
}
