// Package domain holds the types and ports of the derive pipeline
package domain

import (
	stderrs "errors"
	"time"

	"metxy/internal/adapters/dataset"
	"metxy/internal/adapters/results"
	"metxy/internal/core/correction"
)

// Key addresses one (version, epoch, tag, MET type) unit of work
type Key = results.Key

// Phase names a pipeline step
type Phase string

// Phases in execution order
const (
	PhaseHists Phase = "hists"
	PhaseCorr  Phase = "corr"
)

// Stage is the ledger state of a Key
type Stage string

// Stages; a Key only moves forward except into StageError
const (
	StageUnstarted            Stage = "unstarted"
	StageHistogramsBuilt      Stage = "histograms_built"
	StageCorrectionsExtracted Stage = "corrections_extracted"
	StageError                Stage = "error"
)

// Request selects what a run does
type Request struct {
	Version   string
	Epoch     string
	METs      []string
	Pileup    string
	Processes []dataset.Type
	Tags      []string // empty means every tag of the selected processes

	Hists    bool
	Corr     bool
	Force    bool // replace existing histograms instead of reporting a conflict
	Snapshot bool
	Report   bool // write the summary workbook after the corr phase
}

// Run is one ledger row
type Run struct {
	Key
	RunID      string     `json:"run_id"`
	Phase      Phase      `json:"phase"`
	Stage      Stage      `json:"stage"`
	Status     string     `json:"status"`
	Files      int        `json:"files"`
	Events     int64      `json:"events"`
	Accepted   int64      `json:"accepted"`
	ElapsedMS  int        `json:"elapsed_ms"`
	ErrText    string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Finish is what a phase reports back to the ledger
type Finish struct {
	Stage     Stage
	Files     int
	Events    int64
	Accepted  int64
	ElapsedMS int
	ErrText   string
}

// Summary counts what the histogram phase consumed
type Summary struct {
	Files    int   `json:"files"`
	Events   int64 `json:"events"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Bytes    int64 `json:"bytes"`
	Retries  int   `json:"retries"`
}

// Add folds o into s
func (s *Summary) Add(o Summary) {
	s.Files += o.Files
	s.Events += o.Events
	s.Accepted += o.Accepted
	s.Rejected += o.Rejected
	s.Bytes += o.Bytes
	s.Retries += o.Retries
}

// Outcome is the result of one phase on one Key
type Outcome struct {
	Key
	Phase   Phase
	Summary Summary
	Records []correction.Record
	Err     error
}

// Report collects the outcomes of a run
type Report struct {
	RunID    string
	Outcomes []Outcome
	Summary  string // workbook path when one was written
}

// Err joins every outcome error; nil when the run was clean
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return stderrs.Join(errs...)
}

// Failed counts outcomes with an error
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
