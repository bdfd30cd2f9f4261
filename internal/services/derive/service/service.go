// Package service runs the derive pipeline: histogram aggregation over input
// files followed by correction extraction, per dataset tag and MET type
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"metxy/internal/adapters/dataset"
	"metxy/internal/core/correction"
	"metxy/internal/core/golden"
	"metxy/internal/core/hist"
	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/logger"
	"metxy/internal/platform/metrics"
	ptime "metxy/internal/platform/time"
	"metxy/internal/platform/validate"
	"metxy/internal/services/derive/domain"
	"metxy/internal/services/derive/guardrails"

	"github.com/google/uuid"
)

// Config holds configuration options for the derive service
type Config struct {
	// Concurrency: files of one tag processed in parallel; <=0 -> 1
	Workers int

	// File-level retry for retryable (unavailable) errors
	MaxRetries int           // attempts per file; <=0 -> 1
	RetryBase  time.Duration // base backoff; <=0 -> 500ms

	// Timeouts applied via guardrails
	Timeouts guardrails.Timeouts

	// Events decoded per filter batch; <=0 -> 4096
	BatchSize int

	Binning hist.Binning
	Window  correction.Window
}

// Service implements domain.RunnerPort
type Service struct {
	Catalog domain.Catalog
	Golden  domain.Registries
	Open    domain.Opener
	Results domain.ResultStore
	Ledger  domain.Ledger
	Snap    domain.Snapshotter // optional, used when a request asks for snapshots
	Metrics *metrics.Pipeline  // optional
	Cfg     Config

	newRunID func() string
	sleep    func(context.Context, time.Duration) error
}

// New constructs the derive service
func New(
	cat domain.Catalog,
	reg domain.Registries,
	open domain.Opener,
	res domain.ResultStore,
	ledger domain.Ledger,
	cfg Config,
) *Service {
	if cat == nil || open == nil || res == nil || ledger == nil {
		panic("derive.Service requires a catalog, an opener, a result store and a ledger")
	}
	return &Service{
		Catalog:  cat,
		Golden:   reg,
		Open:     open,
		Results:  res,
		Ledger:   ledger,
		Cfg:      cfg,
		newRunID: uuid.NewString,
		sleep:    sleepCtx,
	}
}

// WithSnapshots wires a snapshot sink
func (s *Service) WithSnapshots(sn domain.Snapshotter) *Service {
	s.Snap = sn
	return s
}

// WithMetrics wires the collector set
func (s *Service) WithMetrics(m *metrics.Pipeline) *Service {
	s.Metrics = m
	return s
}

// plan is a validated request with its datasets and registries resolved
type plan struct {
	req      domain.Request
	datasets []dataset.Dataset
	preds    map[string]golden.Predicate
}

// Run implements domain.RunnerPort. Configuration problems abort before any
// output is written; afterwards failures are collected per (tag, MET) and
// joined into the returned error while other tags proceed.
func (s *Service) Run(ctx context.Context, req domain.Request) (domain.Report, error) {
	p, err := s.prepare(req)
	if err != nil {
		return domain.Report{}, err
	}

	rep := domain.Report{RunID: s.newRunID()}
	ctx = logger.WithRun(ctx, rep.RunID)
	log := logger.C(ctx)
	log.Info().
		Str("version", req.Version).Str("epoch", req.Epoch).
		Strs("met", req.METs).Int("datasets", len(p.datasets)).
		Bool("hists", req.Hists).Bool("corr", req.Corr).
		Msg("derive: run started")

	for _, ds := range p.datasets {
		if err := ctx.Err(); err != nil {
			return rep, errors.Join(rep.Err(), err)
		}
		rep.Outcomes = append(rep.Outcomes, s.runTag(ctx, rep.RunID, p, ds)...)
	}

	if req.Report && req.Corr {
		path, err := s.Results.WriteSummary(req.Version, req.Epoch)
		if err != nil {
			rep.Outcomes = append(rep.Outcomes, domain.Outcome{Phase: domain.PhaseCorr, Err: err})
		} else {
			rep.Summary = path
		}
	}

	log.Info().Int("outcomes", len(rep.Outcomes)).Int("failed", rep.Failed()).Msg("derive: run finished")
	return rep, rep.Err()
}

// prepare validates the request and loads every golden registry it needs
func (s *Service) prepare(req domain.Request) (plan, error) {
	if !req.Hists && !req.Corr {
		return plan{}, perr.Configf("nothing to do: select the hists and/or corr phase")
	}
	for _, f := range [][2]string{{"version", req.Version}, {"epoch", req.Epoch}} {
		if !validate.Ident(f[1]) {
			return plan{}, perr.WithField(perr.Configf("%s %q is not a path-safe identifier", f[0], f[1]), f[0])
		}
	}
	if len(req.METs) == 0 {
		return plan{}, perr.WithField(perr.Configf("no MET type selected"), "met")
	}
	seen := map[string]bool{}
	for _, m := range req.METs {
		if !validate.Ident(m) || seen[m] {
			return plan{}, perr.WithField(perr.Configf("MET type %q is invalid or repeated", m), "met")
		}
		seen[m] = true
	}
	if strings.TrimSpace(req.Pileup) == "" {
		return plan{}, perr.WithField(perr.Configf("no pileup column"), "pileup")
	}
	if err := s.Cfg.Binning.Validate(); err != nil {
		return plan{}, perr.Wrap(err, perr.ErrorCodeConfig, "binning")
	}
	if err := s.Cfg.Window.Validate(); err != nil {
		return plan{}, err
	}

	ds, err := s.Catalog.Select(req.Processes, req.Tags)
	if err != nil {
		return plan{}, err
	}

	p := plan{req: req, datasets: ds, preds: map[string]golden.Predicate{}}
	if !req.Hists {
		return p, nil
	}
	for _, d := range ds {
		if !d.IsData() {
			p.preds[d.Tag] = golden.ForDataset(false, nil)
			continue
		}
		if s.Golden == nil {
			return plan{}, perr.Configf("dataset %s is data but no golden registry loader is wired", d.Tag)
		}
		reg, err := s.Golden.Load(d.GoldenJSON)
		if err != nil {
			return plan{}, perr.WithOp(err, d.Tag)
		}
		p.preds[d.Tag] = golden.ForDataset(true, reg)
	}
	return p, nil
}

// runTag runs both phases for every MET type of one dataset. A read failure
// while histogramming aborts the rest of the tag.
func (s *Service) runTag(ctx context.Context, runID string, p plan, ds dataset.Dataset) []domain.Outcome {
	var out []domain.Outcome
	for _, m := range p.req.METs {
		k := domain.Key{Version: p.req.Version, Epoch: p.req.Epoch, Tag: ds.Tag, MET: m}
		kctx := logger.WithTag(ctx, ds.Tag, m)

		if p.req.Hists {
			o := s.runHists(kctx, runID, p, ds, k)
			out = append(out, o)
			if o.Err != nil && (perr.HasCode(o.Err, perr.ErrorCodeIO) || perr.HasCode(o.Err, perr.ErrorCodeUnavailable)) {
				logger.C(kctx).Error().Err(o.Err).Msg("derive: tag aborted")
				return out
			}
			if o.Err != nil && !perr.HasCode(o.Err, perr.ErrorCodeConflict) {
				continue
			}
		}
		if p.req.Corr {
			out = append(out, s.runCorr(kctx, runID, k))
		}
	}
	return out
}

// ledger writes are best effort: a failing ledger never fails the science
func (s *Service) startLedger(ctx context.Context, runID string, k domain.Key, ph domain.Phase) {
	dbCtx, cancel := guardrails.ForDB(ctx, s.Cfg.Timeouts)
	defer cancel()
	if err := s.Ledger.Start(dbCtx, runID, k, ph); err != nil {
		logger.C(ctx).Warn().Err(err).Str("phase", string(ph)).Msg("derive: ledger start failed")
	}
}

func (s *Service) finishLedger(ctx context.Context, runID string, k domain.Key, ph domain.Phase, fin domain.Finish, err error) {
	if err != nil {
		fin.ErrText = err.Error()
	}
	// the work context may already be cancelled; the ledger still gets its row
	dbCtx, cancel := guardrails.ForDB(context.WithoutCancel(ctx), s.Cfg.Timeouts)
	defer cancel()
	if lerr := s.Ledger.Finish(dbCtx, runID, k, ph, fin); lerr != nil {
		logger.C(ctx).Warn().Err(lerr).Str("phase", string(ph)).Msg("derive: ledger finish failed")
	}
}

func (s *Service) runHists(ctx context.Context, runID string, p plan, ds dataset.Dataset, k domain.Key) (o domain.Outcome) {
	o = domain.Outcome{Key: k, Phase: domain.PhaseHists}
	if s.Results.HistExists(k) && !p.req.Force {
		o.Err = perr.WithOp(perr.Conflictf("histograms already exist; pass -force to replace them"), k.Op())
		logger.C(ctx).Warn().Msg("derive: histograms exist, skipping hists phase")
		return o
	}

	start := time.Now()
	s.startLedger(ctx, runID, k, domain.PhaseHists)
	defer func() {
		s.finishLedger(ctx, runID, k, domain.PhaseHists, domain.Finish{
			Stage:     domain.StageHistogramsBuilt,
			Files:     o.Summary.Files,
			Events:    o.Summary.Events,
			Accepted:  o.Summary.Accepted,
			ElapsedMS: ptime.Millis(time.Since(start)),
		}, o.Err)
	}()

	hs, sum, err := s.BuildHistograms(ctx, Job{
		RunID:     runID,
		Key:       k,
		Dataset:   ds,
		Predicate: p.preds[ds.Tag],
		Pileup:    p.req.Pileup,
		Snapshot:  p.req.Snapshot,
	})
	o.Summary = sum
	if err != nil {
		o.Err = perr.WithOp(err, k.Op())
		return o
	}
	if err := s.Results.WriteHists(k, hs); err != nil {
		o.Err = perr.WithOp(err, k.Op())
		return o
	}
	logger.C(ctx).Info().
		Int("files", sum.Files).Int64("events", sum.Events).Int64("accepted", sum.Accepted).
		Int64("rejected", sum.Rejected).Int64("bytes", sum.Bytes).Int("retries", sum.Retries).
		Dur("elapsed", time.Since(start)).
		Msg("derive: histograms written")
	return o
}

func (s *Service) runCorr(ctx context.Context, runID string, k domain.Key) (o domain.Outcome) {
	o = domain.Outcome{Key: k, Phase: domain.PhaseCorr}
	start := time.Now()
	s.startLedger(ctx, runID, k, domain.PhaseCorr)
	defer func() {
		s.finishLedger(ctx, runID, k, domain.PhaseCorr, domain.Finish{
			Stage:     domain.StageCorrectionsExtracted,
			ElapsedMS: ptime.Millis(time.Since(start)),
		}, o.Err)
	}()

	// a failed component is omitted from the file; the fitted one is kept
	set, recs, err := s.ExtractCorrections(ctx, k)
	o.Records, o.Err = recs, err
	if set.Empty() {
		return o
	}
	if werr := s.Results.WriteCorrections(k, set); werr != nil {
		o.Err = errors.Join(o.Err, perr.WithOp(werr, k.Op()))
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
