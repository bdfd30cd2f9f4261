package service

import (
	"context"
	"io"
	"math/rand/v2"
	"time"

	"metxy/internal/adapters/dataset"
	"metxy/internal/adapters/events"
	"metxy/internal/adapters/results"
	"metxy/internal/core/golden"
	"metxy/internal/core/hist"
	"metxy/internal/core/met"
	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/logger"
	"metxy/internal/platform/metrics"
	"metxy/internal/services/derive/domain"
	"metxy/internal/services/derive/guardrails"

	"golang.org/x/sync/errgroup"
)

// Job is one histogram phase: every file of a dataset for one MET type
type Job struct {
	RunID     string
	Key       domain.Key
	Dataset   dataset.Dataset
	Predicate golden.Predicate // nil accepts every event
	Pileup    string
	Snapshot  bool
}

// BuildHistograms maps every input file of job to partial histograms on a
// bounded worker pool and reduces them once all workers are done. The first
// failing file cancels the others and nothing is returned; the merge is
// order independent so the result does not depend on scheduling.
func (s *Service) BuildHistograms(ctx context.Context, job Job) (hist.Set, domain.Summary, error) {
	k := job.Key
	files := job.Dataset.Files
	if len(files) == 0 {
		logger.C(ctx).Warn().Msg("derive: dataset lists no input files")
	}

	tagCtx, cancel := guardrails.ForTag(ctx, s.Cfg.Timeouts)
	defer cancel()

	parts := make([]hist.Set, len(files))
	sums := make([]domain.Summary, len(files))

	g, gctx := errgroup.WithContext(tagCtx)
	g.SetLimit(max(s.Cfg.Workers, 1))
	for i, ref := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hs, sum, err := s.fileWithRetry(gctx, job, i, ref)
			parts[i], sums[i] = hs, sum
			return err
		})
	}
	err := g.Wait()

	var total domain.Summary
	for _, sm := range sums {
		total.Add(sm)
	}
	if err != nil {
		return nil, total, err
	}

	out, err := hist.NewSet(k.MET, s.Cfg.Binning)
	if err != nil {
		return nil, total, perr.Wrap(err, perr.ErrorCodeConfig, "binning")
	}
	for _, p := range parts {
		if err := out.Merge(p); err != nil {
			return nil, total, err
		}
	}
	return out, total, nil
}

// fileWithRetry retries a file on retryable errors with exponential backoff and jitter
func (s *Service) fileWithRetry(ctx context.Context, job Job, index int, ref string) (hist.Set, domain.Summary, error) {
	attempts := max(s.Cfg.MaxRetries, 1)
	base := s.Cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var last error
	for i := range attempts {
		hs, sum, err := s.processFile(ctx, job, index, ref)
		sum.Retries = i
		if err == nil {
			return hs, sum, nil
		}
		last = err

		if !perr.Retryable(err) || i == attempts-1 {
			return nil, sum, last
		}

		// exponential backoff with jitter, cap at 30s
		d := min(base<<i, 30*time.Second)
		wait := d / 2
		if half := int64(d / 2); half > 0 {
			wait += time.Duration(rand.Int64N(half))
		}
		s.Metrics.Retry(job.Key.Tag, job.Key.MET)
		logger.C(ctx).Warn().Err(err).Str("file", ref).Int("attempt", i+1).Dur("backoff", wait).
			Msg("derive: retrying input file")
		if se := s.sleep(ctx, wait); se != nil {
			return nil, sum, se
		}
	}
	return nil, domain.Summary{}, last
}

// processFile histograms one input file into fresh partial histograms
func (s *Service) processFile(ctx context.Context, job Job, index int, ref string) (_ hist.Set, sum domain.Summary, retErr error) {
	k := job.Key
	start := time.Now()
	defer func() {
		if retErr != nil {
			s.Metrics.ObserveFile(k.Tag, k.MET, metrics.Failed, time.Since(start))
			return
		}
		s.Metrics.ObserveFile(k.Tag, k.MET, metrics.OK, time.Since(start))
		s.Metrics.AddEvents(k.Tag, k.MET, sum.Accepted, sum.Rejected)
	}()

	fctx, cancel := guardrails.ForFile(ctx, s.Cfg.Timeouts)
	defer cancel()

	hs, err := hist.NewSet(k.MET, s.Cfg.Binning)
	if err != nil {
		return nil, sum, perr.Wrap(err, perr.ErrorCodeConfig, "binning")
	}
	hx, _ := hs.Get(k.MET, hist.ComponentX)
	hy, _ := hs.Get(k.MET, hist.ComponentY)

	rd, err := events.Open(fctx, s.Open, ref)
	if err != nil {
		return nil, sum, err
	}
	defer func() {
		if cerr := rd.Close(); cerr != nil && retErr == nil {
			retErr = perr.Wrapf(cerr, perr.ErrorCodeIO, "close %s", ref)
		}
	}()

	var snap results.PointWriter
	if job.Snapshot && s.Snap != nil {
		if snap, err = s.Snap.Open(fctx, job.RunID, k, index); err != nil {
			return nil, sum, err
		}
		defer func() {
			if retErr != nil {
				snap.Abort()
			}
		}()
	}

	cols := events.ColumnsFor(k.MET, job.Pileup)
	if !job.Dataset.IsData() {
		cols = cols.WithoutKeys()
	}

	size := s.Cfg.BatchSize
	if size <= 0 {
		size = 4096
	}
	batch := make([]met.Event, 0, size)
	flush := func() error {
		mask := golden.Filter(job.Predicate, batch)
		for i, ev := range batch {
			if !mask[i] {
				sum.Rejected++
				continue
			}
			p := ev.Reduce()
			if snap != nil {
				if err := snap.Write(p); err != nil {
					return err
				}
			}
			hx.Fill(p.Pileup, p.X)
			hy.Fill(p.Pileup, p.Y)
			sum.Accepted++
		}
		batch = batch[:0]
		return nil
	}

	for {
		row, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, sum, perr.WithOp(err, ref)
		}
		ev, err := events.Decode(row, cols)
		if err != nil {
			return nil, sum, perr.Wrapf(err, perr.ErrorCodeIO, "%s row %d", ref, sum.Events+1)
		}
		sum.Events++
		if batch = append(batch, ev); len(batch) == size {
			if err := flush(); err != nil {
				return nil, sum, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, sum, err
	}
	if snap != nil {
		if err := snap.Close(); err != nil {
			return nil, sum, err
		}
	}

	sum.Files = 1
	sum.Bytes = rd.Stats().Bytes
	logger.C(ctx).Debug().Str("file", ref).Int64("events", sum.Events).Int64("accepted", sum.Accepted).
		Dur("elapsed", time.Since(start)).Msg("derive: file done")
	return hs, sum, nil
}
