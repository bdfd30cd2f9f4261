package service

import (
	"context"

	"metxy/internal/core/correction"
	"metxy/internal/core/hist"
	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/logger"
	"metxy/internal/services/derive/domain"
)

// ExtractCorrections reloads the persisted histograms of k and fits both
// components. A failing component does not stop the other; the set is only
// returned without error when both fits succeeded.
func (s *Service) ExtractCorrections(ctx context.Context, k domain.Key) (correction.Set, []correction.Record, error) {
	hs, err := s.Results.ReadHists(k)
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			err = perr.NotFoundf("no histograms for %s; run the hists phase first", k.Op())
		}
		return correction.Set{}, nil, perr.WithOp(err, k.Op())
	}

	set, recs, err := correction.Extract(hs, k.MET, s.Cfg.Window, k.Op())
	log := logger.C(ctx)
	for _, r := range recs {
		m, c := r.Display()
		s.Metrics.ObserveFit(k.Tag, k.MET, string(r.Component), r.Slope, nil)
		log.Info().Str("component", string(r.Component)).Float64("m", m).Float64("c", c).
			Int("points", r.Points).Msg("derive: fitted")
	}
	for _, c := range hist.Components {
		if !fitted(recs, c) {
			s.Metrics.ObserveFit(k.Tag, k.MET, string(c), 0, perr.Fitf("component %s failed", c))
		}
	}
	return set, recs, err
}

func fitted(recs []correction.Record, c hist.Component) bool {
	for _, r := range recs {
		if r.Component == c {
			return true
		}
	}
	return false
}
