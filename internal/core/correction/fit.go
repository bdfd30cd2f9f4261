// Package correction extracts affine xy corrections from aggregated histograms.
//
// For each MET component the fit is a weighted least-squares line through the
// per-pileup-bin profile means, value = m*pileup + c, restricted to pileup bins
// whose center lies inside the fit window. Each bin's weight is its number of
// in-range entries, so empty bins contribute nothing.
package correction

import (
	"math"

	"metxy/internal/core/hist"
	perr "metxy/internal/platform/errors"
)

// Window is the pileup domain of the fit and the wider domain a plotter
// should draw the fitted line over
type Window struct {
	FitLow      float64 `yaml:"fit_low" json:"fit_low"`
	FitHigh     float64 `yaml:"fit_high" json:"fit_high"`
	DisplayLow  float64 `yaml:"display_low" json:"display_low"`
	DisplayHigh float64 `yaml:"display_high" json:"display_high"`
}

// DefaultWindow fits over [0, 100] and displays over [-10, 110]
func DefaultWindow() Window {
	return Window{FitLow: 0, FitHigh: 100, DisplayLow: -10, DisplayHigh: 110}
}

// Validate checks the window bounds are ordered
func (w Window) Validate() error {
	if !(w.FitLow < w.FitHigh) {
		return perr.Configf("fit window [%v, %v] is empty", w.FitLow, w.FitHigh)
	}
	if !(w.DisplayLow <= w.FitLow && w.FitHigh <= w.DisplayHigh) {
		return perr.Configf("display window [%v, %v] must contain fit window [%v, %v]",
			w.DisplayLow, w.DisplayHigh, w.FitLow, w.FitHigh)
	}
	return nil
}

// Contains reports whether x is inside the fit domain (inclusive)
func (w Window) Contains(x float64) bool { return x >= w.FitLow && x <= w.FitHigh }

// Record is the fitted line for one component; values keep full precision
type Record struct {
	Component hist.Component `json:"component"`
	Slope     float64        `json:"m"`
	Intercept float64        `json:"c"`
	Points    int            `json:"points"`
	Weight    float64        `json:"weight"`
	Window    Window         `json:"window"`
}

// Display returns slope and intercept rounded to 3 decimals, for humans only
func (r Record) Display() (m, c float64) { return Round(r.Slope, 3), Round(r.Intercept, 3) }

// Round rounds v half away from zero to the given number of decimals
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Fit runs the weighted least-squares fit of h's profile over w
func Fit(h *hist.Histogram2D, comp hist.Component, w Window) (Record, error) {
	if h == nil {
		return Record{}, perr.Fitf("no histogram for component %s", comp)
	}
	if err := w.Validate(); err != nil {
		return Record{}, err
	}

	var sw, sx, sy, sxx, sxy float64
	points := 0
	for _, b := range h.Profile() {
		if b.Entries <= 0 || !w.Contains(b.Center) {
			continue
		}
		n := b.Entries
		sw += n
		sx += n * b.MeanX
		sy += n * b.MeanY
		sxx += n * b.MeanX * b.MeanX
		sxy += n * b.MeanX * b.MeanY
		points++
	}
	if points < 2 {
		return Record{}, perr.Fitf("%s: %d non-empty bins in fit window [%v, %v], need at least 2",
			h.Name, points, w.FitLow, w.FitHigh)
	}

	denom := sw*sxx - sx*sx
	if denom <= 1e-12*sw*sxx || denom <= 0 {
		return Record{}, perr.Fitf("%s: pileup values in fit window are degenerate", h.Name)
	}
	m := (sw*sxy - sx*sy) / denom
	c := (sy - m*sx) / sw

	return Record{
		Component: comp,
		Slope:     m,
		Intercept: c,
		Points:    points,
		Weight:    sw,
		Window:    w,
	}, nil
}
