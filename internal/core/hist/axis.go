package hist

import (
	"math"

	perr "metxy/internal/platform/errors"
)

// Axis is a fixed-width binning of [Low, High] into NBins bins
// bins are half-open except the last, which includes High
// index 0 is underflow and NBins+1 is overflow
type Axis struct {
	NBins int     `msgpack:"n" yaml:"bins" json:"bins"`
	Low   float64 `msgpack:"lo" yaml:"low" json:"low"`
	High  float64 `msgpack:"hi" yaml:"high" json:"high"`
}

// Validate checks the axis is usable
func (a Axis) Validate() error {
	switch {
	case a.NBins <= 0:
		return perr.Configf("axis needs at least one bin, got %d", a.NBins)
	case math.IsNaN(a.Low) || math.IsNaN(a.High) || math.IsInf(a.Low, 0) || math.IsInf(a.High, 0):
		return perr.Configf("axis bounds must be finite, got [%v, %v]", a.Low, a.High)
	case a.Low >= a.High:
		return perr.Configf("axis low %v must be below high %v", a.Low, a.High)
	}
	return nil
}

// Width is the bin width
func (a Axis) Width() float64 { return (a.High - a.Low) / float64(a.NBins) }

// Cells is NBins plus the two flow bins
func (a Axis) Cells() int { return a.NBins + 2 }

// Index returns the cell index for v, or -1 for NaN
func (a Axis) Index(v float64) int {
	switch {
	case math.IsNaN(v):
		return -1
	case v < a.Low:
		return 0
	case v > a.High:
		return a.NBins + 1
	case v == a.High:
		return a.NBins
	}
	i := 1 + int(float64(a.NBins)*(v-a.Low)/(a.High-a.Low))
	if i > a.NBins {
		// rounding just below High
		i = a.NBins
	}
	return i
}

// InRange reports whether cell index i is a regular bin
func (a Axis) InRange(i int) bool { return i >= 1 && i <= a.NBins }

// Center returns the center of regular bin i (1-based)
func (a Axis) Center(i int) float64 { return a.Low + (float64(i)-0.5)*a.Width() }

// LowEdge returns the lower edge of regular bin i (1-based)
func (a Axis) LowEdge(i int) float64 { return a.Low + float64(i-1)*a.Width() }
