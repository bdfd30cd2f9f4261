// Package hist implements the dense 2D histograms the pipeline accumulates
// MET components into.
//
// A Histogram2D counts (x, y) fills over a fixed grid with flow cells on every
// edge, and keeps per-x-bin profile sums of y for fills that land inside both
// axes. The profile is what the correction fit consumes; out-of-range fills
// only ever reach the flow cells. Merge is cell-wise addition, so partial
// histograms may be reduced in any order.
package hist

import (
	"math"

	perr "metxy/internal/platform/errors"
)

// Histogram2D is a count grid over (X, Y) plus per-X-bin profile sums
type Histogram2D struct {
	Name string `msgpack:"name"`
	X    Axis   `msgpack:"x"`
	Y    Axis   `msgpack:"y"`

	// Counts is row-major in X: Counts[ix*Y.Cells()+iy]
	Counts []float64 `msgpack:"counts"`

	// profile sums indexed by X cell; only regular X bins are ever filled
	Entries []float64 `msgpack:"entries"`
	SumX    []float64 `msgpack:"sum_x"`
	SumY    []float64 `msgpack:"sum_y"`
	SumY2   []float64 `msgpack:"sum_y2"`

	Fills   int64 `msgpack:"fills"`
	Skipped int64 `msgpack:"skipped"`
}

// New returns an empty histogram with validated axes
func New(name string, x, y Axis) (*Histogram2D, error) {
	if err := x.Validate(); err != nil {
		return nil, perr.WithField(err, name+".x")
	}
	if err := y.Validate(); err != nil {
		return nil, perr.WithField(err, name+".y")
	}
	nx := x.Cells()
	return &Histogram2D{
		Name:    name,
		X:       x,
		Y:       y,
		Counts:  make([]float64, nx*y.Cells()),
		Entries: make([]float64, nx),
		SumX:    make([]float64, nx),
		SumY:    make([]float64, nx),
		SumY2:   make([]float64, nx),
	}, nil
}

func (h *Histogram2D) cell(ix, iy int) int { return ix*h.Y.Cells() + iy }

// At returns the count in cell (ix, iy), flow cells included
func (h *Histogram2D) At(ix, iy int) float64 { return h.Counts[h.cell(ix, iy)] }

// Fill records one (x, y) pair; NaN on either axis is skipped and reported false
func (h *Histogram2D) Fill(x, y float64) bool {
	ix, iy := h.X.Index(x), h.Y.Index(y)
	if ix < 0 || iy < 0 {
		h.Skipped++
		return false
	}
	h.Counts[h.cell(ix, iy)]++
	h.Fills++
	if h.X.InRange(ix) && h.Y.InRange(iy) {
		h.Entries[ix]++
		h.SumX[ix] += x
		h.SumY[ix] += y
		h.SumY2[ix] += y * y
	}
	return true
}

// Compatible reports whether h and o share both axis definitions
func (h *Histogram2D) Compatible(o *Histogram2D) bool {
	return h.X == o.X && h.Y == o.Y
}

// Merge adds o into h cell by cell
func (h *Histogram2D) Merge(o *Histogram2D) error {
	if o == nil {
		return nil
	}
	if !h.Compatible(o) {
		return perr.InvalidArgf("merge %s: axes differ (x %v vs %v, y %v vs %v)", h.Name, h.X, o.X, h.Y, o.Y)
	}
	addTo(h.Counts, o.Counts)
	addTo(h.Entries, o.Entries)
	addTo(h.SumX, o.SumX)
	addTo(h.SumY, o.SumY)
	addTo(h.SumY2, o.SumY2)
	h.Fills += o.Fills
	h.Skipped += o.Skipped
	return nil
}

func addTo(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Equal compares every cell and profile sum within tol
func (h *Histogram2D) Equal(o *Histogram2D, tol float64) bool {
	if !h.Compatible(o) || h.Fills != o.Fills || h.Skipped != o.Skipped {
		return false
	}
	for _, p := range [][2][]float64{
		{h.Counts, o.Counts}, {h.Entries, o.Entries}, {h.SumX, o.SumX}, {h.SumY, o.SumY}, {h.SumY2, o.SumY2},
	} {
		if len(p[0]) != len(p[1]) {
			return false
		}
		for i := range p[0] {
			if math.Abs(p[0][i]-p[1][i]) > tol {
				return false
			}
		}
	}
	return true
}

// ProfileBin summarises the in-range fills of one X bin
type ProfileBin struct {
	Index   int
	Center  float64
	Entries float64
	MeanX   float64
	MeanY   float64
	SumY    float64
	RMSY    float64
}

// Profile returns one ProfileBin per regular X bin, empty bins included
func (h *Histogram2D) Profile() []ProfileBin {
	out := make([]ProfileBin, 0, h.X.NBins)
	for ix := 1; ix <= h.X.NBins; ix++ {
		b := ProfileBin{Index: ix, Center: h.X.Center(ix), Entries: h.Entries[ix], SumY: h.SumY[ix]}
		if n := h.Entries[ix]; n > 0 {
			b.MeanX = h.SumX[ix] / n
			b.MeanY = h.SumY[ix] / n
			if v := h.SumY2[ix]/n - b.MeanY*b.MeanY; v > 0 {
				b.RMSY = math.Sqrt(v)
			}
		}
		out = append(out, b)
	}
	return out
}

// Underflow is the X-underflow total, all Y cells included
func (h *Histogram2D) Underflow() float64 { return h.rowSum(0) }

// Overflow is the X-overflow total
func (h *Histogram2D) Overflow() float64 { return h.rowSum(h.X.NBins + 1) }

func (h *Histogram2D) rowSum(ix int) float64 {
	var s float64
	for iy := 0; iy < h.Y.Cells(); iy++ {
		s += h.At(ix, iy)
	}
	return s
}

// validate checks slice shapes after decoding
func (h *Histogram2D) validate() error {
	if err := h.X.Validate(); err != nil {
		return err
	}
	if err := h.Y.Validate(); err != nil {
		return err
	}
	nx := h.X.Cells()
	if len(h.Counts) != nx*h.Y.Cells() {
		return perr.IOf("histogram %s: %d counts for %dx%d cells", h.Name, len(h.Counts), nx, h.Y.Cells())
	}
	for _, s := range [][]float64{h.Entries, h.SumX, h.SumY, h.SumY2} {
		if len(s) != nx {
			return perr.IOf("histogram %s: profile length %d, want %d", h.Name, len(s), nx)
		}
	}
	return nil
}
