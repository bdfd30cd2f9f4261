package hist

import (
	"sort"

	perr "metxy/internal/platform/errors"
)

// Component names the Cartesian MET component a histogram holds
type Component string

// MET components
const (
	ComponentX Component = "x"
	ComponentY Component = "y"
)

// Components lists both components in persistence order
var Components = []Component{ComponentX, ComponentY}

// Key is the persisted histogram name, e.g. "PuppiMET_x"
func Key(met string, c Component) string { return met + "_" + string(c) }

// Binning fixes the pileup (X) and MET component (Y) axes
type Binning struct {
	Pileup Axis `yaml:"pileup" json:"pileup"`
	MET    Axis `yaml:"met" json:"met"`
}

// DefaultBinning is 100 pileup bins over [0, 100] and 200 MET bins over [-200, 200]
func DefaultBinning() Binning {
	return Binning{
		Pileup: Axis{NBins: 100, Low: 0, High: 100},
		MET:    Axis{NBins: 200, Low: -200, High: 200},
	}
}

// Validate checks both axes
func (b Binning) Validate() error {
	if err := b.Pileup.Validate(); err != nil {
		return perr.WithField(err, "pileup")
	}
	if err := b.MET.Validate(); err != nil {
		return perr.WithField(err, "met")
	}
	return nil
}

// Set holds the histograms of one (tag, MET type) keyed by name
type Set map[string]*Histogram2D

// NewSet creates empty <met>_x and <met>_y histograms
func NewSet(met string, b Binning) (Set, error) {
	s := make(Set, len(Components))
	for _, c := range Components {
		h, err := New(Key(met, c), b.Pileup, b.MET)
		if err != nil {
			return nil, err
		}
		s[h.Name] = h
	}
	return s, nil
}

// Get returns the histogram for met/component
func (s Set) Get(met string, c Component) (*Histogram2D, bool) {
	h, ok := s[Key(met, c)]
	return h, ok
}

// Merge adds every histogram of o into s; names must match exactly
func (s Set) Merge(o Set) error {
	if len(s) != len(o) {
		return perr.InvalidArgf("merge sets: %d vs %d histograms", len(s), len(o))
	}
	for name, h := range s {
		oh, ok := o[name]
		if !ok {
			return perr.InvalidArgf("merge sets: %s missing from partial", name)
		}
		if err := h.Merge(oh); err != nil {
			return err
		}
	}
	return nil
}

// Names returns histogram names sorted
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Fills is the sum of Fills over every histogram in the set
func (s Set) Fills() int64 {
	var n int64
	for _, h := range s {
		n += h.Fills
	}
	return n
}
