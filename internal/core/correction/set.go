package correction

import (
	stderrs "errors"

	"metxy/internal/core/hist"
	perr "metxy/internal/platform/errors"

	"gopkg.in/yaml.v2"
)

// Params is one component's persisted line
type Params struct {
	M float64 `yaml:"m" json:"m"`
	C float64 `yaml:"c" json:"c"`
}

// Set is the persisted correction for one MET type:
//
//	_x: {m: ..., c: ...}
//	_y: {m: ..., c: ...}
type Set struct {
	X *Params `yaml:"_x,omitempty" json:"_x,omitempty"`
	Y *Params `yaml:"_y,omitempty" json:"_y,omitempty"`
}

// Empty reports whether no component was fitted
func (s Set) Empty() bool { return s.X == nil && s.Y == nil }

// Put stores a record under its component
func (s *Set) Put(r Record) {
	p := &Params{M: r.Slope, C: r.Intercept}
	switch r.Component {
	case hist.ComponentX:
		s.X = p
	case hist.ComponentY:
		s.Y = p
	}
}

// Extract fits both components of met in hs
// a failing component does not stop the other; failures are joined and
// labelled tag/met/component via op
func Extract(hs hist.Set, met string, w Window, op string) (Set, []Record, error) {
	var (
		out  Set
		recs []Record
		errs []error
	)
	for _, c := range hist.Components {
		h, ok := hs.Get(met, c)
		if !ok {
			errs = append(errs, perr.WithOp(perr.Fitf("histogram %s missing", hist.Key(met, c)), perr.Op(op, string(c))))
			continue
		}
		rec, err := Fit(h, c, w)
		if err != nil {
			errs = append(errs, perr.WithOp(err, perr.Op(op, string(c))))
			continue
		}
		out.Put(rec)
		recs = append(recs, rec)
	}
	return out, recs, stderrs.Join(errs...)
}

// Marshal renders s as YAML
func Marshal(s Set) ([]byte, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "encode corrections")
	}
	return b, nil
}

// Unmarshal parses a persisted correction set
func Unmarshal(b []byte) (Set, error) {
	var s Set
	if err := yaml.UnmarshalStrict(b, &s); err != nil {
		return Set{}, perr.Wrap(err, perr.ErrorCodeIO, "decode corrections")
	}
	return s, nil
}
