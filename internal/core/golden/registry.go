// Package golden loads certified run/luminosity-block registries and answers
// eligibility questions against them.
//
// A registry file is a JSON object mapping run numbers (as strings) to lists of
// inclusive [low, high] luminosity-block ranges:
//
//	{"355100": [[1, 50], [60, 75]], "355101": [[1, 12]]}
//
// Ranges are sorted and overlapping or adjacent ranges are coalesced at load,
// so lookups are a binary search per run. A Registry is read-only after
// construction and safe for concurrent use without locks.
package golden

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"

	perr "metxy/internal/platform/errors"
)

// Interval is an inclusive luminosity-block range certified for a run
type Interval struct {
	Low  int64
	High int64
}

// Contains reports whether lumi lies in [Low, High]
func (iv Interval) Contains(lumi int64) bool { return lumi >= iv.Low && lumi <= iv.High }

// Registry maps run numbers to sorted, disjoint intervals
type Registry struct {
	runs map[int64][]Interval
}

// Load reads a registry from a JSON file
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeConfig, "open golden registry %s", path)
	}
	defer f.Close()

	reg, err := Parse(f)
	if err != nil {
		return nil, perr.WithField(err, path)
	}
	return reg, nil
}

// Parse reads a registry from r
func Parse(r io.Reader) (*Registry, error) {
	var raw map[string][][]json.Number
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfig, "golden registry is not a mapping of run to ranges")
	}
	if raw == nil {
		return nil, perr.Configf("golden registry is null")
	}

	runs := make(map[int64][]Interval, len(raw))
	for key, ranges := range raw {
		run, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, perr.Configf("golden registry run key %q is not an integer", key)
		}
		ivs := make([]Interval, 0, len(ranges))
		for i, pair := range ranges {
			iv, err := parseRange(pair)
			if err != nil {
				return nil, perr.Wrapf(err, perr.ErrorCodeConfig, "run %d range %d", run, i)
			}
			ivs = append(ivs, iv)
		}
		runs[run] = coalesce(ivs)
	}
	return &Registry{runs: runs}, nil
}

func parseRange(pair []json.Number) (Interval, error) {
	if len(pair) != 2 {
		return Interval{}, perr.Configf("want [low, high], got %d values", len(pair))
	}
	lo, err := pair[0].Int64()
	if err != nil {
		return Interval{}, perr.Configf("low %q is not an integer", pair[0])
	}
	hi, err := pair[1].Int64()
	if err != nil {
		return Interval{}, perr.Configf("high %q is not an integer", pair[1])
	}
	if lo > hi {
		return Interval{}, perr.Configf("low %d > high %d", lo, hi)
	}
	return Interval{Low: lo, High: hi}, nil
}

// coalesce sorts by Low and merges overlapping or adjacent intervals in place
func coalesce(ivs []Interval) []Interval {
	if len(ivs) < 2 {
		return ivs
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Low < ivs[j].Low })
	out := ivs[:1]
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if iv.Low <= last.High+1 {
			if iv.High > last.High {
				last.High = iv.High
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// IsCertified reports whether (run, lumi) falls within a certified interval
// unknown runs are never certified
func (r *Registry) IsCertified(run, lumi int64) bool {
	if r == nil {
		return false
	}
	ivs := r.runs[run]
	// first interval starting after lumi; the candidate is the one before it
	i := sort.Search(len(ivs), func(i int) bool { return ivs[i].Low > lumi })
	return i > 0 && ivs[i-1].Contains(lumi)
}

// Predicate returns IsCertified as a Predicate
func (r *Registry) Predicate() Predicate { return r.IsCertified }

// Runs returns the number of runs with at least one interval
func (r *Registry) Runs() int {
	if r == nil {
		return 0
	}
	return len(r.runs)
}

// Intervals returns a copy of the coalesced intervals for run
func (r *Registry) Intervals(run int64) []Interval {
	if r == nil {
		return nil
	}
	return append([]Interval(nil), r.runs[run]...)
}
