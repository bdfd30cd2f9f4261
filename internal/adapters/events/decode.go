package events

import (
	"math"

	"metxy/internal/core/met"
	perr "metxy/internal/platform/errors"
)

// DefaultPileup is the pileup column used when none is configured
const DefaultPileup = "PV_npvsGood"

// Columns names the table columns an EventRecord is projected from.
// An empty Run or Lumi name means the key is not read (simulation).
type Columns struct {
	Run    string
	Lumi   string
	Pt     string
	Phi    string
	Pileup string
}

// ColumnsFor returns the NanoAOD-style column names for a MET type
func ColumnsFor(metType, pileup string) Columns {
	if pileup == "" {
		pileup = DefaultPileup
	}
	return Columns{
		Run:    "run",
		Lumi:   "luminosityBlock",
		Pt:     metType + "_pt",
		Phi:    metType + "_phi",
		Pileup: pileup,
	}
}

// WithoutKeys drops the run and lumi columns
func (c Columns) WithoutKeys() Columns {
	c.Run, c.Lumi = "", ""
	return c
}

// Decode projects a row onto an event; a missing or non-finite column is an IO error
func Decode(row Row, c Columns) (met.Event, error) {
	var ev met.Event
	get := func(name string) (float64, error) {
		v, ok := row[name]
		if !ok {
			return 0, perr.WithField(perr.IOf("column %s missing", name), name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, perr.WithField(perr.IOf("column %s is not finite", name), name)
		}
		return v, nil
	}

	var err error
	if ev.Pt, err = get(c.Pt); err != nil {
		return ev, err
	}
	if ev.Phi, err = get(c.Phi); err != nil {
		return ev, err
	}
	if ev.Pileup, err = get(c.Pileup); err != nil {
		return ev, err
	}
	if c.Run != "" {
		v, err := get(c.Run)
		if err != nil {
			return ev, err
		}
		ev.Run = int64(v)
	}
	if c.Lumi != "" {
		v, err := get(c.Lumi)
		if err != nil {
			return ev, err
		}
		ev.LuminosityBlock = int64(v)
	}
	return ev, nil
}
