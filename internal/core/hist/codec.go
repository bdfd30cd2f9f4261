package hist

import (
	"io"

	perr "metxy/internal/platform/errors"

	"github.com/vmihailenco/msgpack/v5"
)

// FormatVersion is bumped whenever the encoded layout changes
const FormatVersion = 1

// envelope is the on-disk form of a Set
type envelope struct {
	Format     int            `msgpack:"format"`
	MET        string         `msgpack:"met"`
	Histograms []*Histogram2D `msgpack:"histograms"`
}

// Encode writes s as msgpack; histograms are ordered by name for stable output
func Encode(w io.Writer, met string, s Set) error {
	env := envelope{Format: FormatVersion, MET: met}
	for _, n := range s.Names() {
		env.Histograms = append(env.Histograms, s[n])
	}
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&env); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "encode histograms")
	}
	return nil
}

// Decode reads a Set written by Encode and returns it with its MET type
func Decode(r io.Reader) (string, Set, error) {
	var env envelope
	if err := msgpack.NewDecoder(r).Decode(&env); err != nil {
		return "", nil, perr.Wrap(err, perr.ErrorCodeIO, "decode histograms")
	}
	if env.Format != FormatVersion {
		return "", nil, perr.IOf("histogram format %d, want %d", env.Format, FormatVersion)
	}
	s := make(Set, len(env.Histograms))
	for _, h := range env.Histograms {
		if h == nil {
			return "", nil, perr.IOf("histogram file holds a null entry")
		}
		if err := h.validate(); err != nil {
			return "", nil, perr.Wrapf(err, perr.ErrorCodeIO, "histogram %s", h.Name)
		}
		s[h.Name] = h
	}
	return env.MET, s, nil
}
