// Package results persists pipeline outputs under a results root:
//
//	hists/<version>/<epoch>/<tag>/<MET>.hist            msgpack histogram pair
//	corrections/<version>/<epoch>/<tag>/<MET>.yaml      {_x: {m, c}, _y: {m, c}}
//	snapshots/<version>/<epoch>/<tag>/<MET>_<i>.jsonl.gz reduced events per input file
//	corrections/<version>/<epoch>/summary.xlsx          one row per tag and MET
//
// Every file is written to a sibling .part and renamed into place.
package results

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"metxy/internal/core/correction"
	"metxy/internal/core/hist"
	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/validate"
)

const (
	histExt = ".hist"
	corrExt = ".yaml"
)

// Key addresses one (tag, MET) output
type Key struct {
	Version string `param:"version" json:"version" validate:"required,ident"`
	Epoch   string `param:"epoch" json:"epoch" validate:"required,ident"`
	Tag     string `param:"tag" json:"tag" validate:"required,ident"`
	MET     string `param:"met" json:"met" validate:"required,ident"`
}

// Validate rejects keys that would escape the results root
func (k Key) Validate() error { return validate.Struct(k, perr.ErrorCodeInvalidArgument) }

// Op is the error label for this key
func (k Key) Op() string { return perr.Op(k.Tag, k.MET) }

// FS is the filesystem result store
type FS struct {
	Root string
}

// NewFS returns a store rooted at dir ("results" when empty)
func NewFS(dir string) *FS {
	if dir == "" {
		dir = "results"
	}
	return &FS{Root: dir}
}

func (s *FS) dir(kind string, k Key) string {
	return filepath.Join(s.Root, kind, k.Version, k.Epoch, k.Tag)
}

// HistPath is where the histogram pair for k lives
func (s *FS) HistPath(k Key) string { return filepath.Join(s.dir("hists", k), k.MET+histExt) }

// CorrPath is where the correction record for k lives
func (s *FS) CorrPath(k Key) string { return filepath.Join(s.dir("corrections", k), k.MET+corrExt) }

// SummaryPath is the workbook for one version and epoch
func (s *FS) SummaryPath(version, epoch string) string {
	return filepath.Join(s.Root, "corrections", version, epoch, "summary.xlsx")
}

// HistExists reports whether histograms for k were already written
func (s *FS) HistExists(k Key) bool {
	fi, err := os.Stat(s.HistPath(k))
	return err == nil && fi.Mode().IsRegular()
}

// WriteHists persists the histogram pair for k
func (s *FS) WriteHists(k Key, hs hist.Set) error {
	if err := k.Validate(); err != nil {
		return err
	}
	return writeAtomic(s.HistPath(k), func(w io.Writer) error { return hist.Encode(w, k.MET, hs) })
}

// ReadHists loads the histogram pair for k; a missing file is NotFound
func (s *FS) ReadHists(k Key) (hist.Set, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.HistPath(k))
	if err != nil {
		return nil, openErr(err, s.HistPath(k))
	}
	defer func() { _ = f.Close() }()
	met, hs, err := hist.Decode(f)
	if err != nil {
		return nil, perr.WithOp(err, k.Op())
	}
	if met != k.MET {
		return nil, perr.IOf("%s holds %s histograms, want %s", s.HistPath(k), met, k.MET)
	}
	return hs, nil
}

// WriteCorrections persists the correction record for k
func (s *FS) WriteCorrections(k Key, c correction.Set) error {
	if err := k.Validate(); err != nil {
		return err
	}
	b, err := correction.Marshal(c)
	if err != nil {
		return err
	}
	return writeAtomic(s.CorrPath(k), func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(b))
		return err
	})
}

// ReadCorrections loads the correction record for k
func (s *FS) ReadCorrections(k Key) (correction.Set, error) {
	if err := k.Validate(); err != nil {
		return correction.Set{}, err
	}
	b, err := os.ReadFile(s.CorrPath(k))
	if err != nil {
		return correction.Set{}, openErr(err, s.CorrPath(k))
	}
	return correction.Unmarshal(b)
}

// Entry is one stored correction
type Entry struct {
	Key
	Set correction.Set `json:"corrections"`
}

// ListCorrections returns every record under version/epoch, sorted by tag then MET.
// A record that fails to parse is an error.
func (s *FS) ListCorrections(version, epoch string) ([]Entry, error) {
	base := filepath.Join(s.Root, "corrections", version, epoch)
	if !validate.Ident(version) || !validate.Ident(epoch) {
		return nil, perr.InvalidArgf("bad version or epoch")
	}
	tags, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "list %s", base)
	}
	var out []Entry
	for _, t := range tags {
		if !t.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(base, t.Name()))
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeIO, "list %s", t.Name())
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.HasSuffix(name, corrExt) {
				continue
			}
			k := Key{Version: version, Epoch: epoch, Tag: t.Name(), MET: strings.TrimSuffix(name, corrExt)}
			set, err := s.ReadCorrections(k)
			if err != nil {
				return nil, perr.WithOp(err, k.Op())
			}
			out = append(out, Entry{Key: k, Set: set})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].MET < out[j].MET
	})
	return out, nil
}

func openErr(err error, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return perr.Wrapf(err, perr.ErrorCodeNotFound, "%s not found", path)
	}
	return perr.Wrapf(err, perr.ErrorCodeIO, "open %s", path)
}

// writeAtomic streams into path.part and renames it over path on success
func writeAtomic(path string, fill func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "mkdir %s", filepath.Dir(path))
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "create %s", tmp)
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		if _, ok := perr.As(err); ok {
			return err
		}
		return perr.Wrapf(err, perr.ErrorCodeIO, "write %s", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return perr.Wrapf(err, perr.ErrorCodeIO, "close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return perr.Wrapf(err, perr.ErrorCodeIO, "rename %s", path)
	}
	return nil
}
