package results

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"metxy/internal/core/met"
	perr "metxy/internal/platform/errors"
)

// PointWriter receives the reduced events of one input file.
// Close commits; Abort discards whatever can still be discarded.
type PointWriter interface {
	Write(p met.Point) error
	Close() error
	Abort()
}

// Snapshotter opens a PointWriter per input file
type Snapshotter interface {
	Open(ctx context.Context, runID string, k Key, index int) (PointWriter, error)
}

// SnapshotPath is where file index of k is snapshotted
func (s *FS) SnapshotPath(k Key, index int) string {
	return filepath.Join(s.dir("snapshots", k), k.MET+"_"+strconv.Itoa(index)+".jsonl.gz")
}

// Open implements Snapshotter with gzip JSON lines on disk
func (s *FS) Open(_ context.Context, _ string, k Key, index int) (PointWriter, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	path := s.SnapshotPath(k, index)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "mkdir %s", filepath.Dir(path))
	}
	f, err := os.Create(path + ".part")
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "create snapshot %s", path)
	}
	gz := gzip.NewWriter(f)
	bw := bufio.NewWriterSize(gz, 64*1024)
	return &fileSnapshot{path: path, f: f, gz: gz, bw: bw, enc: json.NewEncoder(bw)}, nil
}

type fileSnapshot struct {
	path string
	f    *os.File
	gz   *gzip.Writer
	bw   *bufio.Writer
	enc  *json.Encoder
	done bool
}

func (w *fileSnapshot) Write(p met.Point) error {
	if err := w.enc.Encode(p); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "snapshot %s", w.path)
	}
	return nil
}

func (w *fileSnapshot) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	err := errors.Join(w.bw.Flush(), w.gz.Close(), w.f.Close())
	if err == nil {
		err = os.Rename(w.path+".part", w.path)
	}
	if err != nil {
		_ = os.Remove(w.path + ".part")
		return perr.Wrapf(err, perr.ErrorCodeIO, "snapshot %s", w.path)
	}
	return nil
}

func (w *fileSnapshot) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.f.Close()
	_ = os.Remove(w.path + ".part")
}

// Tee fans snapshots out to several backends
type Tee []Snapshotter

// Open implements Snapshotter; a failure closes the writers already opened
func (t Tee) Open(ctx context.Context, runID string, k Key, index int) (PointWriter, error) {
	ws := make(teeWriter, 0, len(t))
	for _, s := range t {
		w, err := s.Open(ctx, runID, k, index)
		if err != nil {
			ws.Abort()
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

type teeWriter []PointWriter

func (ws teeWriter) Write(p met.Point) error {
	for _, w := range ws {
		if err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

func (ws teeWriter) Close() error {
	var errs []error
	for _, w := range ws {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

func (ws teeWriter) Abort() {
	for _, w := range ws {
		w.Abort()
	}
}
