// Package events reads per-event tables from local files or remote URLs
//
// Supported layouts, chosen by extension (an optional trailing .gz is
// transparently decompressed; gzip is also sniffed from the magic bytes):
//   - .jsonl / .ndjson: one JSON object per line, column -> number
//   - .json: an array of row objects, or a columnar object {column: [values]}
//   - .csv: header row then numeric rows
//
// Every row is exposed as a Row (column -> float64). A malformed line or file
// is an IO error: callers abort the whole dataset tag rather than skipping rows.
package events

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strconv"
	"strings"

	perr "metxy/internal/platform/errors"
)

const (
	maxLineSize  = 16 * 1024 * 1024
	ctxCheckRows = 4096
)

// Row is one event as column -> numeric value
type Row map[string]float64

// Stats reports what a reader has consumed so far
type Stats struct {
	Rows  int
	Bytes int64
}

// Reader streams rows; Next returns io.EOF when done
type Reader interface {
	Next() (Row, error)
	Close() error
	Stats() Stats
}

// Format is the table layout of an input file
type Format string

// Formats
const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
)

// DetectFormat returns the table layout for ref and whether the name says gzip
func DetectFormat(ref string) (Format, bool, error) {
	name := strings.ToLower(path.Base(strings.SplitN(ref, "?", 2)[0]))
	gz := strings.HasSuffix(name, ".gz")
	name = strings.TrimSuffix(name, ".gz")
	switch path.Ext(name) {
	case ".jsonl", ".ndjson":
		return FormatJSONL, gz, nil
	case ".json":
		return FormatJSON, gz, nil
	case ".csv":
		return FormatCSV, gz, nil
	}
	return "", gz, perr.IOf("unsupported event file %q (want .jsonl, .ndjson, .json or .csv, optionally .gz)", ref)
}

// NewReader wraps rc in a reader for format; rc is closed by Reader.Close
func NewReader(ctx context.Context, rc io.ReadCloser, format Format) (Reader, error) {
	br := bufio.NewReaderSize(rc, 256*1024)
	var src io.Reader = br
	var gz *gzip.Reader
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err = gzip.NewReader(br)
		if err != nil {
			_ = rc.Close()
			return nil, perr.Wrap(err, perr.ErrorCodeIO, "gzip header")
		}
		src = gz
	}
	cnt := &countingReader{r: src}
	base := baseReader{ctx: ctx, rc: rc, gz: gz, cnt: cnt}

	switch format {
	case FormatJSONL:
		sc := bufio.NewScanner(cnt)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		return &jsonlReader{baseReader: base, sc: sc}, nil
	case FormatJSON:
		rows, err := decodeJSONTable(cnt)
		if err != nil {
			_ = base.Close()
			return nil, err
		}
		return &sliceReader{baseReader: base, rows: rows}, nil
	case FormatCSV:
		cr := csv.NewReader(cnt)
		cr.ReuseRecord = true
		cr.TrimLeadingSpace = true
		hdr, err := cr.Read()
		if err != nil {
			_ = base.Close()
			return nil, perr.Wrap(err, perr.ErrorCodeIO, "csv header")
		}
		cols := make([]string, len(hdr))
		for i, h := range hdr {
			cols[i] = strings.TrimSpace(h)
		}
		return &csvReader{baseReader: base, cr: cr, cols: cols}, nil
	}
	_ = base.Close()
	return nil, perr.IOf("unknown format %q", format)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type baseReader struct {
	ctx  context.Context
	rc   io.ReadCloser
	gz   *gzip.Reader
	cnt  *countingReader
	rows int
}

func (b *baseReader) Stats() Stats { return Stats{Rows: b.rows, Bytes: b.cnt.n} }

func (b *baseReader) Close() error {
	var first error
	if b.gz != nil {
		first = b.gz.Close()
	}
	if err := b.rc.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// tick counts a row and checks for cancellation every few thousand rows
func (b *baseReader) tick() error {
	b.rows++
	if b.rows%ctxCheckRows == 0 && b.ctx != nil {
		return b.ctx.Err()
	}
	return nil
}

type jsonlReader struct {
	baseReader
	sc   *bufio.Scanner
	line int
}

func (r *jsonlReader) Next() (Row, error) {
	for r.sc.Scan() {
		r.line++
		b := bytes.TrimSpace(r.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		row, err := decodeRow(b)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeIO, "line %d", r.line)
		}
		if err := r.tick(); err != nil {
			return nil, err
		}
		return row, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "line %d", r.line+1)
	}
	return nil, io.EOF
}

type sliceReader struct {
	baseReader
	rows []Row
	i    int
}

func (r *sliceReader) Next() (Row, error) {
	if r.i >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.i]
	r.rows[r.i] = nil
	r.i++
	if err := r.tick(); err != nil {
		return nil, err
	}
	return row, nil
}

type csvReader struct {
	baseReader
	cr   *csv.Reader
	cols []string
}

func (r *csvReader) Next() (Row, error) {
	rec, err := r.cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "csv")
	}
	line, _ := r.cr.FieldPos(0)
	if len(rec) != len(r.cols) {
		return nil, perr.IOf("csv line %d: %d fields, header has %d", line, len(rec), len(r.cols))
	}
	row := make(Row, len(rec))
	for i, s := range rec {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, perr.IOf("csv line %d column %s: %q is not numeric", line, r.cols[i], s)
		}
		row[r.cols[i]] = v
	}
	if err := r.tick(); err != nil {
		return nil, err
	}
	return row, nil
}

// decodeRow parses one JSON object; non-numeric values are dropped
func decodeRow(b []byte) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if err := drained(dec); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("row is not an object")
	}
	return rowFrom(obj), nil
}

// drained fails when anything but whitespace follows the first JSON value
func drained(dec *json.Decoder) error {
	var extra json.RawMessage
	switch err := dec.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return err
	}
	return errors.New("trailing data after JSON value")
}

func rowFrom(obj map[string]any) Row {
	row := make(Row, len(obj))
	for k, v := range obj {
		if f, ok := number(v); ok {
			row[k] = f
		}
	}
	return row
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// decodeJSONTable accepts [{...}, ...] or {"col": [..], ...}
func decodeJSONTable(r io.Reader) ([]Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "json table")
	}
	if err := drained(dec); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "json table")
	}
	switch t := doc.(type) {
	case []any:
		rows := make([]Row, 0, len(t))
		for i, item := range t {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, perr.IOf("json table row %d is not an object", i)
			}
			rows = append(rows, rowFrom(obj))
		}
		return rows, nil
	case map[string]any:
		return columnar(t)
	}
	return nil, perr.IOf("json table must be an array of rows or an object of columns")
}

func columnar(cols map[string]any) ([]Row, error) {
	n := -1
	arrays := make(map[string][]any, len(cols))
	for k, v := range cols {
		arr, ok := v.([]any)
		if !ok {
			return nil, perr.IOf("json column %s is not an array", k)
		}
		if n >= 0 && len(arr) != n {
			return nil, perr.IOf("json column %s has %d values, others have %d", k, len(arr), n)
		}
		n = len(arr)
		arrays[k] = arr
	}
	if n < 0 {
		return nil, nil
	}
	rows := make([]Row, n)
	for i := range rows {
		row := make(Row, len(arrays))
		for k, arr := range arrays {
			if f, ok := number(arr[i]); ok {
				row[k] = f
			}
		}
		rows[i] = row
	}
	return rows, nil
}
