package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"metxy/internal/platform/config"
	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/store/ch"
)

type fakePG struct {
	pingErr  error
	closed   bool
	affected int64
	rows     [][]any
	queryErr error
}

func (f *fakePG) Exec(context.Context, string, ...any) (CommandTag, error) {
	return fakeTag(f.affected), nil
}

func (f *fakePG) Query(context.Context, string, ...any) (Rows, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{data: f.rows, i: -1}, nil
}

func (f *fakePG) QueryRow(context.Context, string, ...any) Row { return nil }

func (f *fakePG) Tx(ctx context.Context, fn func(q RowQuerier) error) error { return fn(f) }
func (f *fakePG) Ping(context.Context) error                                { return f.pingErr }
func (f *fakePG) Close() error                                              { f.closed = true; return nil }

type fakeTag int64

func (t fakeTag) String() string      { return "UPDATE" }
func (t fakeTag) RowsAffected() int64 { return int64(t) }

type fakeRows struct {
	data [][]any
	i    int
}

func (r *fakeRows) Next() bool { r.i++; return r.i < len(r.data) }
func (r *fakeRows) Scan(dest ...any) error {
	for i, d := range dest {
		*(d.(*string)) = r.data[r.i][i].(string)
	}
	return nil
}
func (r *fakeRows) Err() error        { return nil }
func (r *fakeRows) Close()            {}
func (r *fakeRows) Columns() []string { return []string{"tag"} }

type fakeCH struct {
	inserted [][]any
	pingErr  error
	closed   bool
}

func (f *fakeCH) Exec(context.Context, string, ...any) error { return nil }
func (f *fakeCH) Insert(_ context.Context, _ string, _ []string, rows [][]any) error {
	f.inserted = append(f.inserted, rows...)
	return nil
}
func (f *fakeCH) Query(context.Context, string, ...any) (ch.Rows, error) { return nil, errors.New("no") }
func (f *fakeCH) Ping(context.Context) error                             { return f.pingErr }
func (f *fakeCH) Close() error                                           { f.closed = true; return nil }

func TestOpen_NothingEnabled(t *testing.T) {
	s, err := Open(context.Background(), Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.PG != nil || s.CH != nil {
		t.Fatalf("backends should be nil: %+v", s)
	}
	if err := s.Guard(context.Background()); err != nil {
		t.Fatalf("guard: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestGuardAndClose(t *testing.T) {
	pg := &fakePG{pingErr: errors.New("down")}
	c := &fakeCH{}
	s, err := Open(context.Background(), Config{}, WithPG(pg), WithCH(newCHAdapter(c)))
	if err != nil {
		t.Fatal(err)
	}
	err = s.Guard(context.Background())
	if !perr.IsCode(err, perr.ErrorCodeUnavailable) || !strings.Contains(err.Error(), "pg") {
		t.Fatalf("guard: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !pg.closed || !c.closed {
		t.Fatal("both backends should be closed")
	}
}

func TestCHAdapter_InsertShape(t *testing.T) {
	c := &fakeCH{}
	a := newCHAdapter(c)
	cols := []string{"tag", "met_x"}
	if err := a.Insert(context.Background(), "t", cols, [][]any{{"a", 1.0}, {"b"}}); err == nil {
		t.Fatal("short row should fail")
	}
	if err := a.Insert(context.Background(), "", cols, nil); err == nil {
		t.Fatal("empty table should fail")
	}
	if err := a.Insert(context.Background(), "t", cols, [][]any{{"a", 1.0}}); err != nil || len(c.inserted) != 1 {
		t.Fatalf("insert: %v %v", err, c.inserted)
	}
}

func TestHelpers(t *testing.T) {
	ctx := context.Background()
	scan := func(r Row) (string, error) {
		var s string
		return s, r.Scan(&s)
	}

	q := &fakePG{rows: [][]any{{"DATA_2022C"}, {"MC_DY"}}}
	all, err := Many(ctx, q, scan, "SELECT tag")
	if err != nil || len(all) != 2 || all[1] != "MC_DY" {
		t.Fatalf("many: %v %v", all, err)
	}
	if _, err := One(ctx, q, scan, "SELECT tag"); !perr.IsCode(err, perr.ErrorCodeDB) {
		t.Fatalf("one over two rows: %v", err)
	}

	q.rows = nil
	if _, err := One(ctx, q, scan, "SELECT tag"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("one over none: %v", err)
	}

	q.affected = 0
	if err := ExecOne(ctx, q, "UPDATE"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("exec one: %v", err)
	}
	q.affected = 1
	if err := ExecOne(ctx, q, "UPDATE"); err != nil {
		t.Fatalf("exec one: %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SERVICE_PGSQL_DBURL", "postgres://u:p@localhost/metxy")
	t.Setenv("SERVICE_PGSQL_MAX_CONNS", "8")
	t.Setenv("SERVICE_CLICKHOUSE_DBURL", "")

	cfg := ConfigFromEnv(config.New(), "metxy", "derive")
	if !cfg.PG.Enabled || cfg.PG.MaxConns != 8 || cfg.PG.SlowQueryMs != 250 {
		t.Fatalf("pg %+v", cfg.PG)
	}
	if cfg.CH.Enabled {
		t.Fatal("clickhouse should be disabled without a url")
	}
}
