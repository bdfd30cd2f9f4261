package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/store"
	kit "metxy/internal/platform/testkit"
	"metxy/internal/services/derive/domain"
)

var key = domain.Key{Version: "v0", Epoch: "2022_Summer22", Tag: "DATA_2022C", MET: "PuppiMET"}

func TestMemory_StateMachine(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, key); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("empty ledger: %v", err)
	}
	if err := m.Finish(ctx, "r1", key, domain.PhaseHists, domain.Finish{}); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("finish before start: %v", err)
	}

	_ = m.Start(ctx, "r1", key, domain.PhaseHists)
	run, _ := m.Get(ctx, key)
	if run.Stage != domain.StageUnstarted || run.Status != "running" {
		t.Fatalf("after start %+v", run)
	}
	_ = m.Finish(ctx, "r1", key, domain.PhaseHists, domain.Finish{Stage: domain.StageHistogramsBuilt, Files: 2, Events: 10})
	run, _ = m.Get(ctx, key)
	if run.Stage != domain.StageHistogramsBuilt || run.Files != 2 || run.FinishedAt == nil {
		t.Fatalf("after hists %+v", run)
	}

	// a failing corr phase moves the key into the error stage
	_ = m.Start(ctx, "r1", key, domain.PhaseCorr)
	if run, _ = m.Get(ctx, key); run.Stage != domain.StageHistogramsBuilt {
		t.Fatalf("start must keep the reached stage, got %s", run.Stage)
	}
	_ = m.Finish(ctx, "r1", key, domain.PhaseCorr, domain.Finish{ErrText: "fit failed"})
	run, _ = m.Get(ctx, key)
	if run.Stage != domain.StageError || run.Status != "error" || run.ErrText != "fit failed" {
		t.Fatalf("after failure %+v", run)
	}

	if err := m.Finish(ctx, "other", key, domain.PhaseCorr, domain.Finish{}); err == nil {
		t.Fatal("finish under a different run id should fail")
	}
}

func TestMemory_ListOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, k := range []domain.Key{
		{Version: "v0", Epoch: "e", Tag: "b", MET: "MET"},
		{Version: "v0", Epoch: "e", Tag: "a", MET: "PuppiMET"},
		{Version: "v0", Epoch: "e", Tag: "a", MET: "MET"},
		{Version: "v1", Epoch: "e", Tag: "a", MET: "MET"},
	} {
		_ = m.Start(ctx, "r", k, domain.PhaseHists)
	}
	runs, _ := m.List(ctx, "v0", "e")
	if len(runs) != 3 || runs[0].MET != "MET" || runs[1].MET != "PuppiMET" || runs[2].Tag != "b" {
		t.Fatalf("list %+v", runs)
	}
}

// fakes for the PG binder

type fakeTag int64

func (f fakeTag) String() string      { return "UPDATE" }
func (f fakeTag) RowsAffected() int64 { return int64(f) }

type fakeRows struct {
	rows [][]any
	i    int
}

func (r *fakeRows) Next() bool        { r.i++; return r.i <= len(r.rows) }
func (r *fakeRows) Err() error        { return nil }
func (r *fakeRows) Close()            {}
func (r *fakeRows) Columns() []string { return nil }
func (r *fakeRows) Scan(dest ...any) error {
	src := r.rows[r.i-1]
	if len(src) != len(dest) {
		return errors.New("scan width")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = src[i].(string)
		case *int:
			*p = src[i].(int)
		case *int64:
			*p = src[i].(int64)
		case *time.Time:
			*p = src[i].(time.Time)
		case **time.Time:
			if v, ok := src[i].(time.Time); ok {
				*p = &v
			}
		default:
			return errors.New("unsupported dest")
		}
	}
	return nil
}

type fakeQ struct {
	sql      []string
	args     [][]any
	affected int64
	rows     [][]any
	execErr  error
}

func (f *fakeQ) Exec(_ context.Context, sql string, args ...any) (store.CommandTag, error) {
	f.sql, f.args = append(f.sql, sql), append(f.args, args)
	return fakeTag(f.affected), f.execErr
}

func (f *fakeQ) Query(_ context.Context, sql string, args ...any) (store.Rows, error) {
	f.sql, f.args = append(f.sql, sql), append(f.args, args)
	return &fakeRows{rows: f.rows}, nil
}

func (f *fakeQ) QueryRow(context.Context, string, ...any) store.Row { return nil }

type fakeTx struct {
	*fakeQ
	txs int
}

func (f *fakeTx) Tx(_ context.Context, fn func(store.RowQuerier) error) error {
	f.txs++
	return fn(f.fakeQ)
}

func TestPG_StartFinishArgs(t *testing.T) {
	ctx := context.Background()
	q := &fakeQ{affected: 1}
	r := NewPG().Bind(q)

	if err := r.Start(ctx, "0b0e", key, domain.PhaseHists); err != nil {
		t.Fatal(err)
	}
	kit.MustContain(t, q.sql[0], "ON CONFLICT (version, epoch, tag, met)")
	if q.args[0][4] != "0b0e" || q.args[0][5] != "hists" {
		t.Fatalf("start args %v", q.args[0])
	}

	err := r.Finish(ctx, "0b0e", key, domain.PhaseHists, domain.Finish{Stage: domain.StageHistogramsBuilt, Files: 3})
	if err != nil {
		t.Fatal(err)
	}
	a := q.args[1]
	if a[6] != "ok" || a[7] != "histograms_built" || a[8] != 3 {
		t.Fatalf("finish args %v", a)
	}

	_ = r.Finish(ctx, "0b0e", key, domain.PhaseCorr, domain.Finish{ErrText: "boom"})
	if a := q.args[2]; a[6] != "error" || a[7] != "error" || a[12] != "boom" {
		t.Fatalf("failed finish args %v", a)
	}

	q.affected = 0
	err = r.Finish(ctx, "stale", key, domain.PhaseCorr, domain.Finish{})
	if !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("stale run id should be NotFound, got %v", err)
	}
	if e, _ := perr.As(err); e.Op() != "DATA_2022C/PuppiMET" {
		t.Fatalf("op %q", e.Op())
	}
}

func TestPG_GetList(t *testing.T) {
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	row := []any{"v0", "2022_Summer22", "DATA_2022C", "PuppiMET", "0b0e", "corr", "corrections_extracted", "ok",
		2, int64(100), int64(80), 15, "", started, started.Add(time.Minute)}

	q := &fakeQ{rows: [][]any{row}}
	r := NewPG().Bind(q)
	run, err := r.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if run.Stage != domain.StageCorrectionsExtracted || run.Accepted != 80 || run.FinishedAt == nil {
		t.Fatalf("run %+v", run)
	}
	if !strings.Contains(q.sql[0], "run_id::text") {
		t.Fatal("run id should be read as text")
	}

	q.rows = nil
	if _, err := r.Get(ctx, key); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("missing row: %v", err)
	}

	q.rows = [][]any{row, row}
	runs, err := r.List(ctx, "v0", "2022_Summer22")
	if err != nil || len(runs) != 2 {
		t.Fatalf("list %v %v", runs, err)
	}
}

func TestNewLedger(t *testing.T) {
	if _, ok := NewLedger(nil, 0).(*Memory); !ok {
		t.Fatal("nil db should fall back to memory")
	}

	tx := &fakeTx{fakeQ: &fakeQ{affected: 1}}
	l := NewLedger(tx, time.Second)
	if err := l.Start(context.Background(), "r", key, domain.PhaseHists); err != nil {
		t.Fatal(err)
	}
	if tx.txs != 1 || len(tx.sql) != 2 || tx.sql[0] != "SET LOCAL lock_timeout = '5s'" {
		t.Fatalf("txs=%d sql=%v", tx.txs, tx.sql)
	}

	tx.execErr = errors.New("connection reset")
	if err := l.Start(context.Background(), "r", key, domain.PhaseHists); err == nil {
		t.Fatal("exec failure should surface")
	}
}
