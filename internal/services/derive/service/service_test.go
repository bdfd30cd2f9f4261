package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"metxy/internal/adapters/dataset"
	"metxy/internal/adapters/events"
	"metxy/internal/adapters/results"
	"metxy/internal/core/correction"
	"metxy/internal/core/golden"
	"metxy/internal/core/hist"
	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/metrics"
	"metxy/internal/platform/store"
	kit "metxy/internal/platform/testkit"
	"metxy/internal/services/derive/domain"
	"metxy/internal/services/derive/repo"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCatalog []dataset.Dataset

func (c fakeCatalog) Select(types []dataset.Type, tags []string) ([]dataset.Dataset, error) {
	want := map[string]bool{}
	for _, t := range tags {
		want[t] = true
	}
	var out []dataset.Dataset
	for _, d := range c {
		if len(tags) == 0 || want[d.Tag] {
			out = append(out, d)
		}
	}
	return out, nil
}

// row renders one event with phi = 0, so met_x = pt and met_y = 0
func row(run, lumi int, pt, pu float64) string {
	return fmt.Sprintf(`{"run":%d,"luminosityBlock":%d,"MET_pt":%g,"MET_phi":0,"PV_npvsGood":%g}`, run, lumi, pt, pu)
}

// linear writes two files on the line met_x = 2*pileup + 5 plus one event
// outside the certified lumi range that would spoil the fit if it were kept
func linear(t *testing.T, dir string) []string {
	t.Helper()
	a := strings.Join([]string{row(1, 1, 25, 10), row(1, 2, 45, 20)}, "\n")
	b := strings.Join([]string{row(1, 3, 65, 30), row(1, 4, 85, 40), row(1, 99, 150, 10)}, "\n")
	return []string{
		kit.WriteFile(t, dir, "in/a.jsonl", a),
		kit.WriteFile(t, dir, "in/b.jsonl", b),
	}
}

type env struct {
	svc    *Service
	fs     *results.FS
	ledger *repo.Memory
	prom   *metrics.Pipeline
}

func newEnv(t *testing.T, cat fakeCatalog, open domain.Opener) env {
	t.Helper()
	if open == nil {
		open = events.LocalOpener{}
	}
	fs := results.NewFS(t.TempDir())
	ledger := repo.NewMemory()
	prom := metrics.New()
	svc := New(cat, (*golden.Cache)(nil), open, fs, ledger, Config{
		Workers:    2,
		MaxRetries: 3,
		RetryBase:  time.Millisecond,
		BatchSize:  2,
		Binning:    hist.DefaultBinning(),
		Window:     correction.DefaultWindow(),
	}).WithMetrics(prom).WithSnapshots(fs)
	svc.newRunID = func() string { return "run-1" }
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return env{svc: svc, fs: fs, ledger: ledger, prom: prom}
}

func dataDataset(t *testing.T, dir, tag string, files []string) dataset.Dataset {
	gj := kit.WriteFile(t, dir, tag+"/golden.json", `{"1": [[1, 10]]}`)
	return dataset.Dataset{Tag: tag, Names: []string{"/" + tag}, Type: dataset.TypeData, GoldenJSON: gj, Files: files}
}

func request(tags ...string) domain.Request {
	return domain.Request{
		Version: "v0", Epoch: "2022_Summer22", METs: []string{"MET"}, Pileup: "PV_npvsGood",
		Tags: tags, Hists: true, Corr: true,
	}
}

func key(tag string) domain.Key {
	return domain.Key{Version: "v0", Epoch: "2022_Summer22", Tag: tag, MET: "MET"}
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	ds := dataDataset(t, dir, "DATA_2022C", linear(t, dir))
	e := newEnv(t, fakeCatalog{ds}, nil)

	req := request()
	req.Snapshot = true
	req.Report = true
	rep, err := e.svc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.RunID != "run-1" || len(rep.Outcomes) != 2 || rep.Summary == "" {
		t.Fatalf("report %+v", rep)
	}

	sum := rep.Outcomes[0].Summary
	if sum.Files != 2 || sum.Events != 5 || sum.Accepted != 4 || sum.Rejected != 1 {
		t.Fatalf("summary %+v", sum)
	}

	k := key("DATA_2022C")
	set, err := e.fs.ReadCorrections(k)
	if err != nil {
		t.Fatalf("corrections: %v", err)
	}
	kit.Near(t, set.X.M, 2, 1e-9, "x slope")
	kit.Near(t, set.X.C, 5, 1e-9, "x intercept")
	kit.Near(t, set.Y.M, 0, 1e-9, "y slope")

	run, err := e.ledger.Get(context.Background(), k)
	if err != nil || run.Stage != domain.StageCorrectionsExtracted || run.Status != "ok" {
		t.Fatalf("ledger %+v %v", run, err)
	}

	if got := testutil.ToFloat64(e.prom.Events.WithLabelValues("DATA_2022C", "MET")); got != 4 {
		t.Fatalf("events metric = %v", got)
	}
	if got := testutil.ToFloat64(e.prom.Files.WithLabelValues("DATA_2022C", "MET", metrics.OK)); got != 2 {
		t.Fatalf("files metric = %v", got)
	}
	for i := range 2 {
		if _, err := os.Stat(e.fs.SnapshotPath(k, i)); err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
	}
}

func TestRun_SimulationBypassesGolden(t *testing.T) {
	dir := t.TempDir()
	ds := dataset.Dataset{Tag: "MC_DY", Names: []string{"/DY"}, Type: dataset.TypeMC, Files: linear(t, dir)}
	e := newEnv(t, fakeCatalog{ds}, nil)

	req := request()
	req.Corr = false
	rep, err := e.svc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum := rep.Outcomes[0].Summary; sum.Accepted != 5 || sum.Rejected != 0 {
		t.Fatalf("simulation should keep every event: %+v", sum)
	}
	if !e.fs.HistExists(key("MC_DY")) {
		t.Fatal("histograms not written")
	}
}

func TestRun_ExistingHistograms(t *testing.T) {
	dir := t.TempDir()
	ds := dataDataset(t, dir, "DATA_2022C", linear(t, dir))
	e := newEnv(t, fakeCatalog{ds}, nil)
	ctx := context.Background()

	hists := request()
	hists.Corr = false
	if _, err := e.svc.Run(ctx, hists); err != nil {
		t.Fatal(err)
	}

	rep, err := e.svc.Run(ctx, request())
	if !perr.HasCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
	if len(rep.Outcomes) != 2 || rep.Outcomes[1].Err != nil {
		t.Fatalf("corr should still run on stored histograms: %+v", rep.Outcomes)
	}
	if _, err := e.fs.ReadCorrections(key("DATA_2022C")); err != nil {
		t.Fatalf("corrections: %v", err)
	}

	forced := request()
	forced.Force = true
	if _, err := e.svc.Run(ctx, forced); err != nil {
		t.Fatalf("force: %v", err)
	}
}

func TestRun_ReadFailureAbortsOnlyThatTag(t *testing.T) {
	dir := t.TempDir()
	bad := kit.WriteFile(t, dir, "bad/a.jsonl", row(1, 1, 25, 10)+"\n{not json\n")
	broken := dataDataset(t, dir, "DATA_2022B", []string{bad})
	good := dataDataset(t, dir, "DATA_2022C", linear(t, dir))
	e := newEnv(t, fakeCatalog{broken, good}, nil)

	req := request()
	req.METs = []string{"MET", "PuppiMET"}
	rep, err := e.svc.Run(context.Background(), req)
	if !perr.HasCode(err, perr.ErrorCodeIO) {
		t.Fatalf("want IO error, got %v", err)
	}

	var brokenOutcomes int
	for _, o := range rep.Outcomes {
		if o.Tag == "DATA_2022B" {
			brokenOutcomes++
		}
	}
	if brokenOutcomes != 1 {
		t.Fatalf("broken tag should stop after its first failure, got %d outcomes", brokenOutcomes)
	}
	if e.fs.HistExists(key("DATA_2022B")) {
		t.Fatal("no histogram may be written for an aborted tag")
	}
	if _, err := e.fs.ReadCorrections(key("DATA_2022C")); err != nil {
		t.Fatalf("healthy tag should complete: %v", err)
	}
	run, _ := e.ledger.Get(context.Background(), key("DATA_2022B"))
	if run.Stage != domain.StageError || run.ErrText == "" {
		t.Fatalf("ledger %+v", run)
	}
}

func TestRun_ConfigErrorsWriteNothing(t *testing.T) {
	dir := t.TempDir()
	ds := dataDataset(t, dir, "DATA_2022C", linear(t, dir))

	cases := map[string]func(*Service, *domain.Request){
		"no phase":     func(_ *Service, r *domain.Request) { r.Hists, r.Corr = false, false },
		"no met":       func(_ *Service, r *domain.Request) { r.METs = nil },
		"repeated met": func(_ *Service, r *domain.Request) { r.METs = []string{"MET", "MET"} },
		"bad epoch":    func(_ *Service, r *domain.Request) { r.Epoch = "../x" },
		"bad window":   func(s *Service, _ *domain.Request) { s.Cfg.Window.FitHigh = -1 },
		"bad binning":  func(s *Service, _ *domain.Request) { s.Cfg.Binning.MET.NBins = 0 },
		"bad golden": func(s *Service, _ *domain.Request) {
			s.Catalog = fakeCatalog{{Tag: "DATA_X", Type: dataset.TypeData, GoldenJSON: filepath.Join(dir, "nope.json")}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, fakeCatalog{ds}, nil)
			req := request()
			mutate(e.svc, &req)
			rep, err := e.svc.Run(context.Background(), req)
			if !perr.IsCode(err, perr.ErrorCodeConfig) {
				t.Fatalf("want config error, got %v", err)
			}
			if len(rep.Outcomes) != 0 || e.fs.HistExists(key("DATA_2022C")) {
				t.Fatalf("nothing should have run: %+v", rep)
			}
		})
	}
}

func TestRun_CorrWithoutHistograms(t *testing.T) {
	e := newEnv(t, fakeCatalog{{Tag: "MC_DY", Type: dataset.TypeMC}}, nil)
	req := request()
	req.Hists = false
	_, err := e.svc.Run(context.Background(), req)
	if !perr.HasCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	kit.MustContain(t, err.Error(), "hists phase first")
}

func TestRun_EmptyFileListGivesEmptyHistograms(t *testing.T) {
	e := newEnv(t, fakeCatalog{{Tag: "MC_DY", Type: dataset.TypeMC}}, nil)
	req := request()
	req.Corr = false
	if _, err := e.svc.Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	hs, err := e.fs.ReadHists(key("MC_DY"))
	if err != nil || hs.Fills() != 0 || len(hs.Names()) != 2 {
		t.Fatalf("hists %v %v", hs.Names(), err)
	}
}

// flaky fails the first n opens as unavailable
type flaky struct {
	n     int32
	calls atomic.Int32
}

func (f *flaky) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if f.calls.Add(1) <= f.n {
		return nil, perr.Unavailablef("storage busy")
	}
	return events.LocalOpener{}.Open(ctx, ref)
}

func TestRun_RetriesUnavailableReads(t *testing.T) {
	dir := t.TempDir()
	files := linear(t, dir)[:1]
	op := &flaky{n: 2}
	e := newEnv(t, fakeCatalog{{Tag: "MC_DY", Type: dataset.TypeMC, Files: files}}, op)
	var slept []time.Duration
	e.svc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	req := request()
	req.Corr = false
	rep, err := e.svc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Outcomes[0].Summary.Retries != 2 || len(slept) != 2 {
		t.Fatalf("retries %+v slept %v", rep.Outcomes[0].Summary, slept)
	}
	if got := testutil.ToFloat64(e.prom.Retries.WithLabelValues("MC_DY", "MET")); got != 2 {
		t.Fatalf("retry metric = %v", got)
	}

	op.calls.Store(0)
	op.n = 10
	req.Force = true
	_, err = e.svc.Run(context.Background(), req)
	if !perr.HasCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("want unavailable after exhausting retries, got %v", err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	kit.MustPanic(t, func() { New(nil, nil, events.LocalOpener{}, results.NewFS(t.TempDir()), repo.NewMemory(), Config{}) })
}

// flakyCH fails its first Insert and stores every later one
type flakyCH struct {
	mu    sync.Mutex
	calls int
	rows  [][]any
}

func (f *flakyCH) Exec(context.Context, string, ...any) error { return nil }
func (f *flakyCH) Insert(_ context.Context, _ string, _ []string, rows [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 {
		return perr.Unavailablef("clickhouse: connection reset")
	}
	f.rows = append(f.rows, rows...)
	return nil
}
func (f *flakyCH) Query(context.Context, string, ...any) (store.Rows, error) { return nil, nil }
func (f *flakyCH) Close() error                                              { return nil }

func TestRun_SnapshotInsertRetryStoresEachEventOnce(t *testing.T) {
	dir := t.TempDir()
	ds := dataDataset(t, dir, "DATA_2022C", linear(t, dir))
	e := newEnv(t, fakeCatalog{ds}, nil)
	ch := &flakyCH{}
	e.svc.WithSnapshots(results.Tee{e.fs, results.NewCHSnapshots(ch, 1)})

	req := request()
	req.Corr = false
	req.Snapshot = true
	rep, err := e.svc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	sum := rep.Outcomes[0].Summary
	if sum.Accepted != 4 || sum.Retries != 1 {
		t.Fatalf("summary %+v", sum)
	}
	if len(ch.rows) != int(sum.Accepted) {
		t.Fatalf("clickhouse rows %d, accepted events %d", len(ch.rows), sum.Accepted)
	}
	if got := testutil.ToFloat64(e.prom.Retries.WithLabelValues("DATA_2022C", "MET")); got != 1 {
		t.Fatalf("retries metric = %v", got)
	}
}

func TestRun_FailedComponentKeepsTheOther(t *testing.T) {
	ctx := context.Background()
	ds := dataset.Dataset{Tag: "MC_DY", Names: []string{"/DY"}, Type: dataset.TypeMC}
	e := newEnv(t, fakeCatalog{ds}, nil)

	// only x has entries; y is empty and cannot be fitted
	hs, err := hist.NewSet("MET", hist.DefaultBinning())
	if err != nil {
		t.Fatal(err)
	}
	hx, _ := hs.Get("MET", hist.ComponentX)
	for _, pu := range []float64{10, 20, 30} {
		hx.Fill(pu, 2*pu+5)
	}
	k := key("MC_DY")
	if err := e.fs.WriteHists(k, hs); err != nil {
		t.Fatal(err)
	}

	req := request()
	req.Hists = false
	rep, err := e.svc.Run(ctx, req)
	if !perr.HasCode(err, perr.ErrorCodeFit) {
		t.Fatalf("want fit error, got %v", err)
	}
	kit.MustContain(t, err.Error(), "MC_DY")
	if len(rep.Outcomes) != 1 || len(rep.Outcomes[0].Records) != 1 {
		t.Fatalf("outcomes %+v", rep.Outcomes)
	}

	set, err := e.fs.ReadCorrections(k)
	if err != nil {
		t.Fatalf("fitted component should be stored: %v", err)
	}
	if set.X == nil || set.Y != nil {
		t.Fatalf("set %+v", set)
	}
	kit.Near(t, set.X.M, 2, 1e-9, "x slope")

	run, _ := e.ledger.Get(ctx, k)
	if run.Stage != domain.StageError {
		t.Fatalf("ledger %+v", run)
	}
}
