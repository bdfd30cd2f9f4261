package metrics

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	kit "metxy/internal/platform/testkit"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineCounters(t *testing.T) {
	p := New()
	p.Files.WithLabelValues("DATA_2022C", "MET", OK).Add(2)
	p.Events.WithLabelValues("DATA_2022C", "MET").Add(5)
	p.Fits.WithLabelValues("DATA_2022C", "MET", "x", Failed).Inc()

	if got := testutil.ToFloat64(p.Files.WithLabelValues("DATA_2022C", "MET", OK)); got != 2 {
		t.Fatalf("files = %v", got)
	}
	if n := testutil.CollectAndCount(p.Fits); n != 1 {
		t.Fatalf("fit series = %d", n)
	}

	path := filepath.Join(t.TempDir(), "node", "metxy.prom")
	if err := p.WriteTextfile(path); err != nil {
		t.Fatalf("textfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	kit.MustContain(t, string(b), `metxy_events_total{met="MET",tag="DATA_2022C"} 5`)

	if err := p.WriteTextfile(""); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}

func TestHandler(t *testing.T) {
	p := New().WithRuntime()
	p.Events.WithLabelValues("MC_DY", "PuppiMET").Inc()

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	kit.MustContain(t, rec.Body.String(), "metxy_events_total")
	kit.MustContain(t, rec.Body.String(), "go_goroutines")
}

func TestHelpers_NilSafe(t *testing.T) {
	var nilp *Pipeline
	nilp.ObserveFile("t", "MET", OK, time.Second)
	nilp.AddEvents("t", "MET", 1, 1)
	nilp.ObserveFit("t", "MET", "x", 1, nil)
	nilp.Retry("t", "MET")
	if err := nilp.WriteTextfile("/nonexistent/x.prom"); err != nil {
		t.Fatalf("nil pipeline should not write: %v", err)
	}

	p := New()
	p.ObserveFit("t", "MET", "x", 0.25, nil)
	p.ObserveFit("t", "MET", "y", 0, errTest)
	p.AddEvents("t", "MET", 7, 3)
	if got := testutil.ToFloat64(p.FitSlope.WithLabelValues("t", "MET", "x")); got != 0.25 {
		t.Fatalf("slope = %v", got)
	}
	if got := testutil.ToFloat64(p.Fits.WithLabelValues("t", "MET", "y", Failed)); got != 1 {
		t.Fatalf("failed fits = %v", got)
	}
	if got := testutil.ToFloat64(p.Rejected.WithLabelValues("t", "MET")); got != 3 {
		t.Fatalf("rejected = %v", got)
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errTest = testErr("fit failed")
