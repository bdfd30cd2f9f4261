package module

import (
	"context"
	"testing"

	"metxy/internal/adapters/dataset"
	"metxy/internal/modkit"
	"metxy/internal/platform/config"
	"metxy/internal/services/derive/domain"
	"metxy/internal/services/derive/repo"
)

type noDatasets struct{}

func (noDatasets) Select([]dataset.Type, []string) ([]dataset.Dataset, error) { return nil, nil }

func TestFromConfig_Defaults(t *testing.T) {
	o := FromConfig(config.New())
	if o.Workers != 4 || o.MaxRetries != 3 || o.BatchSize != 4096 {
		t.Fatalf("defaults %+v", o)
	}
	if o.Binning.Pileup.NBins != 100 || o.Binning.MET.Low != -200 || o.Window.FitHigh != 100 {
		t.Fatalf("science defaults %+v %+v", o.Binning, o.Window)
	}
}

func TestFromConfig_Overrides(t *testing.T) {
	t.Setenv("METXY_DERIVE_WORKERS", "8")
	t.Setenv("METXY_HIST_PU_BINS", "50")
	t.Setenv("METXY_FIT_LOW", "10")
	t.Setenv("METXY_INGEST_RETAIN_MAX_DAYS", "2")
	o := FromConfig(config.New())
	if o.Workers != 8 || o.Binning.Pileup.NBins != 50 || o.Window.FitLow != 10 {
		t.Fatalf("overrides %+v", o)
	}
	if o.RetainMaxAge.Hours() != 48 {
		t.Fatalf("retain %v", o.RetainMaxAge)
	}
}

func TestNew_BadConfig(t *testing.T) {
	t.Setenv("METXY_DERIVE_WORKERS", "many")
	_, err := New(context.Background(), modkit.Deps{Cfg: config.New()}, Inputs{Catalog: noDatasets{}, ResultsDir: t.TempDir()})
	if err == nil {
		t.Fatal("want config error")
	}
}

func TestNew_WithoutBackends(t *testing.T) {
	m, err := New(context.Background(), modkit.Deps{Cfg: config.New()}, Inputs{Catalog: noDatasets{}, ResultsDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if m.Name() != "derive" {
		t.Fatal(m.Name())
	}
	ports := m.Ports().(Ports)
	if _, ok := ports.Ledger.(*repo.Memory); !ok {
		t.Fatalf("ledger should be in memory without Postgres, got %T", ports.Ledger)
	}

	_, err = m.Runner().Run(context.Background(), domain.Request{
		Version: "v0", Epoch: "2022", METs: []string{"MET"}, Pileup: "PV_npvsGood", Hists: true,
	})
	if err != nil {
		t.Fatalf("empty catalog should run clean: %v", err)
	}
}
