package module

import (
	"time"

	"metxy/internal/core/correction"
	"metxy/internal/core/hist"
	"metxy/internal/platform/config"
)

// Options holds configuration options for the derive service
type Options struct {
	Workers    int
	MaxRetries int
	RetryBase  time.Duration
	BatchSize  int

	TagTimeout  time.Duration
	FileTimeout time.Duration
	DBTimeout   time.Duration

	Binning hist.Binning
	Window  correction.Window

	// Remote input cache; an empty CacheDir streams remote files uncached
	CacheDir       string
	HTTPTimeout    time.Duration
	Revalidate     bool
	RetainMaxAge   time.Duration
	RetainMaxBytes int64

	GoldenCacheSize int64
	SnapshotBatch   int
}

// FromConfig reads the derive options from config with METXY_ prefixes.
// Problems are recorded on cfg and surface through cfg.Err().
func FromConfig(cfg config.Conf) Options {
	dv := cfg.Prefix("METXY_DERIVE_")
	hs := cfg.Prefix("METXY_HIST_")
	ft := cfg.Prefix("METXY_FIT_")
	in := cfg.Prefix("METXY_INGEST_")

	b := hist.DefaultBinning()
	w := correction.DefaultWindow()
	return Options{
		Workers:     dv.MayInt("WORKERS", 4),
		MaxRetries:  dv.MayInt("RETRIES", 3),
		RetryBase:   dv.MayDuration("RETRY_BASE", 500*time.Millisecond),
		BatchSize:   dv.MayInt("BATCH", 4096),
		TagTimeout:  dv.MayDuration("TAG_TIMEOUT", 0),
		FileTimeout: dv.MayDuration("READ_TIMEOUT", 10*time.Minute),
		DBTimeout:   dv.MayDuration("DB_TIMEOUT", 5*time.Second),

		Binning: hist.Binning{
			Pileup: hist.Axis{
				NBins: hs.MayInt("PU_BINS", b.Pileup.NBins),
				Low:   hs.MayFloat64("PU_LOW", b.Pileup.Low),
				High:  hs.MayFloat64("PU_HIGH", b.Pileup.High),
			},
			MET: hist.Axis{
				NBins: hs.MayInt("MET_BINS", b.MET.NBins),
				Low:   hs.MayFloat64("MET_LOW", b.MET.Low),
				High:  hs.MayFloat64("MET_HIGH", b.MET.High),
			},
		},
		Window: correction.Window{
			FitLow:      ft.MayFloat64("LOW", w.FitLow),
			FitHigh:     ft.MayFloat64("HIGH", w.FitHigh),
			DisplayLow:  ft.MayFloat64("DISPLAY_LOW", w.DisplayLow),
			DisplayHigh: ft.MayFloat64("DISPLAY_HIGH", w.DisplayHigh),
		},

		CacheDir:       in.MayString("CACHE_DIR", ""),
		HTTPTimeout:    time.Duration(in.MayInt("HTTP_TIMEOUT_SECONDS", 300)) * time.Second,
		Revalidate:     in.MayBool("REVALIDATE", false),
		RetainMaxAge:   time.Duration(in.MayInt("RETAIN_MAX_DAYS", 0)) * 24 * time.Hour,
		RetainMaxBytes: int64(in.MayInt("RETAIN_MAX_BYTES", 0)),

		GoldenCacheSize: int64(dv.MayInt("GOLDEN_CACHE", 16)),
		SnapshotBatch:   dv.MayInt("SNAPSHOT_BATCH", 50_000),
	}
}
