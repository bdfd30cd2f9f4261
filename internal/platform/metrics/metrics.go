// Package metrics holds the pipeline's Prometheus collectors.
// Batch runs dump them to a node-exporter textfile; the API serves them over HTTP.
package metrics

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	perr "metxy/internal/platform/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "metxy"

// Outcomes used as label values
const (
	OK       = "ok"
	Failed   = "failed"
	Skipped  = "skipped"
	Conflict = "conflict"
)

// Pipeline is the collector set for derive runs
type Pipeline struct {
	reg *prometheus.Registry

	Files        *prometheus.CounterVec
	Events       *prometheus.CounterVec
	Rejected     *prometheus.CounterVec
	Fits         *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	FileDuration *prometheus.HistogramVec
	FitSlope     *prometheus.GaugeVec
}

// New registers a fresh collector set on its own registry
func New() *Pipeline {
	p := &Pipeline{
		reg: prometheus.NewRegistry(),
		Files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_total",
			Help: "Input files processed by outcome.",
		}, []string{"tag", "met", "outcome"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Events filled into histograms.",
		}, []string{"tag", "met"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_rejected_total",
			Help: "Events dropped by the golden filter.",
		}, []string{"tag", "met"}),
		Fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fits_total",
			Help: "Correction fits by outcome.",
		}, []string{"tag", "met", "component", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "file_retries_total",
			Help: "Retried input file reads.",
		}, []string{"tag", "met"}),
		FileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "file_duration_seconds",
			Help:    "Wall time to histogram one input file.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"tag", "met"}),
		FitSlope: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "fit_slope",
			Help: "Latest fitted slope per component.",
		}, []string{"tag", "met", "component"}),
	}
	p.reg.MustRegister(p.Files, p.Events, p.Rejected, p.Fits, p.Retries, p.FileDuration, p.FitSlope)
	return p
}

// ObserveFile records one processed input file; a nil Pipeline records nothing
func (p *Pipeline) ObserveFile(tag, met, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.Files.WithLabelValues(tag, met, outcome).Inc()
	p.FileDuration.WithLabelValues(tag, met).Observe(d.Seconds())
}

// AddEvents counts filled and golden-rejected events
func (p *Pipeline) AddEvents(tag, met string, filled, rejected int64) {
	if p == nil {
		return
	}
	p.Events.WithLabelValues(tag, met).Add(float64(filled))
	p.Rejected.WithLabelValues(tag, met).Add(float64(rejected))
}

// ObserveFit records a fit outcome and, on success, the slope
func (p *Pipeline) ObserveFit(tag, met, component string, slope float64, err error) {
	if p == nil {
		return
	}
	if err != nil {
		p.Fits.WithLabelValues(tag, met, component, Failed).Inc()
		return
	}
	p.Fits.WithLabelValues(tag, met, component, OK).Inc()
	p.FitSlope.WithLabelValues(tag, met, component).Set(slope)
}

// Retry counts one retried file read
func (p *Pipeline) Retry(tag, met string) {
	if p != nil {
		p.Retries.WithLabelValues(tag, met).Inc()
	}
}

// WithRuntime adds the Go and process collectors, for long-running servers
func (p *Pipeline) WithRuntime() *Pipeline {
	p.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return p
}

// Gatherer exposes the registry
func (p *Pipeline) Gatherer() prometheus.Gatherer { return p.reg }

// Handler serves the registry in the exposition format
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

// WriteTextfile writes the registry for the node-exporter textfile collector
func (p *Pipeline) WriteTextfile(path string) error {
	if p == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "metrics dir %s", filepath.Dir(path))
	}
	if err := prometheus.WriteToTextfile(path, p.reg); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "metrics textfile %s", path)
	}
	return nil
}
