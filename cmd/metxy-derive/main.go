// Command metxy-derive builds MET histograms from event files and extracts
// xy corrections from them
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"metxy/internal/adapters/dataset"
	"metxy/internal/core/version"
	"metxy/internal/modkit"
	"metxy/internal/platform/config"
	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/logger"
	"metxy/internal/platform/metrics"
	"metxy/internal/platform/store"
	"metxy/internal/services/derive/domain"
	derivemod "metxy/internal/services/derive/module"
)

// exit codes
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

type flags struct {
	hists, corr       bool
	datasets, listing string
	epoch, version    string
	mets, pileup      string
	processes, tags   string
	snapshot, force   bool
	report            bool
	jobs              int
	results           string
	metricsFile       string
	showVersion       bool
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("metxy-derive", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&f.hists, "hists", false, "build histograms from the input files")
	fs.BoolVar(&f.corr, "corr", false, "extract corrections from stored histograms")
	fs.StringVar(&f.datasets, "datasets", "config/datasets.yaml", "dataset configuration file")
	fs.StringVar(&f.listing, "listing", "config/files", "file listing (one file, or a directory with <tag>.yaml)")
	fs.StringVar(&f.epoch, "epoch", "", "data-taking epoch, e.g. 2022_Summer22")
	fs.StringVar(&f.epoch, "year", "", "alias for -epoch")
	fs.StringVar(&f.version, "version", "v0", "output version namespace")
	fs.StringVar(&f.mets, "met", "MET", "MET type or comma separated list, e.g. MET,PuppiMET")
	fs.StringVar(&f.pileup, "pileup", "PV_npvsGood", "pileup column")
	fs.StringVar(&f.processes, "processes", "DATA,MC", "processes to run over")
	fs.StringVar(&f.tags, "tags", "", "only these dataset tags (comma separated)")
	fs.BoolVar(&f.snapshot, "snapshot", false, "write per-event snapshots for validation")
	fs.BoolVar(&f.force, "force", false, "replace existing histograms")
	fs.BoolVar(&f.report, "report", false, "write the xlsx summary after the corr phase")
	fs.IntVar(&f.jobs, "jobs", 0, "files processed in parallel per tag (0 keeps METXY_DERIVE_WORKERS)")
	fs.StringVar(&f.results, "results", "results", "results directory")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile at exit")
	fs.BoolVar(&f.showVersion, "build-info", false, "print build information and exit")

	if err := fs.Parse(args); err != nil {
		return f, perr.Wrap(err, perr.ErrorCodeConfig, "flags")
	}
	if f.showVersion {
		return f, nil
	}
	if f.epoch == "" {
		return f, perr.WithField(perr.Configf("-epoch is required"), "epoch")
	}
	if f.jobs < 0 {
		return f, perr.WithField(perr.Configf("-jobs must be >= 0"), "jobs")
	}
	return f, nil
}

func (f flags) request() (domain.Request, error) {
	procs, err := dataset.ParseProcesses(config.SplitCSV(f.processes))
	if err != nil {
		return domain.Request{}, err
	}
	return domain.Request{
		Version:   f.version,
		Epoch:     f.epoch,
		METs:      config.SplitCSV(f.mets),
		Pileup:    f.pileup,
		Processes: procs,
		Tags:      config.SplitCSV(f.tags),
		Hists:     f.hists,
		Corr:      f.corr,
		Force:     f.force,
		Snapshot:  f.snapshot,
		Report:    f.report,
	}, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	l := logger.Get()

	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		l.Error().Err(err).Msg("invalid flags")
		return exitConfig
	}
	if f.showVersion {
		_ = json.NewEncoder(stdout).Encode(version.Info("metxy-derive"))
		return exitOK
	}

	req, err := f.request()
	if err != nil {
		l.Error().Err(err).Msg("invalid flags")
		return exitConfig
	}
	if f.jobs > 0 {
		_ = os.Setenv("METXY_DERIVE_WORKERS", strconv.Itoa(f.jobs))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := dataset.Load(f.datasets, f.listing)
	if err != nil {
		l.Error().Err(err).Msg("dataset configuration")
		return exitConfig
	}

	root := config.New()
	st, err := store.Open(ctx, store.ConfigFromEnv(root, "metxy", "derive"), store.WithLogger(*l))
	if err != nil {
		l.Error().Err(err).Msg("store.Open failed")
		return exitFailed
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	prom := metrics.New()
	mod, err := derivemod.New(ctx, modkit.FromStore(root, st), derivemod.Inputs{
		Catalog:    cat,
		ResultsDir: f.results,
		Metrics:    prom,
	})
	if err != nil {
		l.Error().Err(err).Msg("derive module")
		if perr.IsCode(err, perr.ErrorCodeConfig) {
			return exitConfig
		}
		return exitFailed
	}
	defer mod.Close()

	rep, err := mod.Runner().Run(ctx, req)
	if werr := prom.WriteTextfile(f.metricsFile); werr != nil {
		l.Warn().Err(werr).Msg("metrics textfile")
	}
	printReport(stdout, rep)

	switch {
	case err == nil:
		return exitOK
	case len(rep.Outcomes) == 0 && perr.HasCode(err, perr.ErrorCodeConfig):
		l.Error().Err(err).Msg("invalid request")
		return exitConfig
	default:
		l.Error().Err(err).Int("failed", rep.Failed()).Msg("derive finished with errors")
		return exitFailed
	}
}

func printReport(w io.Writer, rep domain.Report) {
	for _, o := range rep.Outcomes {
		status := "ok"
		if o.Err != nil {
			status = "FAILED: " + o.Err.Error()
		}
		switch o.Phase {
		case domain.PhaseHists:
			fmt.Fprintf(w, "%-5s %-24s %-10s files=%d events=%d accepted=%d  %s\n",
				o.Phase, o.Tag, o.MET, o.Summary.Files, o.Summary.Events, o.Summary.Accepted, status)
		default:
			fmt.Fprintf(w, "%-5s %-24s %-10s", o.Phase, o.Tag, o.MET)
			for _, r := range o.Records {
				m, c := r.Display()
				fmt.Fprintf(w, " %s: m=%.3f c=%.3f", r.Component, m, c)
			}
			fmt.Fprintf(w, "  %s\n", status)
		}
	}
	if rep.Summary != "" {
		fmt.Fprintf(w, "summary: %s\n", rep.Summary)
	}
}
