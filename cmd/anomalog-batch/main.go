// Command anomalog-batch scores a request log file offline and writes the
// per-request results as CSV.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/akave-ai/anomalog/internal/aggregate"
	"github.com/akave-ai/anomalog/internal/config"
	"github.com/akave-ai/anomalog/internal/dataset"
	"github.com/akave-ai/anomalog/internal/explain"
	"github.com/akave-ai/anomalog/internal/features"
	"github.com/akave-ai/anomalog/internal/insights"
	"github.com/akave-ai/anomalog/internal/logger"
	"github.com/akave-ai/anomalog/internal/model"
	"github.com/akave-ai/anomalog/internal/pipeline"
	"github.com/akave-ai/anomalog/internal/scorer"
)

type options struct {
	input     string
	format    string
	output    string
	modelPath string
	threshold float64
	workers   int
	insights  bool
	verbose   bool
}

func main() {
	defaults := config.Default().Pipeline

	var opts options
	flags := pflag.NewFlagSet("anomalog-batch", pflag.ContinueOnError)
	flags.StringVarP(&opts.input, "input", "i", "", "request log to score (CSV, JSON or NDJSON); - reads stdin")
	flags.StringVarP(&opts.format, "format", "f", "", "input format: csv or json (default: from the file extension)")
	flags.StringVarP(&opts.output, "output", "o", "-", "results CSV destination; - writes stdout")
	flags.StringVarP(&opts.modelPath, "model", "m", "", "model artifact JSON (default: bundled baseline)")
	flags.Float64VarP(&opts.threshold, "threshold", "t", defaults.Threshold, "anomaly threshold in [0,1]")
	flags.IntVarP(&opts.workers, "workers", "w", defaults.WorkerPoolSize, "concurrent requests")
	flags.BoolVar(&opts.insights, "insights", false, "print the batch insights instead of the report")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if opts.input == "" {
		fmt.Fprintln(os.Stderr, "--input is required")
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "anomalog-batch: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	obs := config.DefaultObservabilityConfig()
	obs.ServiceName = "anomalog-batch"
	if opts.verbose {
		obs.Logging.Level = "debug"
	}
	log := logger.New(obs)

	raws, err := readInput(opts.input, opts.format)
	if err != nil {
		return err
	}

	artifact := scorer.Default()
	if opts.modelPath != "" {
		if artifact, err = scorer.LoadFile(opts.modelPath); err != nil {
			return err
		}
	}

	cfg := config.Default().Pipeline
	cfg.Threshold = opts.threshold
	cfg.WorkerPoolSize = opts.workers
	sc, err := scorer.New(artifact, cfg.Threshold, scorer.WithTopFeatures(cfg.TopFeatures))
	if err != nil {
		return err
	}
	store := aggregate.NewMemoryStore()
	session, err := pipeline.NewSession(cfg, pipeline.Deps{
		Extractor: features.New(),
		Scorer:    sc,
		Generator: explain.NewGenerator(explain.DisabledBackend{}, pipeline.GeneratorConfig(cfg), log),
		Store:     store,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	source := "file"
	if opts.input != "-" {
		source = filepath.Base(opts.input)
	}
	report, runErr := session.Run(ctx, pipeline.Batch{ID: uuid.New(), Source: source}, raws)

	records, err := store.Results(context.WithoutCancel(ctx), report.BatchID)
	if err != nil && !errors.Is(err, aggregate.ErrBatchNotFound) {
		return err
	}
	if err := writeResults(opts.output, records); err != nil {
		return err
	}
	if err := printSummary(os.Stderr, opts.insights, records, report); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("batch halted: %w", runErr)
	}
	if report.Status != model.BatchCompleted {
		return fmt.Errorf("batch %s", strings.ToLower(string(report.Status)))
	}
	log.Debug().Int("records", len(records)).Msg("done")
	return nil
}

func readInput(path, format string) ([]model.RawRequest, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	if format == "" {
		format = formatOf(path)
	}
	switch format {
	case "csv":
		return dataset.ReadCSV(r)
	case "json":
		return dataset.DecodeJSON(r)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return "csv"
	}
	return "json"
}

func writeResults(path string, records []model.ResultRecord) error {
	if path == "-" {
		return dataset.WriteResultsCSV(os.Stdout, records)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dataset.WriteResultsCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, withInsights bool, records []model.ResultRecord, report model.BatchReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if withInsights {
		return enc.Encode(insights.Summarize(records, report))
	}
	return enc.Encode(report)
}
