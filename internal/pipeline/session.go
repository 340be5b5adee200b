// Package pipeline runs batches of logged requests through normalization,
// feature extraction, scoring and explanation, and hands the results to the
// aggregator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/akave-ai/anomalog/internal/aggregate"
	"github.com/akave-ai/anomalog/internal/config"
	"github.com/akave-ai/anomalog/internal/explain"
	"github.com/akave-ai/anomalog/internal/model"
	"github.com/akave-ai/anomalog/internal/normalize"
	"github.com/akave-ai/anomalog/internal/scorer"
)

// Extractor is the feature extraction stage.
type Extractor interface {
	SchemaVersion() string
	Names() []string
	Extract(req model.NormalizedRequest) model.FeatureVector
	Matches(req model.NormalizedRequest) []model.TokenMatch
}

// Deps are the components a Session is assembled from. NewRelic may be nil.
type Deps struct {
	Extractor Extractor
	Scorer    *scorer.Scorer
	Generator *explain.Generator
	Store     aggregate.Store
	Logger    zerolog.Logger
	NewRelic  *newrelic.Application
}

// Session is built once per process and shared read-only by every batch.
type Session struct {
	cfg       config.PipelineConfig
	extractor Extractor
	scorer    *scorer.Scorer
	generator *explain.Generator
	store     aggregate.Store
	log       zerolog.Logger
	nr        *newrelic.Application
}

// NewSession checks that the extractor, the configured schema version and the
// model agree before any request is processed.
func NewSession(cfg config.PipelineConfig, deps Deps) (*Session, error) {
	if deps.Extractor == nil || deps.Scorer == nil || deps.Generator == nil || deps.Store == nil {
		return nil, errors.New("pipeline: extractor, scorer, generator and store are required")
	}
	if cfg.WorkerPoolSize < 1 {
		return nil, fmt.Errorf("pipeline: worker pool size must be positive, got %d", cfg.WorkerPoolSize)
	}
	if cfg.FeatureSchemaVersion != deps.Extractor.SchemaVersion() {
		return nil, &scorer.FeatureVersionMismatchError{
			Expected: cfg.FeatureSchemaVersion,
			Got:      deps.Extractor.SchemaVersion(),
			Detail:   "configured schema differs from extractor",
		}
	}
	if err := deps.Scorer.CheckSchema(deps.Extractor.SchemaVersion(), deps.Extractor.Names()); err != nil {
		return nil, err
	}
	return &Session{
		cfg:       cfg,
		extractor: deps.Extractor,
		scorer:    deps.Scorer,
		generator: deps.Generator,
		store:     deps.Store,
		log:       deps.Logger.With().Str("component", "pipeline").Logger(),
		nr:        deps.NewRelic,
	}, nil
}

func (s *Session) Store() aggregate.Store { return s.store }
func (s *Session) Threshold() float64     { return s.scorer.Threshold() }
func (s *Session) ModelVersion() string   { return s.scorer.ModelVersion() }

// Batch identifies where a run writes. Offset is the batch index of the first
// request; stream sources append runs to one batch with growing offsets.
type Batch struct {
	ID     uuid.UUID
	Source string
	Offset int
}

// Run processes raws and appends one record per valid request to the batch,
// in input order. Cancelling ctx stops backend explanation calls only; every
// valid request still gets a record. A feature schema mismatch or an invalid
// score halts the batch and is returned together with the partial report.
//
// The returned report covers this run. The stored report of a batch with a
// non-zero offset accumulates all runs.
func (s *Session) Run(ctx context.Context, b Batch, raws []model.RawRequest) (model.BatchReport, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	log := s.log.With().Str("batch_id", b.ID.String()).Logger()
	storeCtx := context.WithoutCancel(ctx)

	txn := s.nr.StartTransaction("pipeline/batch")
	defer txn.End()
	txn.AddAttribute("batch_id", b.ID.String())
	txn.AddAttribute("requests", len(raws))

	report := model.BatchReport{
		BatchID:       b.ID,
		Source:        b.Source,
		Status:        model.BatchRunning,
		StartedAt:     time.Now().UTC(),
		Total:         len(raws),
		Threshold:     s.scorer.Threshold(),
		SchemaVersion: s.extractor.SchemaVersion(),
		ModelVersion:  s.scorer.ModelVersion(),
		Skipped:       []model.SkippedRequest{},
		Unexplained:   []model.UnexplainedAnomaly{},
	}
	if b.Offset == 0 {
		if err := s.store.SaveReport(storeCtx, report); err != nil {
			return report, fmt.Errorf("save batch report: %w", err)
		}
	}

	units := make(chan aggregate.Unit, s.cfg.WorkerPoolSize)
	type aggResult struct {
		summary aggregate.Summary
		err     error
	}
	aggDone := make(chan aggResult, 1)
	go func() {
		summary, err := aggregate.NewAggregator(s.store, b.ID, b.Offset).Run(storeCtx, units)
		aggDone <- aggResult{summary, err}
	}()

	explainer := s.generator.NewBatch()
	var halted atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.WorkerPoolSize)
	for i, raw := range raws {
		if halted.Load() {
			break
		}
		index := b.Offset + i
		g.Go(func() error {
			if halted.Load() {
				return nil
			}
			wtxn := txn.NewGoroutine()
			unit, err := s.process(newrelic.NewContext(gctx, wtxn), explainer, index, raw, log)
			if err != nil {
				halted.Store(true)
				wtxn.NoticeError(err)
				return fmt.Errorf("request %d: %w", index, err)
			}
			units <- unit
			return nil
		})
	}
	runErr := g.Wait()
	close(units)
	agg := <-aggDone

	report.FinishedAt = time.Now().UTC()
	report.Succeeded = agg.summary.Appended
	report.Anomalies = agg.summary.Anomalies
	report.Skipped = append(report.Skipped, agg.summary.Skipped...)
	report.Unexplained = append(report.Unexplained, agg.summary.Unexplained...)
	if runErr == nil && agg.err != nil {
		runErr = agg.err
	}
	switch {
	case runErr != nil:
		report.Status = model.BatchFailed
		report.Error = runErr.Error()
		txn.NoticeError(runErr)
		log.Error().Err(runErr).Int("succeeded", report.Succeeded).Msg("batch halted")
	case ctx.Err() != nil:
		report.Status = model.BatchCancelled
		log.Warn().Int("succeeded", report.Succeeded).Msg("batch cancelled, explanations fell back")
	default:
		report.Status = model.BatchCompleted
		log.Info().
			Int("total", report.Total).
			Int("succeeded", report.Succeeded).
			Int("anomalies", report.Anomalies).
			Int("skipped", len(report.Skipped)).
			Int("unexplained", len(report.Unexplained)).
			Msg("batch finished")
	}

	if err := s.saveReport(storeCtx, b, report); err != nil {
		if runErr == nil {
			runErr = err
		}
		log.Error().Err(err).Msg("save batch report")
	}
	return report, runErr
}

func (s *Session) saveReport(ctx context.Context, b Batch, report model.BatchReport) error {
	stored := report
	if b.Offset > 0 {
		prev, err := s.store.Report(ctx, b.ID)
		switch {
		case err == nil:
			prev.Merge(report)
			stored = prev
		case !errors.Is(err, aggregate.ErrBatchNotFound):
			return fmt.Errorf("load batch report: %w", err)
		}
	}
	if err := s.store.SaveReport(ctx, stored); err != nil {
		return fmt.Errorf("save batch report: %w", err)
	}
	return nil
}

// process runs one request through every stage. Errors returned here are
// fatal for the batch; per-request problems become a Skip unit.
func (s *Session) process(ctx context.Context, explainer *explain.Batch, index int, raw model.RawRequest, log zerolog.Logger) (aggregate.Unit, error) {
	txn := newrelic.FromContext(ctx)
	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}

	seg := txn.StartSegment("normalize")
	req, err := normalize.Normalize(raw)
	seg.End()
	if err != nil {
		if !errors.Is(err, normalize.ErrMalformedRequest) {
			return aggregate.Unit{}, err
		}
		log.Warn().Err(err).Int("index", index).Str("request_id", raw.ID).Msg("skipping malformed request")
		return aggregate.Unit{
			Index: index,
			Skip:  &model.SkippedRequest{Index: index, RequestID: raw.ID, Reason: err.Error()},
		}, nil
	}

	seg = txn.StartSegment("extract")
	vec := s.extractor.Extract(req)
	seg.End()

	seg = txn.StartSegment("score")
	verdict, err := s.scorer.Score(vec)
	seg.End()
	if err != nil {
		return aggregate.Unit{}, err
	}
	verdict.RequestID = req.ID

	var exp *model.Explanation
	var outcome *model.ExplanationOutcome
	if verdict.Anomalous() {
		seg = txn.StartSegment("explain")
		e, o := explainer.Explain(ctx, req, verdict, s.extractor.Matches(req))
		seg.End()
		exp, outcome = e, &o
		log.Debug().
			Int("index", index).
			Str("request_id", req.ID).
			Str("state", string(o.State)).
			Int("attempts", o.Attempts).
			Msg("explained anomaly")
	}
	rec := aggregate.Build(index, req, verdict, exp, outcome)
	return aggregate.Unit{Index: index, Record: &rec}, nil
}

// GeneratorConfig maps the pipeline options onto the explanation policy.
func GeneratorConfig(p config.PipelineConfig) explain.Config {
	return explain.Config{
		Retries:       p.ExplanationRetryCount,
		Timeout:       p.ExplanationTimeout(),
		RatePerSecond: p.ExplanationRatePerSecond,
	}
}
