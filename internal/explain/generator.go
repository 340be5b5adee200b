package explain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/akave-ai/anomalog/internal/model"
)

// Config holds the retry, timeout and rate limit policy.
type Config struct {
	Retries        int
	Timeout        time.Duration
	RatePerSecond  float64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Generator is shared by all batches of a session. Per-batch state lives in
// Batch.
type Generator struct {
	backend Backend
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewGenerator(backend Backend, cfg Config, logger zerolog.Logger) *Generator {
	if backend == nil {
		backend = DisabledBackend{}
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Generator{
		backend: backend,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "explain").Logger(),
	}
}

// Batch explains the anomalies of one batch. After a permanent backend
// failure it stops calling the backend for the rest of the batch.
type Batch struct {
	g       *Generator
	mu      sync.Mutex
	tripped error
}

func (g *Generator) NewBatch() *Batch {
	return &Batch{g: g}
}

func (b *Batch) trippedErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

func (b *Batch) trip(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped == nil {
		b.tripped = err
	}
}

// Explain returns the explanation for an anomalous verdict and how it was
// obtained. The explanation is nil only when the outcome is FAILED. Once ctx
// is cancelled no new backend call is made and the fallback is used.
func (b *Batch) Explain(ctx context.Context, req model.NormalizedRequest, v model.Verdict, matches []model.TokenMatch) (*model.Explanation, model.ExplanationOutcome) {
	t := newTask()
	t.advance(model.ExplanationGenerating, "")
	log := b.g.logger.With().Str("request_id", req.ID).Logger()

	if err := b.trippedErr(); err != nil {
		t.advance(model.ExplanationFailed, "generator failed earlier in batch: "+err.Error())
		return nil, t.outcome()
	}
	if err := ctx.Err(); err != nil {
		t.advance(model.ExplanationFellBack, "batch cancelled: "+err.Error())
		return Fallback(req, v, matches), t.outcome()
	}

	prompt := BuildPrompt(req, v, matches)
	var narrative, action string
	op := func() error {
		t.attempts++
		if err := b.g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, b.g.cfg.Timeout)
		defer cancel()
		text, err := b.g.backend.Generate(callCtx, prompt)
		if err != nil {
			if IsPermanent(err) || errors.Is(err, ErrDisabled) {
				return backoff.Permanent(err)
			}
			return err
		}
		n, a, err := ParseResponse(text)
		if err != nil {
			return err
		}
		narrative, action = n, a
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.g.cfg.InitialBackoff
	eb.MaxInterval = b.g.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(b.g.cfg.Retries)), ctx)

	err := backoff.Retry(op, policy)
	if err == nil {
		t.advance(model.ExplanationExplained, "")
		return &model.Explanation{
			RequestID:         req.ID,
			Narrative:         narrative,
			RecommendedAction: action,
			Source:            model.ExplanationGenerated,
			RankingMethod:     v.RankingMethod,
			Evidence:          v.Contributions,
			Matches:           matches,
		}, t.outcome()
	}

	genErr := &GenerationError{Attempts: t.attempts, Err: err}
	if IsPermanent(err) {
		b.trip(err)
		log.Error().Err(genErr).Int("attempts", t.attempts).Msg("explanation generation failed permanently")
		t.advance(model.ExplanationFailed, genErr.Error())
		return nil, t.outcome()
	}
	reason := genErr.Error()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		reason = "batch cancelled: " + err.Error()
	}
	log.Warn().Err(genErr).Int("attempts", t.attempts).Msg("using fallback explanation")
	t.advance(model.ExplanationFellBack, reason)
	return Fallback(req, v, matches), t.outcome()
}
