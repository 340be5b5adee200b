package explain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/anomalog/internal/features"
	"github.com/akave-ai/anomalog/internal/model"
)

// scriptedBackend replays responses in order, repeating the last one.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []func(ctx context.Context) (string, error)
	calls     atomic.Int32
}

func (b *scriptedBackend) Generate(ctx context.Context, _ Prompt) (string, error) {
	n := int(b.calls.Add(1)) - 1
	b.mu.Lock()
	if n >= len(b.responses) {
		n = len(b.responses) - 1
	}
	fn := b.responses[n]
	b.mu.Unlock()
	return fn(ctx)
}

func reply(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func fail(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

func sqliRequest() (model.NormalizedRequest, model.Verdict, []model.TokenMatch) {
	req := model.NormalizedRequest{
		ID:     "req-1",
		Method: model.MethodGet,
		Path:   "/login",
		Query:  []model.QueryParam{{Key: "user", Value: "admin' OR '1'='1"}},
	}
	v := model.Verdict{
		RequestID:     "req-1",
		Score:         0.91,
		Label:         model.LabelAnomalous,
		Threshold:     0.5,
		RankingMethod: "zscore-v1",
		Contributions: []model.Contribution{
			{Feature: features.FeatureSQLiTokens, Value: 2, ZScore: 6.5, Impact: 5.85, Rank: 1},
			{Feature: features.FeatureSpecialChars, Value: 4, ZScore: 0.5, Impact: 0.15, Rank: 2},
			{Feature: features.FeatureQueryEntropy, Value: 2.9, ZScore: -0.1, Impact: -0.01, Rank: 3},
		},
	}
	return req, v, features.New().Matches(req)
}

func newTestGenerator(b Backend, retries int) *Generator {
	return NewGenerator(b, Config{
		Retries:        retries,
		Timeout:        time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, zerolog.Nop())
}

func TestExplain_Generated(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){
		reply(`{"narrative":"Someone tried to log in by tricking the database.","recommended_action":"Block the address."}`),
	}}
	req, v, matches := sqliRequest()
	exp, out := newTestGenerator(backend, 2).NewBatch().Explain(context.Background(), req, v, matches)
	require.NotNil(t, exp)
	assert.Equal(t, model.ExplanationExplained, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, model.ExplanationGenerated, exp.Source)
	assert.Equal(t, "Block the address.", exp.RecommendedAction)
	assert.Equal(t, v.Contributions, exp.Evidence)
}

func TestExplain_RetriesMalformedThenSucceeds(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){
		reply(""),
		fail(ErrUnavailable),
		reply("Narrative: Looks like a login attack.\nAction: Block the source."),
	}}
	req, v, matches := sqliRequest()
	exp, out := newTestGenerator(backend, 2).NewBatch().Explain(context.Background(), req, v, matches)
	require.NotNil(t, exp)
	assert.Equal(t, model.ExplanationExplained, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, "Looks like a login attack.", exp.Narrative)
}

func TestExplain_UnavailableFallsBack(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){fail(ErrUnavailable)}}
	req, v, matches := sqliRequest()
	exp, out := newTestGenerator(backend, 2).NewBatch().Explain(context.Background(), req, v, matches)

	require.NotNil(t, exp)
	assert.Equal(t, model.ExplanationFellBack, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, int32(3), backend.calls.Load())
	assert.Contains(t, out.Reason, "unavailable")
	assert.Equal(t, model.ExplanationFallback, exp.Source)
	assert.Contains(t, exp.Narrative, "SQL-injection-pattern tokens in query string")
	assert.NotContains(t, exp.Narrative, "encoded-looking", "only features above the training mean are cited")
	assert.NotEmpty(t, exp.RecommendedAction)
	assert.Contains(t, exp.RecommendedAction, "Block the source")
}

func TestExplain_TimeoutPerCall(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}}
	g := NewGenerator(backend, Config{Retries: 1, Timeout: 5 * time.Millisecond, InitialBackoff: time.Millisecond}, zerolog.Nop())
	req, v, matches := sqliRequest()
	exp, out := g.NewBatch().Explain(context.Background(), req, v, matches)
	require.NotNil(t, exp)
	assert.Equal(t, model.ExplanationFellBack, out.State)
	assert.Equal(t, 2, out.Attempts)
}

func TestExplain_PermanentFailureTripsBatch(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){
		fail(Permanent(errors.New("invalid api key"))),
	}}
	req, v, matches := sqliRequest()
	batch := newTestGenerator(backend, 3).NewBatch()

	exp, out := batch.Explain(context.Background(), req, v, matches)
	assert.Nil(t, exp)
	assert.Equal(t, model.ExplanationFailed, out.State)
	assert.Equal(t, 1, out.Attempts, "permanent errors are not retried")
	assert.Contains(t, out.Reason, "invalid api key")

	exp, out = batch.Explain(context.Background(), req, v, matches)
	assert.Nil(t, exp)
	assert.Equal(t, model.ExplanationFailed, out.State)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, int32(1), backend.calls.Load())

	// A new batch starts with a fresh breaker.
	_, out = newTestGenerator(backend, 0).NewBatch().Explain(context.Background(), req, v, matches)
	assert.Equal(t, 1, out.Attempts)
}

func TestExplain_CancelledBatchDoesNotCall(t *testing.T) {
	backend := &scriptedBackend{responses: []func(context.Context) (string, error){reply(`{"narrative":"x","recommended_action":"y"}`)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, v, matches := sqliRequest()
	exp, out := newTestGenerator(backend, 2).NewBatch().Explain(ctx, req, v, matches)
	require.NotNil(t, exp)
	assert.Equal(t, model.ExplanationFellBack, out.State)
	assert.True(t, strings.HasPrefix(out.Reason, "batch cancelled"))
	assert.Zero(t, backend.calls.Load())
}

func TestExplain_DisabledBackendFallsBack(t *testing.T) {
	req, v, matches := sqliRequest()
	exp, out := newTestGenerator(nil, 3).NewBatch().Explain(context.Background(), req, v, matches)
	require.NotNil(t, exp)
	assert.Equal(t, model.ExplanationFellBack, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, out.Reason, ErrDisabled.Error())
	assert.True(t, errors.Is(&GenerationError{Err: ErrUnavailable}, ErrGeneration))
}

func TestFallback_Deterministic(t *testing.T) {
	req, v, matches := sqliRequest()
	assert.Equal(t, Fallback(req, v, matches), Fallback(req, v, matches))
}

func TestParseResponse(t *testing.T) {
	n, a, err := ParseResponse("```json\n{\"narrative\":\"n\",\"recommended_action\":\"a\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "n", n)
	assert.Equal(t, "a", a)

	for _, bad := range []string{"", "   ", `{"narrative":""}`, `{"narrative":"n"}`, "{not json", "just prose"} {
		_, _, err := ParseResponse(bad)
		assert.ErrorIs(t, err, ErrMalformedResponse, "input %q", bad)
	}
}

func TestBuildPrompt_TruncatesAndCitesEvidence(t *testing.T) {
	req, v, matches := sqliRequest()
	req.Body = strings.Repeat("A", 2000)
	p := BuildPrompt(req, v, matches)
	assert.Contains(t, p.User, "sqli_tokens")
	assert.Contains(t, p.User, "SQL injection")
	assert.Less(t, len(p.User), 1500)
	assert.NotEmpty(t, p.System)
}
