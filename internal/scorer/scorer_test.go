package scorer

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/anomalog/internal/features"
	"github.com/akave-ai/anomalog/internal/model"
)

// fixedModel returns a constant score for the current feature schema.
type fixedModel struct {
	score float64
}

func (m fixedModel) Version() string        { return "fixed" }
func (m fixedModel) SchemaVersion() string  { return features.SchemaVersion }
func (m fixedModel) FeatureNames() []string { return features.New().Names() }
func (m fixedModel) Predict([]float64) (float64, error) {
	return m.score, nil
}

func extract(path string, query ...model.QueryParam) model.FeatureVector {
	return features.New().Extract(model.NormalizedRequest{Method: model.MethodGet, Path: path, Query: query})
}

func TestScore_SQLInjectionScenario(t *testing.T) {
	s, err := New(fixedModel{score: 0.91}, 0.5)
	require.NoError(t, err)
	v, err := s.Score(extract("/login", model.QueryParam{Key: "user", Value: "admin' OR '1'='1"}))
	require.NoError(t, err)
	assert.Equal(t, model.LabelAnomalous, v.Label)
	assert.Equal(t, 0.91, v.Score)
	assert.Equal(t, 0.5, v.Threshold)
	assert.Equal(t, RankingMagnitude, v.RankingMethod)
}

func TestScore_NormalScenario(t *testing.T) {
	s, err := New(fixedModel{score: 0.02}, 0.5)
	require.NoError(t, err)
	v, err := s.Score(extract("/home"))
	require.NoError(t, err)
	assert.Equal(t, model.LabelNormal, v.Label)
}

func TestScore_ThresholdBoundary(t *testing.T) {
	vec := extract("/home")
	for _, tc := range []struct {
		threshold float64
		want      model.Label
	}{
		{0.3, model.LabelAnomalous},
		{0.4, model.LabelAnomalous},
		{0.4000001, model.LabelNormal},
		{0.9, model.LabelNormal},
	} {
		s, err := New(fixedModel{score: 0.4}, tc.threshold)
		require.NoError(t, err)
		v, err := s.Score(vec)
		require.NoError(t, err)
		assert.Equal(t, 0.4, v.Score, "threshold never changes the score")
		assert.Equal(t, tc.want, v.Label, "threshold %v", tc.threshold)
		assert.Equal(t, tc.threshold, v.Threshold)
	}
}

func TestScore_Deterministic(t *testing.T) {
	s, err := New(Default(), 0.5)
	require.NoError(t, err)
	vec := extract("/search", model.QueryParam{Key: "q", Value: "<script>alert(1)</script>"})
	first, err := s.Score(vec)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Score(vec)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestScore_DefaultModelSeparatesAttacks(t *testing.T) {
	s, err := New(Default(), 0.5)
	require.NoError(t, err)

	normal, err := s.Score(extract("/home"))
	require.NoError(t, err)
	assert.Equal(t, model.LabelNormal, normal.Label)
	assert.Less(t, normal.Score, 0.1)

	attack, err := s.Score(extract("/login", model.QueryParam{Key: "user", Value: "admin' OR '1'='1"}))
	require.NoError(t, err)
	assert.Equal(t, model.LabelAnomalous, attack.Label)
	assert.Equal(t, RankingZScore, attack.RankingMethod)
	require.NotEmpty(t, attack.Contributions)
	assert.Equal(t, features.FeatureSQLiTokens, attack.Contributions[0].Feature)
	assert.Equal(t, 1, attack.Contributions[0].Rank)
}

func TestScore_SchemaMismatch(t *testing.T) {
	s, err := New(Default(), 0.5)
	require.NoError(t, err)

	vec := extract("/home")
	vec.SchemaVersion = "http-v0"
	_, err = s.Score(vec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFeatureVersionMismatch))

	vec = extract("/home")
	vec.Names = vec.Names[:len(vec.Names)-1]
	_, err = s.Score(vec)
	var mismatch *FeatureVersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, features.SchemaVersion, mismatch.Expected)

	swapped := features.New().Names()
	swapped[0], swapped[1] = swapped[1], swapped[0]
	require.ErrorIs(t, s.CheckSchema(features.SchemaVersion, swapped), ErrFeatureVersionMismatch)
	require.NoError(t, s.CheckSchema(features.SchemaVersion, features.New().Names()))
}

func TestNew_RejectsNonFiniteThreshold(t *testing.T) {
	_, err := New(Default(), math.NaN())
	require.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestLoadArtifact_Validation(t *testing.T) {
	_, err := LoadArtifact(strings.NewReader(`{"version":"v","schema_version":"s","features":["a","b"],"weights":[1],"means":[0,0],"stddevs":[1,1]}`))
	require.Error(t, err)

	m, err := LoadArtifact(strings.NewReader(`{"version":"v","schema_version":"s","features":["a"],"bias":0,"weights":[1],"means":[0],"stddevs":[0]}`))
	require.NoError(t, err)
	score, err := m.Predict([]float64{0})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, score, 1e-12)
}

func TestRank_NegativeCoefficientIsNotEvidence(t *testing.T) {
	s, err := New(Default(), 0.5, WithTopFeatures(16))
	require.NoError(t, err)

	headers := map[string]string{}
	for i := 0; i < 40; i++ {
		headers["X-Trace-"+strings.Repeat("a", i+1)] = "1"
	}
	vec := features.New().Extract(model.NormalizedRequest{
		Method:  model.MethodGet,
		Path:    "/login",
		Query:   []model.QueryParam{{Key: "user", Value: "admin' OR '1'='1"}},
		Headers: headers,
	})
	v, err := s.Score(vec)
	require.NoError(t, err)
	require.Equal(t, RankingZScore, v.RankingMethod)

	var header model.Contribution
	for _, c := range v.Contributions {
		if c.Feature == features.FeatureHeaderCount {
			header = c
		}
	}
	assert.Greater(t, header.ZScore, 5.0, "header count is far above the training mean")
	assert.Less(t, header.Impact, 0.0)
	assert.Equal(t, features.FeatureSQLiTokens, v.Contributions[0].Feature)
	assert.NotEqual(t, features.FeatureHeaderCount, v.Contributions[1].Feature)
	for i := 1; i < len(v.Contributions); i++ {
		assert.GreaterOrEqual(t, v.Contributions[i-1].Impact, v.Contributions[i].Impact)
	}
}
