package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/anomalog/internal/model"
)

func value(t *testing.T, v model.FeatureVector, name string) float64 {
	t.Helper()
	got, ok := v.Get(name)
	require.True(t, ok, "feature %s missing", name)
	return got
}

func TestExtract_SQLInjection(t *testing.T) {
	req := model.NormalizedRequest{
		Method: model.MethodGet,
		Path:   "/login",
		Query:  []model.QueryParam{{Key: "user", Value: "admin' OR '1'='1"}},
	}
	v := New().Extract(req)
	assert.Equal(t, SchemaVersion, v.SchemaVersion)
	assert.Len(t, v.Values, len(names))
	assert.GreaterOrEqual(t, value(t, v, FeatureSQLiTokens), 2.0)
	assert.Zero(t, value(t, v, FeatureXSSTokens))
	assert.Equal(t, 1.0, value(t, v, FeatureParamCount))
	assert.Equal(t, 6.0, value(t, v, FeaturePathLength))

	matches := New().Matches(req)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		assert.Equal(t, FamilySQLInjection, m.Family)
		assert.Equal(t, LocationQuery, m.Location)
	}
}

func TestExtract_CaseInsensitiveTokens(t *testing.T) {
	lower := New().Extract(model.NormalizedRequest{Method: model.MethodPost, Path: "/c", Body: "x=<script>alert(1)</script>"})
	upper := New().Extract(model.NormalizedRequest{Method: model.MethodPost, Path: "/c", Body: "x=<SCRIPT>ALERT(1)</SCRIPT>"})
	assert.Equal(t, value(t, lower, FeatureXSSTokens), value(t, upper, FeatureXSSTokens))
	assert.Equal(t, 2.0, value(t, upper, FeatureXSSTokens))
	assert.Equal(t, 1.0, value(t, upper, FeatureMethodClass))
}

func TestExtract_Traversal(t *testing.T) {
	v := New().Extract(model.NormalizedRequest{Method: model.MethodGet, Path: "/static/../../etc/passwd"})
	assert.Equal(t, 3.0, value(t, v, FeatureTraversalTokens))
	assert.Equal(t, 5.0, value(t, v, FeaturePathDepth))
}

func TestExtract_TotalOnEmptyRequest(t *testing.T) {
	v := New().Extract(model.NormalizedRequest{})
	require.Len(t, v.Values, len(names))
	for i, x := range v.Values {
		assert.False(t, math.IsNaN(x) || math.IsInf(x, 0), "feature %s", v.Names[i])
	}
	assert.Equal(t, 2.0, value(t, v, FeatureMethodClass))
}

func TestExtract_Deterministic(t *testing.T) {
	req := model.NormalizedRequest{
		Method:  model.MethodPost,
		Path:    "/api/v1/items",
		Query:   []model.QueryParam{{Key: "a", Value: "1"}, {Key: "a", Value: "2"}},
		Body:    `{"name":"widget","price":"10"}`,
		Headers: map[string]string{"Content-Type": "application/json", "User-Agent": "curl/8"},
	}
	e := New()
	first := e.Extract(req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Extract(req))
	}
	assert.Equal(t, 2.0, value(t, first, FeatureHeaderCount))
}

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, shannonEntropy("aaaa"))
	assert.InDelta(t, 1.0, shannonEntropy("abab"), 1e-9)
	assert.InDelta(t, 2.0, shannonEntropy("abcd"), 1e-9)
}

func TestExtract_VectorsDoNotShareNames(t *testing.T) {
	e := New()
	v := e.Extract(model.NormalizedRequest{Path: "/"})
	v.Names[0] = "tampered"

	again := e.Extract(model.NormalizedRequest{Path: "/"})
	assert.Equal(t, FeaturePathLength, again.Names[0])
	assert.Equal(t, FeaturePathLength, e.Names()[0])
}
