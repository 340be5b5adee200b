// Package scorer turns feature vectors into verdicts with a trained model and
// a configured threshold.
package scorer

import (
	"math"
	"sort"

	"github.com/akave-ai/anomalog/internal/model"
)

// Ranking methods recorded with each verdict.
const (
	RankingZScore    = "zscore-v1"
	RankingMagnitude = "magnitude-v1"
)

const defaultTopFeatures = 3

// Scorer is immutable after New and safe for concurrent use.
type Scorer struct {
	model     Model
	names     []string
	threshold float64
	topK      int
}

type Option func(*Scorer)

// WithTopFeatures sets how many ranked contributions a verdict carries.
func WithTopFeatures(k int) Option {
	return func(s *Scorer) {
		if k > 0 {
			s.topK = k
		}
	}
}

func New(m Model, threshold float64, opts ...Option) (*Scorer, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, ErrInvalidThreshold
	}
	s := &Scorer{model: m, names: m.FeatureNames(), threshold: threshold, topK: defaultTopFeatures}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scorer) Threshold() float64    { return s.threshold }
func (s *Scorer) ModelVersion() string  { return s.model.Version() }
func (s *Scorer) SchemaVersion() string { return s.model.SchemaVersion() }

// CheckSchema verifies that vectors described by version and names can be
// scored by this model.
func (s *Scorer) CheckSchema(version string, names []string) error {
	if version != s.model.SchemaVersion() {
		return &FeatureVersionMismatchError{Expected: s.model.SchemaVersion(), Got: version}
	}
	if len(names) != len(s.names) {
		return &FeatureVersionMismatchError{
			Expected: s.model.SchemaVersion(),
			Got:      version,
			Detail:   "feature count differs",
		}
	}
	for i := range names {
		if names[i] != s.names[i] {
			return &FeatureVersionMismatchError{
				Expected: s.model.SchemaVersion(),
				Got:      version,
				Detail:   "feature " + names[i] + " out of order or unknown",
			}
		}
	}
	return nil
}

// Decide applies the threshold: a score equal to the threshold is anomalous.
func (s *Scorer) Decide(score float64) model.Label {
	if score >= s.threshold {
		return model.LabelAnomalous
	}
	return model.LabelNormal
}

// Score returns the verdict for v. RequestID is left for the caller.
func (s *Scorer) Score(v model.FeatureVector) (model.Verdict, error) {
	if err := s.CheckSchema(v.SchemaVersion, v.Names); err != nil {
		return model.Verdict{}, err
	}
	if len(v.Values) != len(s.names) {
		return model.Verdict{}, &FeatureVersionMismatchError{
			Expected: s.model.SchemaVersion(),
			Got:      v.SchemaVersion,
			Detail:   "value count differs from feature names",
		}
	}
	score, err := s.model.Predict(v.Values)
	if err != nil {
		return model.Verdict{}, err
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return model.Verdict{}, ErrInvalidScore
	}
	method, contributions := s.rank(v)
	return model.Verdict{
		Score:         score,
		Label:         s.Decide(score),
		Threshold:     s.threshold,
		ModelVersion:  s.model.Version(),
		SchemaVersion: s.model.SchemaVersion(),
		RankingMethod: method,
		Contributions: contributions,
	}, nil
}

// rank orders features by their push toward the anomalous label, highest
// first, ties in schema order. With population statistics the impact is
// coefficient × z-score (coefficient 1 for models without coefficients), so
// a feature that lowers the score never ranks above one that raises it.
// Models without statistics are ranked by absolute value.
func (s *Scorer) rank(v model.FeatureVector) (string, []model.Contribution) {
	method := RankingMagnitude
	var means, stddevs, weights []float64
	if pop, ok := s.model.(Population); ok {
		method = RankingZScore
		means, stddevs = pop.Stats()
	}
	if w, ok := s.model.(Weighted); ok {
		weights = w.Coefficients()
	}
	all := make([]model.Contribution, len(v.Values))
	for i, x := range v.Values {
		c := model.Contribution{Feature: v.Names[i], Value: x, Impact: math.Abs(x)}
		if method == RankingZScore {
			c.ZScore = zScore(x, means[i], stddevs[i])
			c.Impact = c.ZScore
			if weights != nil {
				c.Impact = weights[i] * c.ZScore
			}
		}
		all[i] = c
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Impact > all[j].Impact
	})
	k := s.topK
	if k > len(all) {
		k = len(all)
	}
	out := make([]model.Contribution, k)
	for i := 0; i < k; i++ {
		out[i] = all[i]
		out[i].Rank = i + 1
	}
	return method, out
}
