package scorer

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

//go:embed default_model.json
var defaultArtifact []byte

// Model is a trained, versioned scoring artifact.
type Model interface {
	Version() string
	SchemaVersion() string
	FeatureNames() []string
	Predict(values []float64) (float64, error)
}

// Population is implemented by models that carry training population
// statistics, used to rank feature contributions.
type Population interface {
	Stats() (means, stddevs []float64)
}

// Weighted is implemented by linear models. Its coefficients sign the
// contribution of each standardized feature.
type Weighted interface {
	Coefficients() []float64
}

// LogisticModel is a logistic regression over standardized features.
type LogisticModel struct {
	ModelVersion string    `json:"version"`
	Schema       string    `json:"schema_version"`
	Features     []string  `json:"features"`
	Bias         float64   `json:"bias"`
	Weights      []float64 `json:"weights"`
	Means        []float64 `json:"means"`
	Stddevs      []float64 `json:"stddevs"`
}

// LoadArtifact decodes and validates a JSON model artifact.
func LoadArtifact(r io.Reader) (*LogisticModel, error) {
	var m LogisticModel
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile reads a model artifact from disk.
func LoadFile(path string) (*LogisticModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model artifact: %w", err)
	}
	defer f.Close()
	return LoadArtifact(f)
}

// Default returns the baseline artifact bundled with the binary.
func Default() *LogisticModel {
	m, err := LoadArtifact(bytes.NewReader(defaultArtifact))
	if err != nil {
		panic(fmt.Sprintf("embedded model artifact: %v", err))
	}
	return m
}

func (m *LogisticModel) validate() error {
	if m.ModelVersion == "" || m.Schema == "" {
		return fmt.Errorf("model artifact: version and schema_version are required")
	}
	n := len(m.Features)
	if n == 0 {
		return fmt.Errorf("model artifact: no features")
	}
	if len(m.Weights) != n || len(m.Means) != n || len(m.Stddevs) != n {
		return fmt.Errorf("model artifact: weights/means/stddevs must have %d entries", n)
	}
	for i := 0; i < n; i++ {
		for _, v := range []float64{m.Weights[i], m.Means[i], m.Stddevs[i]} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("model artifact: non-finite parameter for %s", m.Features[i])
			}
		}
	}
	return nil
}

func (m *LogisticModel) Version() string       { return m.ModelVersion }
func (m *LogisticModel) SchemaVersion() string { return m.Schema }

func (m *LogisticModel) FeatureNames() []string {
	out := make([]string, len(m.Features))
	copy(out, m.Features)
	return out
}

func (m *LogisticModel) Stats() (means, stddevs []float64) {
	return m.Means, m.Stddevs
}

func (m *LogisticModel) Coefficients() []float64 { return m.Weights }

// Predict returns a score in [0,1].
func (m *LogisticModel) Predict(values []float64) (float64, error) {
	if len(values) != len(m.Weights) {
		return 0, fmt.Errorf("predict: got %d values, want %d", len(values), len(m.Weights))
	}
	logit := m.Bias
	for i, x := range values {
		logit += m.Weights[i] * zScore(x, m.Means[i], m.Stddevs[i])
	}
	return 1 / (1 + math.Exp(-logit)), nil
}

func zScore(x, mean, std float64) float64 {
	if std <= 0 {
		std = 1
	}
	return (x - mean) / std
}
