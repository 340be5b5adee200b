package model

import "fmt"

// Label is the binary outcome of scoring.
type Label string

const (
	LabelNormal    Label = "normal"
	LabelAnomalous Label = "anomalous"
)

// ParseLabel accepts the label spellings found in request datasets:
// normal/anomalous, 0/1, Normal/Anomalous.
func ParseLabel(s string) (Label, error) {
	switch s {
	case "normal", "Normal", "NORMAL", "0", "false":
		return LabelNormal, nil
	case "anomalous", "Anomalous", "ANOMALOUS", "anomaly", "attack", "1", "true":
		return LabelAnomalous, nil
	}
	return "", fmt.Errorf("unknown label %q", s)
}

// FeatureVector is an ordered set of named features bound to a schema version.
// Names is shared between vectors of the same schema and must not be modified.
type FeatureVector struct {
	SchemaVersion string    `json:"schema_version"`
	Names         []string  `json:"names"`
	Values        []float64 `json:"values"`
}

// Get returns the value of the named feature.
func (v FeatureVector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Contribution is one feature's share in a score, as ranked by the scorer.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	ZScore  float64 `json:"z_score"`
	Impact  float64 `json:"impact"`
	Rank    int     `json:"rank"`
}

// TokenMatch records a suspicious token found in a request.
type TokenMatch struct {
	Family   string `json:"family"`
	Token    string `json:"token"`
	Location string `json:"location"`
	Count    int    `json:"count"`
}

// Verdict is the deterministic result of scoring one feature vector.
type Verdict struct {
	RequestID     string         `json:"request_id"`
	Score         float64        `json:"score"`
	Label         Label          `json:"label"`
	Threshold     float64        `json:"threshold"`
	ModelVersion  string         `json:"model_version"`
	SchemaVersion string         `json:"schema_version"`
	RankingMethod string         `json:"ranking_method"`
	Contributions []Contribution `json:"contributions,omitempty"`
}

// Anomalous reports whether the verdict is labeled anomalous.
func (v Verdict) Anomalous() bool {
	return v.Label == LabelAnomalous
}
