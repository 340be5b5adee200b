package model

// ExplanationSource tells whether a narrative came from the generator or the
// deterministic template.
type ExplanationSource string

const (
	ExplanationGenerated ExplanationSource = "generated"
	ExplanationFallback  ExplanationSource = "fallback"
)

// ExplanationState is the lifecycle of an explanation for one request.
type ExplanationState string

const (
	ExplanationPending    ExplanationState = "PENDING"
	ExplanationGenerating ExplanationState = "GENERATING"
	ExplanationExplained  ExplanationState = "EXPLAINED"
	ExplanationFellBack   ExplanationState = "FALLBACK"
	ExplanationFailed     ExplanationState = "FAILED"
)

// Terminal reports whether no further transition is possible from s.
func (s ExplanationState) Terminal() bool {
	return s == ExplanationExplained || s == ExplanationFellBack || s == ExplanationFailed
}

// Explanation is the narrative attached to an anomalous verdict.
type Explanation struct {
	RequestID         string            `json:"request_id"`
	Narrative         string            `json:"narrative"`
	RecommendedAction string            `json:"recommended_action"`
	Source            ExplanationSource `json:"source"`
	RankingMethod     string            `json:"ranking_method"`
	Evidence          []Contribution    `json:"evidence,omitempty"`
	Matches           []TokenMatch      `json:"matches,omitempty"`
}

// ExplanationOutcome records how explanation generation ended.
type ExplanationOutcome struct {
	State    ExplanationState `json:"state"`
	Reason   string           `json:"reason,omitempty"`
	Attempts int              `json:"attempts"`
}
