// Package insights summarizes a scored batch for operators: rates, accuracy
// against known labels, threat categories, sources and timing.
package insights

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/akave-ai/anomalog/internal/features"
	"github.com/akave-ai/anomalog/internal/model"
)

const (
	topN         = 3
	sampleAlerts = 5
)

// RecommendedActions is the standing advice shown with every summary.
var RecommendedActions = []string{
	"Block or rate-limit top suspicious IPs or User-Agents.",
	"Patch or remove legacy endpoints (e.g. /cgi-bin/*).",
	"Restrict HTTP methods to GET, POST and HEAD.",
	"Enable WAF rules for SQL keywords and path traversal.",
	"Investigate repeated server errors (5xx) in logs.",
}

// Confusion counts verdicts against known labels. Positive means anomalous.
type Confusion struct {
	TrueNegative  int `json:"true_negative"`
	FalsePositive int `json:"false_positive"`
	FalseNegative int `json:"false_negative"`
	TruePositive  int `json:"true_positive"`
}

func (c Confusion) Total() int {
	return c.TrueNegative + c.FalsePositive + c.FalseNegative + c.TruePositive
}

// Accuracy is the share of labeled requests scored correctly, in percent.
type Accuracy struct {
	Labeled   int       `json:"labeled"`
	Percent   float64   `json:"percent"`
	Confusion Confusion `json:"confusion"`
}

type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Alert struct {
	RequestID string `json:"request_id"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	UserAgent string `json:"user_agent,omitempty"`
	Summary   string `json:"summary"`
	Action    string `json:"action"`
}

// Summary is the operator view of one batch.
type Summary struct {
	BatchID            uuid.UUID  `json:"batch_id"`
	Total              int        `json:"total"`
	Scored             int        `json:"scored"`
	Skipped            int        `json:"skipped"`
	Anomalies          int        `json:"anomalies"`
	AnomalyRate        float64    `json:"anomaly_rate"`
	Explained          int        `json:"explained"`
	FallbackUsed       int        `json:"fallback_used"`
	ExplanationFailed  int        `json:"explanation_failed"`
	Accuracy           *Accuracy  `json:"accuracy,omitempty"`
	TopThreats         []Count    `json:"top_threats"`
	TopSources         []Count    `json:"top_sources"`
	PeakHour           *time.Time `json:"peak_hour,omitempty"`
	SampleAlerts       []Alert    `json:"sample_alerts"`
	RecommendedActions []string   `json:"recommended_actions"`
}

// Summarize builds the summary of records, which must belong to report's
// batch. Accuracy is present only when some records carry a known label.
func Summarize(records []model.ResultRecord, report model.BatchReport) Summary {
	s := Summary{
		BatchID:            report.BatchID,
		Total:              report.Total,
		Scored:             len(records),
		Skipped:            len(report.Skipped),
		TopThreats:         []Count{},
		TopSources:         []Count{},
		SampleAlerts:       []Alert{},
		RecommendedActions: RecommendedActions,
	}
	if s.Total == 0 {
		s.Total = s.Scored + s.Skipped
	}

	var conf Confusion
	threats := map[string]int{}
	sources := map[string]int{}
	hours := map[time.Time]int{}
	for _, rec := range records {
		anomalous := rec.Verdict.Anomalous()
		if l := rec.Request.KnownLabel; l != nil {
			switch {
			case *l == model.LabelAnomalous && anomalous:
				conf.TruePositive++
			case *l == model.LabelAnomalous:
				conf.FalseNegative++
			case anomalous:
				conf.FalsePositive++
			default:
				conf.TrueNegative++
			}
		}
		if !anomalous {
			continue
		}
		s.Anomalies++
		if o := rec.Outcome; o != nil {
			switch o.State {
			case model.ExplanationExplained:
				s.Explained++
			case model.ExplanationFellBack:
				s.FallbackUsed++
			case model.ExplanationFailed:
				s.ExplanationFailed++
			}
		}
		threats[threatCategory(rec.Verdict)]++
		if origin := rec.Request.Origin(); origin != "" {
			sources[origin]++
		}
		if ts, err := time.Parse(time.RFC3339Nano, rec.Request.Timestamp); err == nil {
			hours[ts.UTC().Truncate(time.Hour)]++
		}
		if len(s.SampleAlerts) < sampleAlerts {
			s.SampleAlerts = append(s.SampleAlerts, alertFor(rec))
		}
	}

	if s.Scored > 0 {
		s.AnomalyRate = float64(s.Anomalies) / float64(s.Scored) * 100
	}
	if n := conf.Total(); n > 0 {
		s.Accuracy = &Accuracy{
			Labeled:   n,
			Percent:   float64(conf.TruePositive+conf.TrueNegative) / float64(n) * 100,
			Confusion: conf,
		}
	}
	s.TopThreats = top(threats, topN)
	s.TopSources = top(sources, topN)
	if peak, ok := peakHour(hours); ok {
		s.PeakHour = &peak
	}
	return s
}

// threatCategory names the token family of the highest ranked contribution
// that belongs to one, or the top feature itself.
func threatCategory(v model.Verdict) string {
	for _, c := range v.Contributions {
		if fam, ok := features.FamilyOf(c.Feature); ok {
			return fam
		}
	}
	if len(v.Contributions) > 0 {
		return v.Contributions[0].Feature
	}
	return "unknown"
}

func alertFor(rec model.ResultRecord) Alert {
	req := rec.Request
	url := req.Path
	if q := features.QueryString(req.Query); q != "" {
		url += "?" + q
	}
	a := Alert{
		RequestID: req.ID,
		Method:    string(req.Method),
		URL:       url,
		UserAgent: req.Header("User-Agent"),
		Summary:   "Suspicious request",
	}
	if e := rec.Explanation; e != nil {
		a.Summary = e.Narrative
		a.Action = e.RecommendedAction
	}
	return a
}

// top returns the n largest counts, ties by name.
func top(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for name, c := range counts {
		out = append(out, Count{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// peakHour picks the busiest hour, earliest on ties.
func peakHour(hours map[time.Time]int) (time.Time, bool) {
	var best time.Time
	bestN := 0
	for h, n := range hours {
		if n > bestN || (n == bestN && h.Before(best)) {
			best, bestN = h, n
		}
	}
	return best, bestN > 0
}
