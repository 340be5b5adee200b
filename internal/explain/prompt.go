package explain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/akave-ai/anomalog/internal/features"
	"github.com/akave-ai/anomalog/internal/model"
)

// ErrMalformedResponse is returned for empty or unparseable backend output.
var ErrMalformedResponse = errors.New("malformed explanation response")

const maxPromptField = 512

const systemPrompt = `You explain web security alerts to the owner of a small business who is not a security expert.

You receive one HTTP request that an anomaly detector flagged, its anomaly score, and the evidence that raised the score.

Respond with a single JSON object and nothing else:
{"narrative": "<two or three plain sentences: what the request tried to do and why it looks suspicious>",
 "recommended_action": "<one concrete next step the owner can take>"}

Base the narrative only on the evidence given. Avoid jargon; if you must use a technical term, explain it in a few words.`

// BuildPrompt summarizes the request, its verdict and the top evidence. Long
// fields are truncated.
func BuildPrompt(req model.NormalizedRequest, v model.Verdict, matches []model.TokenMatch) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s %s\n", req.Method, truncate(req.Path))
	if q := features.QueryString(req.Query); q != "" {
		fmt.Fprintf(&b, "Query string: %s\n", truncate(q))
	}
	if req.Body != "" {
		fmt.Fprintf(&b, "Body: %s\n", truncate(req.Body))
	}
	if origin := req.Origin(); origin != "" {
		fmt.Fprintf(&b, "Sent by: %s\n", origin)
	}
	fmt.Fprintf(&b, "Anomaly score: %.2f (alert threshold %.2f)\n", v.Score, v.Threshold)
	fmt.Fprintf(&b, "Top evidence (ranked by %s):\n", v.RankingMethod)
	for _, c := range v.Contributions {
		fmt.Fprintf(&b, "- %s: value %.2f, deviation %.2f, impact %.2f (%s)\n", c.Feature, c.Value, c.ZScore, c.Impact, describeFeature(c.Feature))
	}
	if len(matches) > 0 {
		b.WriteString("Suspicious tokens:\n")
		for _, m := range matches {
			fmt.Fprintf(&b, "- %q (%s) in %s, %d time(s)\n", m.Token, familyPhrase(m.Family), m.Location, m.Count)
		}
	}
	return Prompt{System: systemPrompt, User: b.String()}
}

type response struct {
	Narrative         string `json:"narrative"`
	RecommendedAction string `json:"recommended_action"`
}

// ParseResponse extracts narrative and action from backend output. JSON is
// expected; "Narrative:" / "Action:" lines are accepted as well.
func ParseResponse(text string) (narrative, action string, err error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", ErrMalformedResponse
	}

	if strings.HasPrefix(text, "{") {
		var r response
		if jerr := json.Unmarshal([]byte(text), &r); jerr != nil {
			return "", "", fmt.Errorf("%w: %v", ErrMalformedResponse, jerr)
		}
		narrative, action = strings.TrimSpace(r.Narrative), strings.TrimSpace(r.RecommendedAction)
	} else {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if v, ok := cutPrefixFold(line, "narrative:"); ok {
				narrative = v
			} else if v, ok := cutPrefixFold(line, "action:"); ok {
				action = v
			} else if v, ok := cutPrefixFold(line, "recommended action:"); ok {
				action = v
			}
		}
	}
	if narrative == "" || action == "" {
		return "", "", ErrMalformedResponse
	}
	return narrative, action, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func truncate(s string) string {
	if len(s) <= maxPromptField {
		return s
	}
	return s[:maxPromptField] + "..."
}
