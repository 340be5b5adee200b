package explain

import (
	"fmt"
	"strings"

	"github.com/akave-ai/anomalog/internal/features"
	"github.com/akave-ai/anomalog/internal/model"
)

var featurePhrases = map[string]string{
	features.FeaturePathLength:        "an unusually long path",
	features.FeatureQueryLength:       "an unusually long query string",
	features.FeatureBodyLength:        "an unusually large body",
	features.FeatureParamCount:        "an unusual number of parameters",
	features.FeatureHeaderCount:       "an unusual number of headers",
	features.FeaturePathDepth:         "an unusually deep path",
	features.FeatureSQLiTokens:        "SQL-injection-pattern tokens",
	features.FeatureXSSTokens:         "script/XSS-pattern tokens",
	features.FeatureTraversalTokens:   "path-traversal sequences",
	features.FeatureCommandTokens:     "shell-command-injection tokens",
	features.FeatureSpecialChars:      "an unusual number of special characters",
	features.FeaturePathNonAlnumRatio: "a path made mostly of symbols",
	features.FeatureBodyNonAlnumRatio: "a body made mostly of symbols",
	features.FeatureQueryEntropy:      "a randomized or encoded-looking query string",
	features.FeatureBodyEntropy:       "a randomized or encoded-looking body",
	features.FeatureMethodClass:       "an uncommon HTTP method",
}

var familyActions = []struct {
	feature string
	action  string
}{
	{features.FeatureCommandTokens, "Block the source immediately and review logs for signs of command execution on the server."},
	{features.FeatureSQLiTokens, "Block the source and review logs; enable WAF rules for SQL keywords on forms and search pages."},
	{features.FeatureTraversalTokens, "Block the source and review logs; enable WAF rules for path traversal and check no files outside the web root were served."},
	{features.FeatureXSSTokens, "Block the source and review logs; enable WAF rules for script injection and escape user input on the affected page."},
	{features.FeatureMethodClass, "Restrict HTTP methods to GET, POST and HEAD."},
}

const defaultAction = "Rate-limit the source and review logs for repeated suspicious requests."

func describeFeature(name string) string {
	if p, ok := featurePhrases[name]; ok {
		return p
	}
	return strings.ReplaceAll(name, "_", " ")
}

func familyPhrase(family string) string {
	switch family {
	case features.FamilySQLInjection:
		return "SQL injection"
	case features.FamilyXSS:
		return "cross-site scripting"
	case features.FamilyPathTraversal:
		return "path traversal"
	case features.FamilyCommand:
		return "command injection"
	}
	return family
}

// Fallback builds the templated explanation from the verdict's top
// contributions. Token matches only add where a contributing token family was
// seen.
func Fallback(req model.NormalizedRequest, v model.Verdict, matches []model.TokenMatch) *model.Explanation {
	evidence := topEvidence(v.Contributions)

	reasons := make([]string, 0, len(evidence))
	for _, c := range evidence {
		phrase := describeFeature(c.Feature)
		if family, ok := features.FamilyOf(c.Feature); ok {
			if locs := locationsOf(family, matches); len(locs) > 0 {
				phrase += " in " + joinList(locs)
			}
		}
		reasons = append(reasons, phrase)
	}
	narrative := fmt.Sprintf("Request flagged due to %s (anomaly score %.2f, threshold %.2f).",
		joinList(reasons), v.Score, v.Threshold)
	if len(reasons) == 0 {
		narrative = fmt.Sprintf("Request flagged as unusual traffic (anomaly score %.2f, threshold %.2f).", v.Score, v.Threshold)
	}

	return &model.Explanation{
		RequestID:         req.ID,
		Narrative:         narrative,
		RecommendedAction: recommendedAction(evidence),
		Source:            model.ExplanationFallback,
		RankingMethod:     v.RankingMethod,
		Evidence:          evidence,
		Matches:           matches,
	}
}

// topEvidence keeps contributions that raised the score; the first one is
// kept regardless so the narrative is never empty.
func topEvidence(contributions []model.Contribution) []model.Contribution {
	var out []model.Contribution
	for i, c := range contributions {
		if i == 0 || c.Impact > 0 {
			out = append(out, c)
		}
	}
	return out
}

func recommendedAction(evidence []model.Contribution) string {
	for _, fa := range familyActions {
		for _, c := range evidence {
			if c.Feature == fa.feature {
				return fa.action
			}
		}
	}
	return defaultAction
}

func locationsOf(family string, matches []model.TokenMatch) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range matches {
		if m.Family == family && !seen[m.Location] {
			seen[m.Location] = true
			out = append(out, m.Location)
		}
	}
	return out
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
