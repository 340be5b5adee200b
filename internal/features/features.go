// Package features derives the fixed feature vector scored by the anomaly model.
package features

import (
	"math"
	"strings"
	"unicode"

	"github.com/akave-ai/anomalog/internal/model"
)

// SchemaVersion identifies the names and order produced by Extract.
const SchemaVersion = "http-v1"

const (
	FeaturePathLength        = "path_length"
	FeatureQueryLength       = "query_length"
	FeatureBodyLength        = "body_length"
	FeatureParamCount        = "param_count"
	FeatureHeaderCount       = "header_count"
	FeaturePathDepth         = "path_depth"
	FeatureSQLiTokens        = "sqli_tokens"
	FeatureXSSTokens         = "xss_tokens"
	FeatureTraversalTokens   = "traversal_tokens"
	FeatureCommandTokens     = "command_tokens"
	FeatureSpecialChars      = "special_chars"
	FeaturePathNonAlnumRatio = "path_nonalnum_ratio"
	FeatureBodyNonAlnumRatio = "body_nonalnum_ratio"
	FeatureQueryEntropy      = "query_entropy"
	FeatureBodyEntropy       = "body_entropy"
	FeatureMethodClass       = "method_class"
)

var names = []string{
	FeaturePathLength,
	FeatureQueryLength,
	FeatureBodyLength,
	FeatureParamCount,
	FeatureHeaderCount,
	FeaturePathDepth,
	FeatureSQLiTokens,
	FeatureXSSTokens,
	FeatureTraversalTokens,
	FeatureCommandTokens,
	FeatureSpecialChars,
	FeaturePathNonAlnumRatio,
	FeatureBodyNonAlnumRatio,
	FeatureQueryEntropy,
	FeatureBodyEntropy,
	FeatureMethodClass,
}

// Locations reported in token matches.
const (
	LocationPath  = "path"
	LocationQuery = "query string"
	LocationBody  = "body"
)

// Extractor computes feature vectors. It holds no state and is safe for
// concurrent use.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

func (e *Extractor) SchemaVersion() string { return SchemaVersion }

// Names returns a copy of the feature names in vector order.
func (e *Extractor) Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Extract returns the feature vector for req. Absent fields yield zero.
func (e *Extractor) Extract(req model.NormalizedRequest) model.FeatureVector {
	query := QueryString(req.Query)
	texts := locationTexts(req.Path, query, req.Body)

	values := make([]float64, len(names))
	set := func(name string, v float64) {
		for i, n := range names {
			if n == name {
				values[i] = finite(v)
				return
			}
		}
	}

	set(FeaturePathLength, float64(len(req.Path)))
	set(FeatureQueryLength, float64(len(query)))
	set(FeatureBodyLength, float64(len(req.Body)))
	set(FeatureParamCount, float64(len(req.Query)))
	set(FeatureHeaderCount, float64(len(req.Headers)))
	set(FeaturePathDepth, float64(pathDepth(req.Path)))
	for _, f := range families {
		total := 0
		for _, text := range texts {
			for _, tok := range f.tokens {
				total += strings.Count(text.lower, tok)
			}
		}
		set(f.feature, float64(total))
	}
	special := 0
	for _, text := range texts {
		special += countAny(text.lower, specialChars)
	}
	set(FeatureSpecialChars, float64(special))
	set(FeaturePathNonAlnumRatio, nonAlnumRatio(req.Path))
	set(FeatureBodyNonAlnumRatio, nonAlnumRatio(req.Body))
	set(FeatureQueryEntropy, shannonEntropy(query))
	set(FeatureBodyEntropy, shannonEntropy(req.Body))
	set(FeatureMethodClass, methodClass(req.Method))

	return model.FeatureVector{SchemaVersion: SchemaVersion, Names: e.Names(), Values: values}
}

// Matches lists every suspicious token found in req, in family, location and
// token order.
func (e *Extractor) Matches(req model.NormalizedRequest) []model.TokenMatch {
	texts := locationTexts(req.Path, QueryString(req.Query), req.Body)
	var out []model.TokenMatch
	for _, f := range families {
		for _, text := range texts {
			for _, tok := range f.tokens {
				if n := strings.Count(text.lower, tok); n > 0 {
					out = append(out, model.TokenMatch{Family: f.name, Token: tok, Location: text.location, Count: n})
				}
			}
		}
	}
	return out
}

// QueryString joins decoded query parameters as k=v pairs.
func QueryString(params []model.QueryParam) string {
	if len(params) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

type locatedText struct {
	location string
	lower    string
}

func locationTexts(path, query, body string) []locatedText {
	return []locatedText{
		{location: LocationPath, lower: strings.ToLower(path)},
		{location: LocationQuery, lower: strings.ToLower(query)},
		{location: LocationBody, lower: strings.ToLower(body)},
	}
}

func pathDepth(p string) int {
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

func countAny(s, chars string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(chars, s[i]) >= 0 {
			n++
		}
	}
	return n
}

func nonAlnumRatio(s string) float64 {
	if s == "" {
		return 0
	}
	total, other := 0, 0
	for _, r := range s {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			other++
		}
	}
	return float64(other) / float64(total)
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var freq [256]int
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	h := 0.0
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// methodClass: 0 safe, 1 state changing, 2 anything else.
func methodClass(m model.Method) float64 {
	switch m {
	case model.MethodGet, model.MethodHead, model.MethodOptions:
		return 0
	case model.MethodPost, model.MethodPut, model.MethodPatch, model.MethodDelete:
		return 1
	}
	return 2
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
