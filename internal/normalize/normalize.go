// Package normalize turns logged HTTP requests into canonical records.
package normalize

import (
	"errors"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/akave-ai/anomalog/internal/model"
)

var validate = validator.New()

const formContentType = "application/x-www-form-urlencoded"

// Normalize validates raw and returns its canonical form. Parts of the URL or
// body that fail to decode keep their raw text.
func Normalize(raw model.RawRequest) (model.NormalizedRequest, error) {
	if raw.DecodeError != "" {
		return model.NormalizedRequest{}, &MalformedRequestError{RequestID: raw.ID, Field: "record", Reason: raw.DecodeError}
	}
	if err := validate.Struct(raw); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.NormalizedRequest{}, &MalformedRequestError{
				RequestID: raw.ID,
				Field:     strings.ToLower(verrs[0].Field()),
				Reason:    "missing",
			}
		}
		return model.NormalizedRequest{}, &MalformedRequestError{RequestID: raw.ID, Field: "request", Reason: err.Error()}
	}

	method := strings.ToUpper(strings.TrimSpace(raw.Method))
	if !isToken(method) {
		return model.NormalizedRequest{}, &MalformedRequestError{RequestID: raw.ID, Field: "method", Reason: "not an HTTP token"}
	}

	target := strings.TrimSpace(raw.URL)
	if hasControl(target) {
		return model.NormalizedRequest{}, &MalformedRequestError{RequestID: raw.ID, Field: "url", Reason: "control character in URL"}
	}
	target = stripProtocol(target)
	if target == "" {
		return model.NormalizedRequest{}, &MalformedRequestError{RequestID: raw.ID, Field: "url", Reason: "missing"}
	}

	host, rest := splitAuthority(target)
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		rest = rest[:i]
	}
	rawPath, rawQuery, _ := strings.Cut(rest, "?")
	if !strings.HasPrefix(rawPath, "/") {
		rawPath = "/" + rawPath
	}

	headers := canonicalHeaders(raw.Headers)
	if host == "" {
		host = headers["Host"]
	}

	out := model.NormalizedRequest{
		ID:         raw.ID,
		Method:     model.Method(method),
		Host:       strings.ToLower(host),
		Path:       decodePath(rawPath),
		Query:      decodeQuery(rawQuery),
		Body:       raw.Body,
		Headers:    headers,
		Timestamp:  normalizeTimestamp(raw.Timestamp),
		Source:     strings.TrimSpace(raw.Source),
		KnownLabel: raw.KnownLabel,
	}
	if isForm(headers) {
		out.Body = decodeForm(raw.Body)
	}
	return out, nil
}

// Reserialize encodes n back into a raw request such that Normalize yields n again.
func Reserialize(n model.NormalizedRequest) model.RawRequest {
	var b strings.Builder
	if n.Host != "" {
		b.WriteString("http://")
		b.WriteString(n.Host)
	}
	b.WriteString((&url.URL{Path: n.Path}).EscapedPath())
	if len(n.Query) > 0 {
		b.WriteByte('?')
		for i, p := range n.Query {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.Key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(p.Value))
		}
	}

	body := n.Body
	if isForm(n.Headers) {
		body = encodeForm(body)
	}
	var headers map[string]string
	if n.Headers != nil {
		headers = make(map[string]string, len(n.Headers))
		for k, v := range n.Headers {
			headers[k] = v
		}
	}
	return model.RawRequest{
		ID:         n.ID,
		Method:     string(n.Method),
		URL:        b.String(),
		Headers:    headers,
		Body:       body,
		Timestamp:  n.Timestamp,
		Source:     n.Source,
		KnownLabel: n.KnownLabel,
	}
}

// isToken follows the RFC 7230 tchar set.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func hasControl(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return true
		}
	}
	return false
}

// stripProtocol drops a trailing " HTTP/1.1" left by request-line logs. Only a
// version token at the very end is removed.
func stripProtocol(s string) string {
	i := strings.LastIndex(s, " HTTP/")
	if i < 0 || !isVersion(s[i+len(" HTTP/"):]) {
		return s
	}
	return strings.TrimSpace(s[:i])
}

// isVersion matches DIGIT+ [ "." DIGIT+ ].
func isVersion(v string) bool {
	major, minor, dotted := strings.Cut(v, ".")
	return allDigits(major) && (!dotted || allDigits(minor))
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func splitAuthority(s string) (host, rest string) {
	scheme, after, ok := strings.Cut(s, "://")
	if !ok || strings.ContainsAny(scheme, "/?#") {
		return "", s
	}
	end := strings.IndexAny(after, "/?#")
	if end < 0 {
		return after, "/"
	}
	return after[:end], after[end:]
}

// canonicalHeaders merges keys that differ only in case. Values of such keys
// are joined with ", " in byte order of the original keys.
func canonicalHeaders(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(in))
	for _, k := range keys {
		name := strings.TrimSpace(k)
		if name == "" {
			continue
		}
		name = textproto.CanonicalMIMEHeaderKey(name)
		v := strings.TrimSpace(in[k])
		if prev, ok := out[name]; ok {
			v = prev + ", " + v
		}
		out[name] = v
	}
	return out
}

func isForm(headers map[string]string) bool {
	return strings.HasPrefix(strings.ToLower(headers["Content-Type"]), formContentType)
}

func decodePath(p string) string {
	d, err := url.PathUnescape(p)
	if err != nil || !utf8.ValidString(d) {
		return p
	}
	return d
}

func decodeComponent(s string) string {
	d, err := url.QueryUnescape(s)
	if err != nil || !utf8.ValidString(d) {
		return s
	}
	return d
}

func decodeQuery(q string) []model.QueryParam {
	if q == "" {
		return nil
	}
	var out []model.QueryParam
	for _, part := range strings.Split(q, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		out = append(out, model.QueryParam{Key: decodeComponent(k), Value: decodeComponent(v)})
	}
	return out
}

func decodeForm(body string) string {
	return mapFormParts(body, decodeComponent)
}

func encodeForm(body string) string {
	return mapFormParts(body, url.QueryEscape)
}

// mapFormParts applies fn to every key and value of an &/= separated body
// while keeping the separators in place.
func mapFormParts(body string, fn func(string) string) string {
	if body == "" {
		return ""
	}
	pairs := strings.Split(body, "&")
	for i, pair := range pairs {
		parts := strings.Split(pair, "=")
		for j, p := range parts {
			parts[j] = fn(p)
		}
		pairs[i] = strings.Join(parts, "=")
	}
	return strings.Join(pairs, "&")
}

func normalizeTimestamp(ts string) string {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.UTC().Format(time.RFC3339Nano)
	}
	if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", time.RFC1123} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC().Format(time.RFC3339Nano)
		}
	}
	return ts
}
