package model

// Method is an upper-case HTTP method token.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
	MethodConnect Method = "CONNECT"
)

// Known reports whether m is one of the standard methods.
func (m Method) Known() bool {
	switch m {
	case MethodGet, MethodHead, MethodPost, MethodPut, MethodPatch,
		MethodDelete, MethodOptions, MethodTrace, MethodConnect:
		return true
	}
	return false
}

// RawRequest is one logged HTTP request as read from a dataset or an ingest
// payload. Header keys are matched case-insensitively by the normalizer.
type RawRequest struct {
	ID         string            `json:"id,omitempty"`
	Method     string            `json:"method" validate:"required"`
	URL        string            `json:"url" validate:"required"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Timestamp  string            `json:"timestamp,omitempty"` // RFC3339 or Unix ms
	Source     string            `json:"source,omitempty"`
	KnownLabel *Label            `json:"label,omitempty"`

	// DecodeError is set by dataset readers when the record could not be
	// parsed. The normalizer rejects such a record as malformed.
	DecodeError string `json:"-"`
}

// QueryParam is one key/value pair of a query string, in original order.
type QueryParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NormalizedRequest is the canonical form of a RawRequest.
type NormalizedRequest struct {
	ID         string            `json:"id"`
	Method     Method            `json:"method"`
	Host       string            `json:"host,omitempty"`
	Path       string            `json:"path"`
	Query      []QueryParam      `json:"query,omitempty"`
	Body       string            `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Timestamp  string            `json:"timestamp,omitempty"`
	Source     string            `json:"source,omitempty"`
	KnownLabel *Label            `json:"known_label,omitempty"`
}

// Header returns the value for a canonicalized header key.
func (r NormalizedRequest) Header(key string) string {
	return r.Headers[key]
}

// Origin identifies who sent the request: the source identifier, or the host
// when the log carries none.
func (r NormalizedRequest) Origin() string {
	if r.Source != "" {
		return r.Source
	}
	return r.Host
}
