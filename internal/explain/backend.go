// Package explain produces natural-language explanations for anomalous
// requests, falling back to a deterministic template when the text generation
// backend cannot answer.
package explain

import (
	"context"
	"errors"
)

// Prompt is what a Backend receives.
type Prompt struct {
	System string
	User   string
}

// Backend is an external text generation service.
type Backend interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

var (
	// ErrGeneration is matched by every GenerationError.
	ErrGeneration = errors.New("explanation generation failed")
	// ErrUnavailable means no backend can be reached. It is retried like any
	// other transient failure.
	ErrUnavailable = errors.New("explanation backend unavailable")
	// ErrDisabled is returned by DisabledBackend. It is never retried.
	ErrDisabled = errors.New("explanation backend disabled")
)

// GenerationError wraps the last backend error seen for a request.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return "explanation generation failed: " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// PermanentError marks a backend failure that retrying cannot fix, such as a
// rejected API key.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// DisabledBackend is used when no backend is configured.
type DisabledBackend struct{}

func (DisabledBackend) Generate(context.Context, Prompt) (string, error) {
	return "", ErrDisabled
}
