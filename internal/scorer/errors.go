package scorer

import (
	"errors"
	"fmt"
)

var (
	// ErrFeatureVersionMismatch is matched by every FeatureVersionMismatchError.
	ErrFeatureVersionMismatch = errors.New("feature version mismatch")
	ErrInvalidScore           = errors.New("model produced an invalid score")
	ErrInvalidThreshold       = errors.New("threshold must be a finite number")
)

// FeatureVersionMismatchError means a vector was built for a different schema
// than the model expects. Scoring must stop.
type FeatureVersionMismatchError struct {
	Expected string
	Got      string
	Detail   string
}

func (e *FeatureVersionMismatchError) Error() string {
	msg := fmt.Sprintf("feature schema mismatch: scorer expects %q, got %q", e.Expected, e.Got)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FeatureVersionMismatchError) Is(target error) bool {
	return target == ErrFeatureVersionMismatch
}
