package normalize

import (
	"errors"
	"fmt"
)

// ErrMalformedRequest is matched by every MalformedRequestError.
var ErrMalformedRequest = errors.New("malformed request")

// MalformedRequestError is returned when a raw request cannot be normalized.
// The batch skips the record and keeps going.
type MalformedRequestError struct {
	RequestID string
	Field     string
	Reason    string
}

func (e *MalformedRequestError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("malformed request: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed request %s: %s: %s", e.RequestID, e.Field, e.Reason)
}

func (e *MalformedRequestError) Is(target error) bool {
	return target == ErrMalformedRequest
}
