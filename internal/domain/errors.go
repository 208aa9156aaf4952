package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeoutExceeded is returned by an oracle call that ran past its deadline.
// Callers recover from it with a heuristic score; it is never surfaced over HTTP.
var ErrTimeoutExceeded = errors.New("timeout exceeded")

// ErrNotFound is returned by keyed lookups that have no record.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed or missing input. Operations that fail
// with a ValidationError have no side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MissingParameterError reports an absent required request parameter.
type MissingParameterError struct {
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Param)
}

// UpstreamUnavailableError reports a dependency that failed with no usable fallback.
type UpstreamUnavailableError struct {
	Source string
	Err    error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// StaleDataWarning marks a value served past its freshness target.
// It travels as metadata next to the value and is never returned as an error.
type StaleDataWarning struct {
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetchedAt"`
	Reason    string    `json:"reason"`
}
