package llm

import (
	"fmt"
	"time"
)

// ThrottleError means the backend asked us to slow down; RetryAfter comes from
// its Retry-After header when present.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm backend returned %d: %s", e.Code, e.Body)
}

// Retryable reports whether another attempt can succeed.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500
}
