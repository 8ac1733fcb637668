package pipeline

import (
	"errors"
	"fmt"
)

// RetriesExhaustedError is returned when a flow keeps failing transiently
// past the configured max_retries. The flow is failed like any fatal error.
type RetriesExhaustedError struct {
	FlowID  string // The flow that exhausted its retries
	Retries int    // Consecutive failures recorded
	Limit   int    // Configured max_retries
	Cause   error  // The last transient failure
}

// Error implements the error interface.
func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("flow %s exhausted retries: %d failures > %d limit: %v",
		e.FlowID, e.Retries, e.Limit, e.Cause)
}

// Unwrap returns the last transient failure.
func (e *RetriesExhaustedError) Unwrap() error {
	return e.Cause
}

// IsRetriesExhausted returns true if err is a RetriesExhaustedError.
// Uses errors.As to handle wrapped errors.
func IsRetriesExhausted(err error) bool {
	var re *RetriesExhaustedError
	return errors.As(err, &re)
}
