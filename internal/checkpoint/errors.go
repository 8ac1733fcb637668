package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies a failure for the pipeline driver.
type ErrorKind string

const (
	// KindFatal marks corrupted persisted state or a caller contract
	// violation. The flow must be terminated as failed.
	KindFatal ErrorKind = "FATAL"

	// KindValidation marks a rejected flow-author operation. The rest of
	// the checkpoint is untouched.
	KindValidation ErrorKind = "VALIDATION"

	// KindTransient marks a failure that is retried with backoff.
	KindTransient ErrorKind = "TRANSIENT"
)

// ErrorCode identifies a specific failure.
type ErrorCode string

const (
	ErrCodeAlreadyInitialized    ErrorCode = "ALREADY_INITIALIZED"
	ErrCodeNotInitialized        ErrorCode = "NOT_INITIALIZED"
	ErrCodeAccessedAfterDeletion ErrorCode = "ACCESSED_AFTER_DELETION"
	ErrCodeMissingField          ErrorCode = "MISSING_FIELD"
	ErrCodeDuplicateSession      ErrorCode = "DUPLICATE_SESSION"
	ErrCodeEmptyStack            ErrorCode = "EMPTY_STACK"
	ErrCodeNotRetrying           ErrorCode = "NOT_RETRYING"
	ErrCodeNoActiveFrame         ErrorCode = "NO_ACTIVE_FRAME"
	ErrCodeReservedKey           ErrorCode = "RESERVED_KEY"
	ErrCodePlatformKeyCollision  ErrorCode = "PLATFORM_KEY_COLLISION"
	ErrCodePlatformKeyExists     ErrorCode = "PLATFORM_KEY_EXISTS"
	ErrCodeInvalidVersion        ErrorCode = "INVALID_VERSION"
	ErrCodeTransient             ErrorCode = "TRANSIENT"
)

// Error is the typed failure returned by every checkpoint operation.
// The core never logs and swallows: each violation is raised at the point
// it is detected and carries enough context to classify it.
type Error struct {
	// Kind is the failure class (fatal, validation, transient).
	Kind ErrorKind

	// Code identifies the failure.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// FlowID identifies the affected flow, when known.
	FlowID string

	// Key is the offending context key or flow type name, when relevant.
	Key string

	// Details contains additional context (e.g. duplicate session ids).
	Details map[string]string

	// Err is the underlying cause for wrapped collaborator failures.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	switch {
	case e.FlowID != "" && e.Key != "":
		fmt.Fprintf(&b, " (flow=%s, key=%s)", e.FlowID, e.Key)
	case e.FlowID != "":
		fmt.Fprintf(&b, " (flow=%s)", e.FlowID)
	case e.Key != "":
		fmt.Fprintf(&b, " (key=%s)", e.Key)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func kindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// IsFatal returns true if err is a fatal/corruption error.
// Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindFatal
}

// IsValidation returns true if err is a flow-author validation error.
func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

// IsTransient returns true if err was marked retryable with Transient.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

// HasCode returns true if err is a checkpoint Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Transient marks a collaborator failure as retryable.
// Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    KindTransient,
		Code:    ErrCodeTransient,
		Message: "transient processing failure",
		Err:     err,
	}
}

func fatal(code ErrorCode, flowID, format string, args ...any) *Error {
	return &Error{Kind: KindFatal, Code: code, Message: fmt.Sprintf(format, args...), FlowID: flowID}
}

func invalid(code ErrorCode, key, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...), Key: key}
}

// newDuplicateSessionError names the flow and every duplicated id.
func newDuplicateSessionError(flowID string, duplicates []string) *Error {
	sort.Strings(duplicates)
	return &Error{
		Kind:    KindFatal,
		Code:    ErrCodeDuplicateSession,
		Message: fmt.Sprintf("checkpoint contains duplicate session ids %v", duplicates),
		FlowID:  flowID,
		Details: map[string]string{"duplicate_session_ids": strings.Join(duplicates, ",")},
	}
}
