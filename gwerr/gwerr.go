// Package gwerr defines the typed error taxonomy the gateway core surfaces
// to its callers (§7 of the spec). Errors carry a stable Kind so transport
// code can map them to status codes without string matching.
package gwerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification surfaced to callers.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindComplexityTooHigh   Kind = "QUERY_COMPLEXITY_TOO_HIGH"
	KindPaginationRequired  Kind = "PAGINATION_REQUIRED"
	KindTooManyGroups       Kind = "TOO_MANY_GROUPS"
	KindRateLimitExceeded   Kind = "RATE_LIMIT_EXCEEDED"
	KindQueryExecutionError Kind = "QUERY_EXECUTION_ERROR"
	KindQuerySecurity       Kind = "QUERY_SECURITY"
	KindCacheTier2Fail      Kind = "CACHE_TIER2_FAIL"
	KindExportJobCreation   Kind = "EXPORT_JOB_CREATION_ERROR"
	KindExportProcessing    Kind = "EXPORT_PROCESSING_ERROR"
	KindInternal            Kind = "INTERNAL"
)

// httpStatus maps each Kind to the status the transport layer should use.
var httpStatus = map[Kind]int{
	KindValidation:          400,
	KindComplexityTooHigh:   400,
	KindPaginationRequired:  400,
	KindTooManyGroups:       400,
	KindRateLimitExceeded:   429,
	KindQueryExecutionError: 502,
	KindQuerySecurity:       400,
	KindCacheTier2Fail:      200, // swallowed; never surfaced on its own
	KindExportJobCreation:   400,
	KindExportProcessing:    500,
	KindInternal:            500,
}

// Error is the typed business error returned by every core component.
type Error struct {
	Kind       Kind
	Message    string
	Extensions map[string]interface{}
	wrapped    error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// HTTPStatus returns the status code a REST transport should use.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// New constructs a typed error with no extensions.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs a typed error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying error for context without exposing it to callers.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, wrapped: cause}
}

// WithExtensions attaches structured metadata (e.g. complexity recommendations,
// rate-limit tier/used) to the error envelope.
func (e *Error) WithExtensions(ext map[string]interface{}) *Error {
	e.Extensions = ext
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}
