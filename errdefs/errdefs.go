// Package errdefs defines the error taxonomy shared by every layer: stable
// codes, machine-checkable reasons, and the HTTP mapping handlers render.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and for the HTTP boundary.
type Code string

const (
	CodeValidation        Code = "validation"
	CodePayloadTooLarge   Code = "payload_too_large"
	CodeUnsupportedMedia  Code = "unsupported_media"
	CodeAuthentication    Code = "authentication"
	CodeAuthorization     Code = "authorization"
	CodeNotFound          Code = "not_found"
	CodeConflict          Code = "conflict"
	CodeRateLimit         Code = "rate_limit"
	CodeQuotaExceeded     Code = "quota_exceeded"
	CodeRemoteUnavailable Code = "remote_unavailable"
	CodeInternal          Code = "internal"
)

// Reason strings carried by validation, rate-limit, and quota errors. Tests
// and clients match on these, so they are part of the contract.
const (
	ReasonEmptyFile       = "empty_file"
	ReasonFileTooLarge    = "file_too_large"
	ReasonBadMediaType    = "unsupported_media_type"
	ReasonBadDimensions   = "invalid_dimensions"
	ReasonBadDuration     = "invalid_duration"
	ReasonFieldTooLong    = "field_too_long"
	ReasonBadMetadata     = "invalid_metadata"
	ReasonPerMinute       = "per_minute"
	ReasonPerHour         = "per_hour"
	ReasonStorageExceeded = "storage_exceeded"
	ReasonPeriodExceeded  = "period_limit_exceeded"
)

// Error is the structured error that crosses layer boundaries. Code maps to an
// HTTP status; Reason is the machine-checkable detail; Message is for humans.
type Error struct {
	Code          Code   `json:"error"`
	Message       string `json:"message,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	cause         error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// WithCorrelation returns a shallow copy carrying the correlation id.
func (e *Error) WithCorrelation(id string) *Error {
	out := *e
	out.CorrelationID = id
	return &out
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithReason builds an error with a machine-checkable reason.
func WithReason(code Code, reason, message string) *Error {
	return &Error{Code: code, Message: message, Reason: reason}
}

// Wrap attaches a taxonomy code to an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func Validation(reason, message string) *Error {
	return WithReason(CodeValidation, reason, message)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", cause: cause}
}

// CodeOf extracts the taxonomy code from any error; non-taxonomy errors are
// internal by definition.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ReasonOf extracts the machine-checkable reason, empty when absent.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the status its HTTP rendering uses. Unknown
// errors map to 500 without leaking their message.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeAuthorization, CodeQuotaExceeded:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeRemoteUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Sanitize returns an Error safe to render to a client. Taxonomy errors pass
// through; anything else collapses to a generic internal error.
func Sanitize(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: "internal error"}
}
