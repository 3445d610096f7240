// Package errors carries the typed error codes shared by the domain
// services and the HTTP layer. Services return *Error values; the API
// maps the code to a status and a public message.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeOversold           Code = "OVERSOLD"
	CodeMappingMissing     Code = "MAPPING_MISSING"
	CodeAdaptor            Code = "ADAPTOR_ERROR"
	CodeIntegrityViolation Code = "INTEGRITY_VIOLATION"
)

// Metadata is how a code surfaces to API clients.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable   = true
	withDetails = true
)

func meta(status int, retry bool, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: retry, PublicMessage: msg, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, false, "validation failed", withDetails),
	CodeUnauthorized:  meta(http.StatusUnauthorized, false, "authentication required", false),
	CodeForbidden:     meta(http.StatusForbidden, false, "access denied", false),
	CodeNotFound:      meta(http.StatusNotFound, false, "resource not found", false),
	CodeConflict:      meta(http.StatusConflict, retryable, "conflict detected", false),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, false, "state transition disallowed", withDetails),
	CodeIdempotency:   meta(http.StatusConflict, false, "idempotency key reused", withDetails),
	CodeRateLimit:     meta(http.StatusTooManyRequests, false, "rate limit exceeded", false),
	CodeInternal:      meta(http.StatusInternalServerError, retryable, "internal server error", false),
	CodeDependency:    meta(http.StatusServiceUnavailable, retryable, "dependency unavailable", withDetails),

	CodeInvalidTransition:  meta(http.StatusUnprocessableEntity, false, "booking status transition rejected", withDetails),
	CodeOversold:           meta(http.StatusConflict, false, "inventory unavailable", withDetails),
	CodeMappingMissing:     meta(http.StatusUnprocessableEntity, false, "channel room mapping missing", withDetails),
	CodeAdaptor:            meta(http.StatusBadGateway, retryable, "channel rejected the request", withDetails),
	CodeIntegrityViolation: meta(http.StatusInternalServerError, false, "inventory integrity violation", withDetails),
}

// MetadataFor falls back to the internal error entry for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap keeps err reachable through errors.Is/As while presenting code.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// WithDetail sets one key on map details. Non-map details already present
// move under "context".
func (e *Error) WithDetail(key string, value any) *Error {
	if e == nil {
		return nil
	}
	m, ok := e.details.(map[string]any)
	if !ok {
		m = map[string]any{}
		if e.details != nil {
			m["context"] = e.details
		}
		e.details = m
	}
	m[key] = value
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// CodeOf maps untyped errors to CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.code
	}
	return CodeInternal
}

// Retryable reports whether repeating the operation that produced err can
// succeed. Untyped errors count as retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}

func StatusOf(err error) int {
	return MetadataFor(CodeOf(err)).HTTPStatus
}

// CorrelationID returns the correlation_id detail stamped on err, if any.
func CorrelationID(err error) string {
	typed := As(err)
	if typed == nil {
		return ""
	}
	m, _ := typed.details.(map[string]any)
	id, _ := m["correlation_id"].(string)
	return id
}
