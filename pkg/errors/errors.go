package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	// Reservation engine taxonomy.
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeUnavailable       Code = "UNAVAILABLE"

	// Transport and infrastructure.
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeConflict     Code = "CONFLICT"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Metadata is how a code renders over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

// Flags for the metadata table.
const (
	hidden    = false
	detailed  = true
	terminal  = false
	retryable = true
)

var metadataByCode = map[Code]Metadata{
	CodeNotFound:          {http.StatusNotFound, terminal, "resource not found", hidden},
	CodeInsufficientStock: {http.StatusConflict, terminal, "not enough stock", detailed},
	CodeInvalidState:      {http.StatusUnprocessableEntity, terminal, "invalid state", detailed},
	CodeUnavailable:       {http.StatusServiceUnavailable, retryable, "service temporarily unavailable", hidden},
	CodeValidation:        {http.StatusBadRequest, terminal, "validation failed", detailed},
	CodeUnauthorized:      {http.StatusUnauthorized, terminal, "authentication required", hidden},
	CodeForbidden:         {http.StatusForbidden, terminal, "access denied", hidden},
	CodeConflict:          {http.StatusConflict, terminal, "conflict detected", hidden},
	CodeIdempotency:       {http.StatusConflict, terminal, "idempotency key reused", detailed},
	CodeRateLimit:         {http.StatusTooManyRequests, retryable, "rate limit exceeded", hidden},
	CodeInternal:          {http.StatusInternalServerError, terminal, "internal server error", hidden},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
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

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
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
	if e == nil {
		return nil
	}
	e.details = details
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

// Is matches any *Error with the same code, so errors.Is(err, New(CodeNotFound, "")) works
// through wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if e == nil || !stdErrors.As(target, &other) || other == nil {
		return false
	}
	return e.code == other.code
}

// As returns the outermost typed error in the chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// CodeOf returns the code of err, CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}
