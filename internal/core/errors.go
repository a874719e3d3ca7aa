package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	ErrProviderUnavailable       ErrorCode = "PROVIDER_UNAVAILABLE"        // transient, retried
	ErrProviderRateLimited       ErrorCode = "PROVIDER_RATE_LIMITED"       // transient, retried
	ErrProviderMalformedResponse ErrorCode = "PROVIDER_MALFORMED_RESPONSE" // fails over immediately
	ErrProviderClientError       ErrorCode = "PROVIDER_CLIENT_ERROR"       // 4xx other than 429, fails over
	ErrAllProvidersFailed        ErrorCode = "ALL_PROVIDERS_FAILED"
	ErrDuplicateContent          ErrorCode = "DUPLICATE_CONTENT"
	ErrDigestAlreadyExists       ErrorCode = "DIGEST_ALREADY_EXISTS"
	ErrNotFound                  ErrorCode = "NOT_FOUND"
	ErrNotEligible               ErrorCode = "NOT_ELIGIBLE"
	ErrInvalidRequest            ErrorCode = "INVALID_REQUEST"
)

// Error is the typed error carried through the pipeline.
type Error struct {
	Code     ErrorCode
	Message  string
	Provider string // set for provider-originated errors
	Err      error

	// Failures is populated only for ErrAllProvidersFailed, in attempt order.
	Failures []ProviderFailure
}

// ProviderFailure records how one provider failed during a fallback run.
type ProviderFailure struct {
	Provider string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Provider != "" {
		b.WriteString(" [")
		b.WriteString(e.Provider)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; %s after %d attempt(s): %v", f.Provider, f.Attempts, f.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the code to the status used by the HTTP API.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrDigestAlreadyExists, ErrDuplicateContent:
		return http.StatusConflict
	case ErrNotEligible:
		return http.StatusUnprocessableEntity
	case ErrAllProvidersFailed, ErrProviderUnavailable, ErrProviderMalformedResponse, ErrProviderClientError:
		return http.StatusBadGateway
	case ErrProviderRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// NewProviderError wraps err as a provider failure of the given code.
func NewProviderError(code ErrorCode, provider string, err error) *Error {
	return &Error{Code: code, Provider: provider, Err: err}
}

// NewMalformedResponse reports a provider payload that failed validation.
func NewMalformedResponse(provider, format string, args ...any) *Error {
	return &Error{Code: ErrProviderMalformedResponse, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// NewAllProvidersFailed aggregates every provider failure of a fallback run.
func NewAllProvidersFailed(op string, failures []ProviderFailure) *Error {
	return &Error{
		Code:     ErrAllProvidersFailed,
		Message:  fmt.Sprintf("%s: %d provider(s) exhausted", op, len(failures)),
		Failures: failures,
	}
}

// NewDuplicateContent reports that an item with the same hash already exists.
func NewDuplicateContent(hash, existingID string) *Error {
	return &Error{Code: ErrDuplicateContent, Message: fmt.Sprintf("content %s already captured as %s", shortHash(hash), existingID)}
}

// NewDigestAlreadyExists reports a second digest for the same date.
func NewDigestAlreadyExists(date string) *Error {
	return &Error{Code: ErrDigestAlreadyExists, Message: fmt.Sprintf("digest for %s already exists", date)}
}

// NewNotFound reports a missing entity.
func NewNotFound(kind, id string) *Error {
	return &Error{Code: ErrNotFound, Message: fmt.Sprintf("%s not found: %s", kind, id)}
}

// NewNotEligible reports an operation on an item in the wrong state.
func NewNotEligible(id, reason string) *Error {
	return &Error{Code: ErrNotEligible, Message: fmt.Sprintf("item %s: %s", id, reason)}
}

// NewInvalidRequest reports bad input.
func NewInvalidRequest(format string, args ...any) *Error {
	return &Error{Code: ErrInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries a *Error with the given code.
// Only the outermost *Error in the chain is considered.
func Is(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable reports whether the same provider may be tried again.
// Errors outside the taxonomy are treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrProviderMalformedResponse, ErrProviderClientError, ErrAllProvidersFailed, ErrInvalidRequest:
		return false
	}
	return true
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
