// Package apperrors defines the error kinds shared by the workflows, the store and
// the HTTP layer.
//
// Layers wrap with fmt.Errorf("...: %w", err) so callers can test the kind with
// errors.Is. HTTPStatus and Code translate a kind into its HTTP response.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the actor lacks the capability for the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated indicates no actor could be resolved for the request.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrInvalidState indicates the entity is not in a state the operation accepts.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict indicates a conditional update was not applied because the
	// stored state no longer matched the expected prior state.
	ErrConflict = errors.New("conditional update not applied")

	// ErrProvider indicates the payment provider failed, timed out or returned
	// something unrecognised.
	ErrProvider = errors.New("payment provider error")

	// ErrRateLimited indicates the caller must back off before retrying.
	ErrRateLimited = errors.New("too many requests")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownReference indicates a provider confirmation for a reference
	// that matches no local payment. It is a kind of ErrNotFound.
	ErrUnknownReference = fmt.Errorf("unknown provider reference: %w", ErrNotFound)
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records a failing field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// HasField reports whether field failed validation.
func (e *ValidationError) HasField(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// OrNil returns e as an error if any field failed, nil otherwise.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid is shorthand for a ValidationError with a single field.
func Invalid(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// HTTPStatus maps an error kind to its HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a machine-readable code for the error kind.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnknownReference):
		return "unknown_reference"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	default:
		return "internal_error"
	}
}

// Response is the JSON body of every API error.
type Response struct {
	Error  string       `json:"error"`
	Code   string       `json:"code"`
	Fields []FieldError `json:"fields,omitempty"`
}

// Body renders err for a client. Errors of no known kind are reported as a
// generic internal error so storage or driver details never leak.
func Body(err error) Response {
	code := Code(err)
	if code == "internal_error" {
		return Response{Error: "internal server error", Code: code}
	}
	resp := Response{Error: err.Error(), Code: code}
	var verr *ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	return resp
}
