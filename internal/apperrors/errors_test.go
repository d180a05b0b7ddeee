package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Invalid("title", "required"), http.StatusBadRequest},
		{"wrapped forbidden", fmt.Errorf("decide: %w", ErrForbidden), http.StatusForbidden},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"unknown reference", ErrUnknownReference, http.StatusNotFound},
		{"invalid state", ErrInvalidState, http.StatusConflict},
		{"conflict", ErrConflict, http.StatusConflict},
		{"provider", fmt.Errorf("checkout: %w", ErrProvider), http.StatusBadGateway},
		{"unauthenticated", ErrUnauthenticated, http.StatusUnauthorized},
		{"rate limited", fmt.Errorf("login: %w", ErrRateLimited), http.StatusTooManyRequests},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestValidationError(t *testing.T) {
	verr := &ValidationError{}
	assert.NoError(t, verr.OrNil())

	verr.Add("title", "is required")
	verr.Add("cover_images", "at least one cover image is required")

	err := verr.OrNil()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, verr.HasField("cover_images"))
	assert.False(t, verr.HasField("price"))
	assert.Contains(t, err.Error(), "title: is required")

	var target *ValidationError
	assert.True(t, errors.As(fmt.Errorf("submit: %w", err), &target))
	assert.Len(t, target.Fields, 2)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "unknown_reference", Code(ErrUnknownReference))
	assert.Equal(t, "not_found", Code(ErrNotFound))
	assert.Equal(t, "provider_error", Code(ErrProvider))
	assert.Equal(t, "internal_error", Code(errors.New("x")))
}

func TestBody(t *testing.T) {
	body := Body(fmt.Errorf("submit: %w", Invalid("price", "must not be negative")))
	assert.Equal(t, "validation_error", body.Code)
	assert.Len(t, body.Fields, 1)

	body = Body(errors.New("sqlite: disk I/O error"))
	assert.Equal(t, "internal server error", body.Error)
	assert.Empty(t, body.Fields)

	body = Body(ErrForbidden)
	assert.Equal(t, "forbidden", body.Code)
	assert.Equal(t, "forbidden", body.Error)
}
