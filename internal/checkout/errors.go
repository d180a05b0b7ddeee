package checkout

import (
	"errors"
	"fmt"
)

// ErrUnauthorized indicates the provider rejected the API key
var ErrUnauthorized = errors.New("payment provider rejected credentials")

// ErrRateLimited indicates the provider rate limit was exceeded
var ErrRateLimited = errors.New("payment provider rate limit exceeded")

// ErrUnknownSession indicates the provider has no session for the reference
var ErrUnknownSession = errors.New("payment provider has no such session")

// ErrMalformedResponse indicates the provider answered without the fields we need
var ErrMalformedResponse = errors.New("malformed payment provider response")

// ServerError represents a 5xx error from the provider
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("payment provider server error: HTTP %d", e.StatusCode)
}
