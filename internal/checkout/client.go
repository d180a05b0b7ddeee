package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout     = 10 * time.Second
	maxRetries         = 3
	initialRetryDelay  = 500 * time.Millisecond
	maxRetryDelay      = 5 * time.Second
	retryBackoffFactor = 2
)

// Client talks to a hosted checkout API over HTTP.
//
//	POST {base}/v1/checkout/sessions        -> {"reference", "redirect_url"}
//	GET  {base}/v1/checkout/sessions/{ref}  -> {"reference", "status"}
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retryDelay time.Duration
}

// NewClient creates a new provider client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		retryDelay: initialRetryDelay,
	}
}

type sessionStatusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// CreateCheckoutSession opens a checkout session. Retries reuse the request's
// idempotency key so the provider never opens two sessions for one attempt.
func (c *Client) CreateCheckoutSession(ctx context.Context, req Request) (Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Session{}, fmt.Errorf("failed to encode request: %w", err)
	}

	var session Session
	err = c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", body, req.IdempotencyKey, &session)
	})
	if err != nil {
		return Session{}, err
	}
	if session.Reference == "" || session.RedirectURL == "" {
		return Session{}, ErrMalformedResponse
	}
	return session, nil
}

// SessionStatus returns the provider's raw status string for a session.
func (c *Client) SessionStatus(ctx context.Context, reference string) (string, error) {
	endpoint := c.baseURL + "/v1/checkout/sessions/" + url.PathEscape(reference)

	var resp sessionStatusResponse
	err := c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodGet, endpoint, nil, "", &resp)
	})
	if err != nil {
		return "", err
	}
	if resp.Status == "" {
		return "", ErrMalformedResponse
	}
	return resp.Status, nil
}

func (c *Client) withRetry(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.calculateRetryDelay(attempt)):
			}
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}
		// Only retry on rate limits or server errors
		if !isRetryableError(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrUnknownSession
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return &ServerError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) calculateRetryDelay(attempt int) time.Duration {
	delay := c.retryDelay
	for i := 1; i < attempt; i++ {
		delay *= time.Duration(retryBackoffFactor)
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func isRetryableError(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var serverErr *ServerError
	return errors.As(err, &serverErr)
}
