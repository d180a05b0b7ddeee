package checkout

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-process provider for development and tests. Sessions stay
// "pending" until Complete is called. The redirect URL points straight at the
// return URL with a success status, standing in for the hosted payment page.
type Sandbox struct {
	mu       sync.Mutex
	sessions map[string]string
	idem     map[string]Session
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		sessions: make(map[string]string),
		idem:     make(map[string]Session),
	}
}

func (s *Sandbox) CreateCheckoutSession(_ context.Context, req Request) (Session, error) {
	if req.Amount < 0 {
		return Session{}, fmt.Errorf("sandbox: negative amount %d", req.Amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if session, ok := s.idem[req.IdempotencyKey]; ok {
			return session, nil
		}
	}

	reference := "sbx_" + uuid.NewString()
	s.sessions[reference] = "pending"

	redirect := req.ReturnURL
	if u, err := url.Parse(req.ReturnURL); err == nil {
		q := u.Query()
		q.Set("reference", reference)
		q.Set("status", "success")
		u.RawQuery = q.Encode()
		redirect = u.String()
	}

	session := Session{Reference: reference, RedirectURL: redirect}
	if req.IdempotencyKey != "" {
		s.idem[req.IdempotencyKey] = session
	}
	return session, nil
}

func (s *Sandbox) SessionStatus(_ context.Context, reference string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.sessions[reference]
	if !ok {
		return "", ErrUnknownSession
	}
	return status, nil
}

// Complete sets the provider-side outcome of a session.
func (s *Sandbox) Complete(reference, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[reference]; !ok {
		return ErrUnknownSession
	}
	s.sessions[reference] = status
	return nil
}
