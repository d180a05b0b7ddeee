// Package checkout talks to the hosted payment provider.
//
// The provider opens a checkout session for an amount and hands back an opaque
// reference and a redirect URL. It later reports the outcome through the
// buyer's return redirect, a webhook, or a status query.
package checkout

import "context"

// Request describes the checkout session to open.
type Request struct {
	Amount         int64             `json:"amount"` // Minor units
	Currency       string            `json:"currency"`
	Description    string            `json:"description,omitempty"`
	ReturnURL      string            `json:"return_url"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// Session is an opened checkout session.
type Session struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}

// Provider is a hosted checkout provider.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req Request) (Session, error)
	SessionStatus(ctx context.Context, reference string) (string, error)
}
