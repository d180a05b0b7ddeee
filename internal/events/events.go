// Package events publishes domain events about approvals and payments to
// downstream consumers.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	BookSubmitted    Type = "book.submitted"
	BookApproved     Type = "book.approved"
	BookRejected     Type = "book.rejected"
	PaymentInitiated Type = "payment.initiated"
	PaymentVerified  Type = "payment.verified"
	PaymentFailed    Type = "payment.failed"
)

// Event is the published envelope. Consumers must tolerate duplicates; ID is
// stable across redeliveries of the same event.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	BookID     uint      `json:"book_id,omitempty"`
	PaymentID  uint      `json:"payment_id,omitempty"`
	UserID     uint      `json:"user_id,omitempty"`
	ActorID    uint      `json:"actor_id,omitempty"`
	Reference  string    `json:"reference,omitempty"`
	Status     string    `json:"status,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
}

// New stamps a fresh id and time on an event of type t.
func New(t Type) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC()}
}

// Key groups events for ordered delivery: all events of one payment, or of one
// book, land on the same partition.
func (e Event) Key() string {
	if e.Reference != "" {
		return e.Reference
	}
	return "book-" + strconv.FormatUint(uint64(e.BookID), 10)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
