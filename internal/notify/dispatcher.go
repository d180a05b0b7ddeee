// Package notify fans workflow transitions out to the audit trail, the
// metrics registry and the event stream.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/audit"
	"github.com/mrlokans/bookshop/internal/entities"
	"github.com/mrlokans/bookshop/internal/events"
	"github.com/mrlokans/bookshop/internal/metrics"
	"github.com/mrlokans/bookshop/internal/payments"
)

// Enqueuer hands an event to whatever delivers it downstream.
type Enqueuer interface {
	EnqueueEvent(e events.Event) error
}

// Dispatcher implements the approval and payment hooks. Hook failures are
// logged and never fail the transition that triggered them.
type Dispatcher struct {
	audit    *audit.Service
	delivery Enqueuer
	logger   *zap.Logger
}

func NewDispatcher(auditService *audit.Service, delivery Enqueuer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{audit: auditService, delivery: delivery, logger: logger}
}

func (d *Dispatcher) BookSubmitted(_ context.Context, book *entities.Book) {
	if d.audit != nil {
		d.audit.LogBookSubmitted(book.UploaderID, book.ID, book.Title)
	}
	e := events.New(events.BookSubmitted)
	e.BookID = book.ID
	e.UserID = book.UploaderID
	e.Status = string(book.Status)
	d.emit(e)
}

func (d *Dispatcher) BookDecided(_ context.Context, book *entities.Book, decider access.Actor) {
	metrics.RecordBookDecision(string(book.Status))
	if d.audit != nil {
		d.audit.LogBookDecision(decider.UserID, book.ID, book.Title, book.Status)
	}

	t := events.BookApproved
	if book.Status == entities.BookStatusRejected {
		t = events.BookRejected
	}
	e := events.New(t)
	e.BookID = book.ID
	e.UserID = book.UploaderID
	e.ActorID = decider.UserID
	e.Status = string(book.Status)
	d.emit(e)
}

func (d *Dispatcher) PaymentInitiated(_ context.Context, p *entities.Payment) {
	metrics.RecordPaymentInitiated()
	if d.audit != nil {
		d.audit.LogPaymentInitiated(p)
	}
	d.emit(paymentEvent(events.PaymentInitiated, p))
}

func (d *Dispatcher) PaymentTransitioned(_ context.Context, p *entities.Payment) {
	metrics.RecordPaymentTransition(string(p.Status), string(p.ConfirmedVia))
	if d.audit != nil {
		d.audit.LogPaymentTransition(p)
	}

	t := events.PaymentVerified
	if p.Status == entities.PaymentStatusFailed {
		t = events.PaymentFailed
	}
	d.emit(paymentEvent(t, p))
}

func (d *Dispatcher) UnmatchedConfirmation(_ context.Context, c payments.Confirmation, cause error) {
	d.logger.Warn("provider confirmation did not match a payment",
		zap.String("reference", c.Reference),
		zap.String("status", c.Status),
		zap.String("source", string(c.Source)),
		zap.String("event_id", c.EventID),
		zap.Error(cause))
	if d.audit != nil {
		d.audit.LogProviderAnomaly(c.Source, c.Reference, c.Status, cause)
	}
}

func (d *Dispatcher) emit(e events.Event) {
	if d.delivery == nil {
		return
	}
	if err := d.delivery.EnqueueEvent(e); err != nil {
		d.logger.Error("failed to schedule event delivery",
			zap.String("event_id", e.ID),
			zap.String("type", string(e.Type)),
			zap.Error(err))
	}
}

func paymentEvent(t events.Type, p *entities.Payment) events.Event {
	e := events.New(t)
	e.PaymentID = p.ID
	e.BookID = p.BookID
	e.UserID = p.CustomerID
	e.Reference = p.ProviderReference
	e.Status = string(p.Status)
	e.Amount = p.Amount
	e.Currency = p.Currency
	return e
}

// Inline publishes events synchronously. Used when the task queue is disabled.
type Inline struct {
	Publisher events.Publisher
	Timeout   time.Duration
}

func (i Inline) EnqueueEvent(e events.Event) error {
	timeout := i.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := i.Publisher.Publish(ctx, e)
	metrics.RecordEventPublished(string(e.Type), err)
	return err
}
