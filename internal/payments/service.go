// Package payments tracks a purchase from checkout to provider-confirmed
// settlement.
//
//	initiated --success--> verified
//	initiated --failure--> failed
//
// Confirmations arrive on three paths: the buyer's return redirect, the
// provider's webhook, and the periodic sweep. All of them go through
// Reconcile, which applies a confirmation at most once. The first confirmation
// to reach the store wins and every later one is a no-op.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/checkout"
	paymentsdb "github.com/mrlokans/bookshop/internal/database/payments"
	"github.com/mrlokans/bookshop/internal/entities"
	"github.com/mrlokans/bookshop/internal/metrics"
)

const defaultProviderTimeout = 10 * time.Second

// BookReader loads catalog records.
type BookReader interface {
	GetBookByID(ctx context.Context, id uint) (*entities.Book, error)
}

// Store is the payment persistence the workflow needs.
type Store interface {
	CreatePayment(ctx context.Context, payment *entities.Payment) error
	GetPaymentByID(ctx context.Context, id uint) (*entities.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*entities.Payment, error)
	ListByCustomer(ctx context.Context, customerID uint) ([]entities.Payment, error)
	ListStaleInitiated(ctx context.Context, olderThan time.Time, limit int) ([]entities.Payment, error)
	TransitionPayment(ctx context.Context, t paymentsdb.Transition) (*entities.Payment, error)
	HasPurchase(ctx context.Context, customerID, bookID uint) (bool, error)
	ListPurchases(ctx context.Context, customerID uint) ([]entities.Purchase, error)
}

// Hooks receive committed payment events. The access grant is already
// durable when they run, so they only carry informational side effects.
type Hooks interface {
	PaymentInitiated(ctx context.Context, payment *entities.Payment)
	PaymentTransitioned(ctx context.Context, payment *entities.Payment)
	UnmatchedConfirmation(ctx context.Context, c Confirmation, cause error)
}

// Confirmation is a provider statement about a session.
type Confirmation struct {
	Reference string
	Status    string // Raw provider status
	Source    entities.ConfirmationSource
	EventID   string // Webhook event id, when known
}

// Outcome says what Reconcile did.
type Outcome string

const (
	OutcomeApplied Outcome = "applied" // This call moved the payment to a terminal state
	OutcomeNoop    Outcome = "noop"    // Already terminal, nothing changed
	OutcomePending Outcome = "pending" // Provider has not settled yet
)

// Result of a Reconcile call.
type Result struct {
	Payment *entities.Payment
	Outcome Outcome
}

// Checkout is what the buyer needs to continue at the provider.
type Checkout struct {
	PaymentID         uint   `json:"payment_id"`
	ProviderReference string `json:"provider_reference"`
	RedirectURL       string `json:"redirect_url"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
}

// Config holds the workflow settings.
type Config struct {
	ReturnURL       string
	ProviderTimeout time.Duration
}

// Service runs the payment workflow.
type Service struct {
	books    BookReader
	store    Store
	provider checkout.Provider
	policy   *access.Policy
	hooks    Hooks
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(books BookReader, store Store, provider checkout.Provider, policy *access.Policy, hooks Hooks, logger *zap.Logger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	return &Service{
		books:    books,
		store:    store,
		provider: provider,
		policy:   policy,
		hooks:    hooks,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreatePayment opens a checkout session for an approved book and records the
// initiated payment. Nothing is stored unless the provider call succeeds.
func (s *Service) CreatePayment(ctx context.Context, actor access.Actor, bookID uint) (*Checkout, error) {
	if err := s.policy.Require(actor, entities.UserRoleCustomer).Err(); err != nil {
		return nil, err
	}

	book, err := s.books.GetBookByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !book.IsPurchasable() {
		return nil, fmt.Errorf("book %d is %s: %w", bookID, book.Status, apperrors.ErrInvalidState)
	}

	providerCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	session, err := s.provider.CreateCheckoutSession(providerCtx, checkout.Request{
		Amount:      book.Price,
		Currency:    book.Currency,
		Description: book.Title,
		ReturnURL:   s.cfg.ReturnURL,
		Metadata: map[string]string{
			"book_id":     strconv.FormatUint(uint64(book.ID), 10),
			"customer_id": strconv.FormatUint(uint64(actor.UserID), 10),
		},
		IdempotencyKey: fmt.Sprintf("book-%d-customer-%d-%d", book.ID, actor.UserID, s.now().UnixNano()),
	})
	if err != nil {
		s.logger.Warn("checkout session failed",
			zap.Uint("book_id", bookID),
			zap.Uint("customer_id", actor.UserID),
			zap.Error(err))
		return nil, fmt.Errorf("create checkout session: %w: %w", apperrors.ErrProvider, err)
	}
	if strings.TrimSpace(session.Reference) == "" {
		return nil, fmt.Errorf("checkout session without reference: %w", apperrors.ErrProvider)
	}

	payment := &entities.Payment{
		BookID:            book.ID,
		CustomerID:        actor.UserID,
		Amount:            book.Price,
		Currency:          book.Currency,
		ProviderReference: session.Reference,
		CheckoutURL:       session.RedirectURL,
		Status:            entities.PaymentStatusInitiated,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		s.logger.Error("checkout opened but payment not recorded",
			zap.String("reference", session.Reference),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("payment initiated",
		zap.Uint("payment_id", payment.ID),
		zap.String("reference", payment.ProviderReference),
		zap.Int64("amount", payment.Amount),
		zap.String("currency", payment.Currency))
	if s.hooks != nil {
		s.hooks.PaymentInitiated(ctx, payment)
	}

	return &Checkout{
		PaymentID:         payment.ID,
		ProviderReference: payment.ProviderReference,
		RedirectURL:       session.RedirectURL,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
	}, nil
}

// Reconcile applies a provider confirmation to its payment. It is safe to call
// any number of times, concurrently, from any source.
//
// An unknown reference from a webhook is logged as an anomaly and reported as
// apperrors.ErrUnknownReference so the caller can acknowledge it. From any other
// source it is apperrors.ErrNotFound.
func (s *Service) Reconcile(ctx context.Context, c Confirmation) (Result, error) {
	source := string(c.Source)
	if strings.TrimSpace(c.Reference) == "" {
		metrics.RecordReconcile(source, "error")
		return Result{}, apperrors.Invalid("reference", "is required")
	}

	payment, err := s.store.GetPaymentByReference(ctx, c.Reference)
	if errors.Is(err, apperrors.ErrNotFound) {
		return Result{}, s.unmatched(ctx, c, err)
	}
	if err != nil {
		metrics.RecordReconcile(source, "error")
		return Result{}, err
	}

	// A settled payment answers with its stored state whatever the status says.
	target, parseErr := ParseProviderStatus(c.Status)
	if payment.Status.Terminal() {
		if parseErr == nil {
			s.noteRedundant(payment, target, c)
		}
		metrics.RecordReconcile(source, string(OutcomeNoop))
		return Result{Payment: payment, Outcome: OutcomeNoop}, nil
	}
	if parseErr != nil {
		metrics.RecordReconcile(source, "error")
		s.logger.Warn("unrecognised provider status",
			zap.String("reference", c.Reference),
			zap.String("status", c.Status),
			zap.String("source", source))
		return Result{}, parseErr
	}
	if target == entities.PaymentStatusInitiated {
		metrics.RecordReconcile(source, string(OutcomePending))
		return Result{Payment: payment, Outcome: OutcomePending}, nil
	}

	transition := paymentsdb.Transition{
		Reference: c.Reference,
		To:        target,
		At:        s.now().UTC(),
		Source:    c.Source,
	}
	if target == entities.PaymentStatusFailed {
		transition.Reason = strings.ToLower(strings.TrimSpace(c.Status))
	}

	updated, err := s.store.TransitionPayment(ctx, transition)
	if errors.Is(err, apperrors.ErrConflict) {
		// Lost the race to another confirmation; report what it stored.
		current, rerr := s.store.GetPaymentByReference(ctx, c.Reference)
		if rerr != nil {
			metrics.RecordReconcile(source, "error")
			return Result{}, rerr
		}
		s.noteRedundant(current, target, c)
		metrics.RecordReconcile(source, string(OutcomeNoop))
		return Result{Payment: current, Outcome: OutcomeNoop}, nil
	}
	if err != nil {
		metrics.RecordReconcile(source, "error")
		return Result{}, err
	}

	s.logger.Info("payment reconciled",
		zap.Uint("payment_id", updated.ID),
		zap.String("reference", updated.ProviderReference),
		zap.String("status", string(updated.Status)),
		zap.String("source", source),
		zap.String("event_id", c.EventID))
	metrics.RecordReconcile(source, string(OutcomeApplied))
	if s.hooks != nil {
		s.hooks.PaymentTransitioned(ctx, updated)
	}
	return Result{Payment: updated, Outcome: OutcomeApplied}, nil
}

func (s *Service) unmatched(ctx context.Context, c Confirmation, cause error) error {
	metrics.RecordReconcile(string(c.Source), "unknown_reference")
	if c.Source != entities.SourceWebhook {
		return cause
	}

	if s.hooks != nil {
		s.hooks.UnmatchedConfirmation(ctx, c, cause)
	}
	return fmt.Errorf("reference %s: %w", c.Reference, apperrors.ErrUnknownReference)
}

// noteRedundant logs confirmations that disagree with an already settled payment.
func (s *Service) noteRedundant(p *entities.Payment, target entities.PaymentStatus, c Confirmation) {
	if target == entities.PaymentStatusInitiated || target == p.Status {
		return
	}
	s.logger.Warn("confirmation contradicts settled payment",
		zap.Uint("payment_id", p.ID),
		zap.String("stored", string(p.Status)),
		zap.String("incoming", string(target)),
		zap.String("source", string(c.Source)))
}

// GetPayment returns a payment to its owner or a superadmin.
func (s *Service) GetPayment(ctx context.Context, actor access.Actor, id uint) (*entities.Payment, error) {
	if err := s.policy.Require(actor, entities.UserRoleCustomer).Err(); err != nil {
		return nil, err
	}
	payment, err := s.store.GetPaymentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.CustomerID != actor.UserID && !s.policy.Holds(actor, entities.UserRoleSuperAdmin) {
		return nil, fmt.Errorf("payment %d belongs to another customer: %w", id, apperrors.ErrForbidden)
	}
	return payment, nil
}

// ListPayments returns the actor's payments.
func (s *Service) ListPayments(ctx context.Context, actor access.Actor) ([]entities.Payment, error) {
	if err := s.policy.Require(actor, entities.UserRoleCustomer).Err(); err != nil {
		return nil, err
	}
	return s.store.ListByCustomer(ctx, actor.UserID)
}

// ListPurchases returns the actor's access grants.
func (s *Service) ListPurchases(ctx context.Context, actor access.Actor) ([]entities.Purchase, error) {
	if err := s.policy.Require(actor, entities.UserRoleCustomer).Err(); err != nil {
		return nil, err
	}
	return s.store.ListPurchases(ctx, actor.UserID)
}

// HasAccess reports whether actor may download book's files: its uploader, a
// superadmin, or a customer holding a purchase.
func (s *Service) HasAccess(ctx context.Context, actor access.Actor, book *entities.Book) (bool, error) {
	if actor.Anonymous() {
		return false, nil
	}
	if book.UploaderID == actor.UserID || s.policy.Holds(actor, entities.UserRoleSuperAdmin) {
		return true, nil
	}
	if !book.IsPurchasable() {
		return false, nil
	}
	return s.store.HasPurchase(ctx, actor.UserID, book.ID)
}
