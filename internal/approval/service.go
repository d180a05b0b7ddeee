// Package approval gates a book's visibility on review by a superadmin.
//
// A book is created pending. A superadmin decides once, approving or
// rejecting it, and the decision is final:
//
//	pending --approve--> approved
//	pending --reject---> rejected
//
// The decider's id is recorded with either outcome. Only approved books are
// listed in the catalog or can be purchased.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

// Decision is the superadmin's verdict on a pending book.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts approve/approved and reject/rejected, case-insensitively.
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approve", "approved":
		return DecisionApprove, nil
	case "reject", "rejected":
		return DecisionReject, nil
	}
	return "", apperrors.Invalid("decision", "must be approve or reject")
}

func (d Decision) target() entities.BookStatus {
	if d == DecisionApprove {
		return entities.BookStatusApproved
	}
	return entities.BookStatusRejected
}

// Store is the book persistence the workflow needs.
type Store interface {
	CreateBook(ctx context.Context, book *entities.Book) error
	GetBookByID(ctx context.Context, id uint) (*entities.Book, error)
	UpdateBookStatusIf(ctx context.Context, id uint, expected, next entities.BookStatus, decidedBy uint, at time.Time) error
	ListByStatus(ctx context.Context, status entities.BookStatus) ([]entities.Book, error)
	ListByUploader(ctx context.Context, uploaderID uint) ([]entities.Book, error)
}

// ObjectChecker verifies that referenced storage keys exist.
type ObjectChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Hooks receive committed approval events. Implementations must not fail the
// workflow; they run after the state change is durable.
type Hooks interface {
	BookSubmitted(ctx context.Context, book *entities.Book)
	BookDecided(ctx context.Context, book *entities.Book, decider access.Actor)
}

// Service runs the approval workflow.
type Service struct {
	store           Store
	policy          *access.Policy
	hooks           Hooks
	objects         ObjectChecker
	logger          *zap.Logger
	defaultCurrency string
	now             func() time.Time
}

// Option configures optional collaborators.
type Option func(*Service)

// WithObjectChecker makes Submit reject keys missing from object storage.
func WithObjectChecker(oc ObjectChecker) Option {
	return func(s *Service) { s.objects = oc }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, policy *access.Policy, hooks Hooks, logger *zap.Logger, defaultCurrency string, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:           store,
		policy:          policy,
		hooks:           hooks,
		logger:          logger,
		defaultCurrency: defaultCurrency,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates nb and creates it as a pending book owned by actor.
func (s *Service) Submit(ctx context.Context, actor access.Actor, nb NewBook) (*entities.Book, error) {
	if err := s.policy.Require(actor, entities.UserRoleAdmin).Err(); err != nil {
		return nil, err
	}
	if err := Validate(nb); err != nil {
		return nil, err
	}
	if err := s.checkObjects(ctx, nb); err != nil {
		return nil, err
	}

	book := toEntity(nb, actor.UserID, s.defaultCurrency)
	if err := s.store.CreateBook(ctx, book); err != nil {
		return nil, err
	}

	s.logger.Info("book submitted for review",
		zap.Uint("book_id", book.ID),
		zap.Uint("uploader_id", actor.UserID))
	if s.hooks != nil {
		s.hooks.BookSubmitted(ctx, book)
	}
	return book, nil
}

// Decide applies a superadmin's decision to a pending book.
//
// Errors: ErrForbidden for non-superadmins, ErrNotFound for unknown books,
// ErrInvalidState when the book was already decided (including by a
// concurrent decision that won the race).
func (s *Service) Decide(ctx context.Context, bookID uint, actor access.Actor, decision Decision) (*entities.Book, error) {
	if err := s.policy.Require(actor, entities.UserRoleSuperAdmin).Err(); err != nil {
		return nil, err
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, apperrors.Invalid("decision", "must be approve or reject")
	}

	book, err := s.store.GetBookByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.Status != entities.BookStatusPending {
		return nil, fmt.Errorf("book %d is already %s: %w", bookID, book.Status, apperrors.ErrInvalidState)
	}

	at := s.now().UTC()
	next := decision.target()
	err = s.store.UpdateBookStatusIf(ctx, bookID, entities.BookStatusPending, next, actor.UserID, at)
	if errors.Is(err, apperrors.ErrConflict) {
		return nil, fmt.Errorf("book %d was decided concurrently: %w", bookID, apperrors.ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}

	deciderID := actor.UserID
	book.Status = next
	book.ApprovedByID = &deciderID
	book.DecidedAt = &at

	s.logger.Info("book decided",
		zap.Uint("book_id", bookID),
		zap.String("status", string(next)),
		zap.Uint("decided_by", deciderID))
	if s.hooks != nil {
		s.hooks.BookDecided(ctx, book, actor)
	}
	return book, nil
}

// ListPending returns the review queue, oldest submission first.
func (s *Service) ListPending(ctx context.Context, actor access.Actor) ([]entities.Book, error) {
	if err := s.policy.Require(actor, entities.UserRoleSuperAdmin).Err(); err != nil {
		return nil, err
	}
	return s.store.ListByStatus(ctx, entities.BookStatusPending)
}

// ListMine returns every book the uploader submitted, whatever its status.
func (s *Service) ListMine(ctx context.Context, actor access.Actor) ([]entities.Book, error) {
	if err := s.policy.Require(actor, entities.UserRoleAdmin).Err(); err != nil {
		return nil, err
	}
	return s.store.ListByUploader(ctx, actor.UserID)
}

func (s *Service) checkObjects(ctx context.Context, nb NewBook) error {
	if s.objects == nil {
		return nil
	}
	verr := &apperrors.ValidationError{}
	check := func(field, key string) error {
		ok, err := s.objects.Exists(ctx, strings.TrimSpace(key))
		if err != nil {
			return fmt.Errorf("failed to check object %s: %w", key, err)
		}
		if !ok {
			verr.Add(field, "object "+key+" does not exist")
		}
		return nil
	}
	for _, key := range nb.CoverImages {
		if err := check("cover_images", key); err != nil {
			return err
		}
	}
	for _, key := range nb.Files {
		if err := check("files", key); err != nil {
			return err
		}
	}
	return verr.OrNil()
}
