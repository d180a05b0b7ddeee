// Package payments provides database operations for payments and the
// purchase grants they produce.
//
// # Usage
//
//	repo := payments.NewRepository(db)
//	payment, err := repo.TransitionPayment(ctx, payments.Transition{
//		Reference: ref,
//		To:        entities.PaymentStatusVerified,
//		At:        time.Now(),
//		Source:    entities.SourceWebhook,
//	})
//
// TransitionPayment is the only way a payment leaves the initiated state. It
// returns apperrors.ErrConflict when another writer got there first.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

// Repository handles payment and purchase database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new payments repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Transition describes a move out of the initiated state.
type Transition struct {
	Reference string
	To        entities.PaymentStatus
	At        time.Time
	Source    entities.ConfirmationSource
	Reason    string // Failure reason, ignored for verified
}

// CreatePayment inserts a new payment record.
func (r *Repository) CreatePayment(ctx context.Context, payment *entities.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPaymentByID retrieves a payment by its ID.
func (r *Repository) GetPaymentByID(ctx context.Context, id uint) (*entities.Payment, error) {
	var payment entities.Payment
	if err := r.db.WithContext(ctx).First(&payment, id).Error; err != nil {
		return nil, notFound(err, fmt.Sprintf("payment %d", id))
	}
	return &payment, nil
}

// GetPaymentByReference retrieves a payment by its provider reference.
func (r *Repository) GetPaymentByReference(ctx context.Context, reference string) (*entities.Payment, error) {
	var payment entities.Payment
	err := r.db.WithContext(ctx).Where("provider_reference = ?", reference).First(&payment).Error
	if err != nil {
		return nil, notFound(err, "payment "+reference)
	}
	return &payment, nil
}

// ListByCustomer returns a customer's payments, newest first.
func (r *Repository) ListByCustomer(ctx context.Context, customerID uint) ([]entities.Payment, error) {
	var list []entities.Payment
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).Order("created_at DESC").Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return list, nil
}

// ListStaleInitiated returns up to limit payments still initiated and created
// before olderThan, oldest first.
func (r *Repository) ListStaleInitiated(ctx context.Context, olderThan time.Time, limit int) ([]entities.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []entities.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", entities.PaymentStatusInitiated, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	return list, nil
}

// TransitionPayment applies t to the payment if, and only if, it is still
// initiated. A transition to verified grants the purchase and counts the
// sale in the same transaction.
//
// Returns apperrors.ErrConflict when the payment is already terminal and
// apperrors.ErrNotFound when the reference is unknown.
func (r *Repository) TransitionPayment(ctx context.Context, t Transition) (*entities.Payment, error) {
	if !t.To.Terminal() {
		return nil, fmt.Errorf("transition to %q: %w", t.To, apperrors.ErrInvalidState)
	}

	var payment entities.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":        t.To,
			"confirmed_via": t.Source,
		}
		if t.To == entities.PaymentStatusVerified {
			updates["verified_at"] = t.At
		} else {
			updates["failed_at"] = t.At
			updates["failure_reason"] = t.Reason
		}

		result := tx.Model(&entities.Payment{}).
			Where("provider_reference = ? AND status = ?", t.Reference, entities.PaymentStatusInitiated).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update payment: %w", result.Error)
		}

		if err := tx.Where("provider_reference = ?", t.Reference).First(&payment).Error; err != nil {
			return notFound(err, "payment "+t.Reference)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("payment %s is %s: %w", t.Reference, payment.Status, apperrors.ErrConflict)
		}

		if t.To != entities.PaymentStatusVerified {
			return nil
		}

		grant := &entities.Purchase{
			CustomerID: payment.CustomerID,
			BookID:     payment.BookID,
			PaymentID:  payment.ID,
			GrantedAt:  t.At,
		}
		if err := tx.Create(grant).Error; err != nil {
			return fmt.Errorf("failed to grant purchase: %w", err)
		}
		err := tx.Model(&entities.Book{}).Where("id = ?", payment.BookID).
			UpdateColumn("sales", gorm.Expr("sales + 1")).Error
		if err != nil {
			return fmt.Errorf("failed to count sale: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// HasPurchase reports whether the customer holds an access grant for the book.
func (r *Repository) HasPurchase(ctx context.Context, customerID, bookID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Purchase{}).
		Where("customer_id = ? AND book_id = ?", customerID, bookID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check purchase: %w", err)
	}
	return count > 0, nil
}

// ListPurchases returns a customer's grants with their books, newest first.
func (r *Repository) ListPurchases(ctx context.Context, customerID uint) ([]entities.Purchase, error) {
	var list []entities.Purchase
	err := r.db.WithContext(ctx).Preload("Book").
		Where("customer_id = ?", customerID).
		Order("granted_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return list, nil
}

// CountPurchasesForPayment returns how many grants reference the payment.
func (r *Repository) CountPurchasesForPayment(ctx context.Context, paymentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Purchase{}).Where("payment_id = ?", paymentID).Count(&count).Error
	return count, err
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
