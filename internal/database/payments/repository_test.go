package payments

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/database"
	"github.com/mrlokans/bookshop/internal/entities"
)

func setupTestDB(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "payments.db"), database.Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.DB), db.DB
}

func seedPayment(t *testing.T, repo *Repository, db *gorm.DB, ref string) *entities.Payment {
	t.Helper()
	book := &entities.Book{
		Title: "Dune", Description: "d", Category: "c", Author: "a", Publisher: "p",
		Price: 1500, Currency: "USD", CoverImages: []string{"c.jpg"}, UploaderID: 2,
		Status: entities.BookStatusApproved,
	}
	require.NoError(t, db.Create(book).Error)

	payment := &entities.Payment{
		BookID:            book.ID,
		CustomerID:        9,
		Amount:            book.Price,
		Currency:          book.Currency,
		ProviderReference: ref,
		Status:            entities.PaymentStatusInitiated,
	}
	require.NoError(t, repo.CreatePayment(context.Background(), payment))
	return payment
}

func TestRepository_TransitionPayment_Verified(t *testing.T) {
	repo, db := setupTestDB(t)
	ctx := context.Background()
	p := seedPayment(t, repo, db, "ref_1")

	at := time.Now().UTC()
	got, err := repo.TransitionPayment(ctx, Transition{
		Reference: "ref_1", To: entities.PaymentStatusVerified, At: at, Source: entities.SourceWebhook,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusVerified, got.Status)
	require.NotNil(t, got.VerifiedAt)
	assert.Equal(t, entities.SourceWebhook, got.ConfirmedVia)

	owned, err := repo.HasPurchase(ctx, p.CustomerID, p.BookID)
	require.NoError(t, err)
	assert.True(t, owned)

	var book entities.Book
	require.NoError(t, db.First(&book, p.BookID).Error)
	assert.Equal(t, int64(1), book.Sales)

	t.Run("repeat is a conflict and grants nothing", func(t *testing.T) {
		_, err := repo.TransitionPayment(ctx, Transition{
			Reference: "ref_1", To: entities.PaymentStatusVerified, At: time.Now(), Source: entities.SourceReturnRedirect,
		})
		assert.ErrorIs(t, err, apperrors.ErrConflict)

		count, err := repo.CountPurchasesForPayment(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		stored, err := repo.GetPaymentByReference(ctx, "ref_1")
		require.NoError(t, err)
		assert.Equal(t, entities.SourceWebhook, stored.ConfirmedVia)
	})
}

func TestRepository_TransitionPayment_Failed(t *testing.T) {
	repo, db := setupTestDB(t)
	ctx := context.Background()
	p := seedPayment(t, repo, db, "ref_2")

	got, err := repo.TransitionPayment(ctx, Transition{
		Reference: "ref_2", To: entities.PaymentStatusFailed, At: time.Now(), Source: entities.SourceReturnRedirect, Reason: "declined",
	})
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusFailed, got.Status)
	assert.Nil(t, got.VerifiedAt)
	assert.Equal(t, "declined", got.FailureReason)

	owned, err := repo.HasPurchase(ctx, p.CustomerID, p.BookID)
	require.NoError(t, err)
	assert.False(t, owned)

	_, err = repo.TransitionPayment(ctx, Transition{
		Reference: "ref_2", To: entities.PaymentStatusVerified, At: time.Now(), Source: entities.SourceWebhook,
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestRepository_TransitionPayment_UnknownReference(t *testing.T) {
	repo, _ := setupTestDB(t)
	_, err := repo.TransitionPayment(context.Background(), Transition{
		Reference: "nope", To: entities.PaymentStatusVerified, At: time.Now(), Source: entities.SourceWebhook,
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRepository_TransitionPayment_RejectsNonTerminalTarget(t *testing.T) {
	repo, db := setupTestDB(t)
	seedPayment(t, repo, db, "ref_3")
	_, err := repo.TransitionPayment(context.Background(), Transition{
		Reference: "ref_3", To: entities.PaymentStatusInitiated, At: time.Now(),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestRepository_TransitionPayment_ConcurrentConflictingOutcomes(t *testing.T) {
	repo, db := setupTestDB(t)
	ctx := context.Background()
	p := seedPayment(t, repo, db, "ref_race")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		applied   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		to := entities.PaymentStatusVerified
		if i%2 == 1 {
			to = entities.PaymentStatusFailed
		}
		wg.Add(1)
		go func(to entities.PaymentStatus) {
			defer wg.Done()
			_, err := repo.TransitionPayment(ctx, Transition{
				Reference: "ref_race", To: to, At: time.Now(), Source: entities.SourceWebhook,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, apperrors.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(to)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, workers-1, conflicts)

	stored, err := repo.GetPaymentByReference(ctx, "ref_race")
	require.NoError(t, err)
	assert.True(t, stored.Status.Terminal())

	count, err := repo.CountPurchasesForPayment(ctx, p.ID)
	require.NoError(t, err)
	if stored.Status == entities.PaymentStatusVerified {
		assert.Equal(t, int64(1), count)
		assert.NotNil(t, stored.VerifiedAt)
	} else {
		assert.Zero(t, count)
		assert.Nil(t, stored.VerifiedAt)
	}
}

func TestRepository_ListStaleInitiated(t *testing.T) {
	repo, db := setupTestDB(t)
	ctx := context.Background()
	old := seedPayment(t, repo, db, "ref_old")
	seedPayment(t, repo, db, "ref_new")

	require.NoError(t, db.Model(&entities.Payment{}).Where("id = ?", old.ID).
		UpdateColumn("created_at", time.Now().Add(-time.Hour)).Error)

	stale, err := repo.ListStaleInitiated(ctx, time.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "ref_old", stale[0].ProviderReference)
}

func TestRepository_ListPurchases(t *testing.T) {
	repo, db := setupTestDB(t)
	ctx := context.Background()
	p := seedPayment(t, repo, db, "ref_list")

	_, err := repo.TransitionPayment(ctx, Transition{
		Reference: "ref_list", To: entities.PaymentStatusVerified, At: time.Now(), Source: entities.SourceReturnRedirect,
	})
	require.NoError(t, err)

	list, err := repo.ListPurchases(ctx, p.CustomerID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Book)
	assert.Equal(t, "Dune", list[0].Book.Title)
}
