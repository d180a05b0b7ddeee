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
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/checkout"
	"github.com/mrlokans/bookshop/internal/database"
	"github.com/mrlokans/bookshop/internal/database/books"
	paymentsdb "github.com/mrlokans/bookshop/internal/database/payments"
	"github.com/mrlokans/bookshop/internal/entities"
)

var (
	buyer      = access.Actor{UserID: 30, Role: entities.UserRoleCustomer}
	otherBuyer = access.Actor{UserID: 31, Role: entities.UserRoleCustomer}
	superadmin = access.Actor{UserID: 1, Role: entities.UserRoleSuperAdmin}
)

type recordingHooks struct {
	mu           sync.Mutex
	initiated    int
	transitioned []entities.PaymentStatus
	unmatched    []string
}

func (h *recordingHooks) PaymentInitiated(context.Context, *entities.Payment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initiated++
}

func (h *recordingHooks) PaymentTransitioned(_ context.Context, p *entities.Payment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transitioned = append(h.transitioned, p.Status)
}

func (h *recordingHooks) UnmatchedConfirmation(_ context.Context, c Confirmation, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unmatched = append(h.unmatched, c.Reference)
}

type brokenProvider struct{ err error }

func (b brokenProvider) CreateCheckoutSession(context.Context, checkout.Request) (checkout.Session, error) {
	return checkout.Session{}, b.err
}

func (b brokenProvider) SessionStatus(context.Context, string) (string, error) {
	return "", b.err
}

type fixture struct {
	svc     *Service
	db      *gorm.DB
	store   *paymentsdb.Repository
	sandbox *checkout.Sandbox
	hooks   *recordingHooks
}

func setup(t *testing.T, provider checkout.Provider) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "payments.db"), database.Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sandbox := checkout.NewSandbox()
	if provider == nil {
		provider = sandbox
	}
	store := paymentsdb.NewRepository(db.DB)
	hooks := &recordingHooks{}
	svc := NewService(books.NewRepository(db.DB), store, provider, access.NewPolicy(), hooks, zaptest.NewLogger(t), Config{
		ReturnURL:       "http://shop.test/api/payments/return",
		ProviderTimeout: time.Second,
	})
	return &fixture{svc: svc, db: db.DB, store: store, sandbox: sandbox, hooks: hooks}
}

func (f *fixture) book(t *testing.T, status entities.BookStatus) *entities.Book {
	t.Helper()
	b := &entities.Book{
		Title: "Solaris", Description: "Ocean", Category: "SF", Author: "Lem", Publisher: "Faber",
		Price: 1850, Currency: "EUR", CoverImages: []string{"c.jpg"}, UploaderID: 5, Status: status,
	}
	if status != entities.BookStatusPending {
		by := superadmin.UserID
		b.ApprovedByID = &by
	}
	require.NoError(t, f.db.Create(b).Error)
	return b
}

func (f *fixture) paymentCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&entities.Payment{}).Count(&n).Error)
	return n
}

func (f *fixture) purchaseCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&entities.Purchase{}).Count(&n).Error)
	return n
}

func TestCreatePayment_PendingBookIsInvalidState(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusPending)

	_, err := f.svc.CreatePayment(context.Background(), buyer, book.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Zero(t, f.paymentCount(t))
}

func TestCreatePayment_RejectedAndMissingBooks(t *testing.T) {
	f := setup(t, nil)
	rejected := f.book(t, entities.BookStatusRejected)

	_, err := f.svc.CreatePayment(context.Background(), buyer, rejected.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = f.svc.CreatePayment(context.Background(), buyer, 4040)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.CreatePayment(context.Background(), access.Actor{}, rejected.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	assert.Zero(t, f.paymentCount(t))
}

func TestCreatePayment_ProviderFailureLeavesNoPayment(t *testing.T) {
	f := setup(t, brokenProvider{err: &checkout.ServerError{StatusCode: 503}})
	book := f.book(t, entities.BookStatusApproved)

	_, err := f.svc.CreatePayment(context.Background(), buyer, book.ID)
	assert.ErrorIs(t, err, apperrors.ErrProvider)
	assert.Zero(t, f.paymentCount(t))
	assert.Zero(t, f.hooks.initiated)
}

func TestCreatePayment_SnapshotsPrice(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, co.ProviderReference)
	assert.Contains(t, co.RedirectURL, co.ProviderReference)

	require.NoError(t, f.db.Model(&entities.Book{}).Where("id = ?", book.ID).Update("price", 9999).Error)

	p, err := f.store.GetPaymentByReference(ctx, co.ProviderReference)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusInitiated, p.Status)
	assert.Equal(t, int64(1850), p.Amount)
	assert.Equal(t, "EUR", p.Currency)
	assert.Nil(t, p.VerifiedAt)
	assert.Equal(t, 1, f.hooks.initiated)
}

func TestReconcile_WebhookSuccessThenDuplicate(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)

	res, err := f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: "success", Source: entities.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, entities.PaymentStatusVerified, res.Payment.Status)
	require.NotNil(t, res.Payment.VerifiedAt)
	verifiedAt := *res.Payment.VerifiedAt

	ok, err := f.svc.HasAccess(ctx, buyer, book)
	require.NoError(t, err)
	assert.True(t, ok)

	dup, err := f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: "success", Source: entities.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, dup.Outcome)
	assert.Equal(t, entities.PaymentStatusVerified, dup.Payment.Status)
	assert.True(t, verifiedAt.Equal(*dup.Payment.VerifiedAt))

	assert.Equal(t, int64(1), f.purchaseCount(t))
	assert.Equal(t, []entities.PaymentStatus{entities.PaymentStatusVerified}, f.hooks.transitioned)

	var stored entities.Book
	require.NoError(t, f.db.First(&stored, book.ID).Error)
	assert.Equal(t, int64(1), stored.Sales)
}

func TestReconcile_UnknownReference(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.svc.Reconcile(ctx, Confirmation{Reference: "ghost", Status: "success", Source: entities.SourceWebhook})
	assert.ErrorIs(t, err, apperrors.ErrUnknownReference)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, []string{"ghost"}, f.hooks.unmatched)
	assert.Zero(t, f.paymentCount(t))

	_, err = f.svc.Reconcile(ctx, Confirmation{Reference: "ghost", Status: "success", Source: entities.SourceReturnRedirect})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NotErrorIs(t, err, apperrors.ErrUnknownReference)
	assert.Len(t, f.hooks.unmatched, 1, "only webhooks raise the anomaly hook")
}

func TestReconcile_IsIdempotentAcrossSources(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)

	sources := []entities.ConfirmationSource{entities.SourceReturnRedirect, entities.SourceWebhook, entities.SourceWebhook, entities.SourceSweep, entities.SourceReturnRedirect}
	applied := 0
	for _, src := range sources {
		res, err := f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: "paid", Source: src})
		require.NoError(t, err)
		if res.Outcome == OutcomeApplied {
			applied++
		}
		assert.Equal(t, entities.PaymentStatusVerified, res.Payment.Status)
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(1), f.purchaseCount(t))

	p, err := f.store.GetPaymentByReference(ctx, co.ProviderReference)
	require.NoError(t, err)
	assert.Equal(t, entities.SourceReturnRedirect, p.ConfirmedVia)
}

func TestReconcile_FailureIsTerminal(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)

	res, err := f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: "Cancelled", Source: entities.SourceReturnRedirect})
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusFailed, res.Payment.Status)
	assert.Nil(t, res.Payment.VerifiedAt)
	assert.Equal(t, "cancelled", res.Payment.FailureReason)

	late, err := f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: "success", Source: entities.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, late.Outcome)
	assert.Equal(t, entities.PaymentStatusFailed, late.Payment.Status)
	assert.Zero(t, f.purchaseCount(t))

	ok, err := f.svc.HasAccess(ctx, buyer, book)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconcile_PendingLeavesPaymentInitiated(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)

	res, err := f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: "processing", Source: entities.SourceWebhook})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, entities.PaymentStatusInitiated, res.Payment.Status)
	assert.Empty(t, f.hooks.transitioned)
}

func TestReconcile_InvalidInput(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)

	_, err = f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: "refunded?", Source: entities.SourceWebhook})
	assert.ErrorIs(t, err, apperrors.ErrProvider)

	_, err = f.svc.Reconcile(ctx, Confirmation{Reference: "", Status: "success", Source: entities.SourceWebhook})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	p, err := f.store.GetPaymentByReference(ctx, co.ProviderReference)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusInitiated, p.Status)
}

func TestReconcile_ConcurrentConflictingConfirmations(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)

	const callers = 10
	results := make([]Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		status, source := "success", entities.SourceWebhook
		if i%2 == 1 {
			status, source = "failed", entities.SourceReturnRedirect
		}
		wg.Add(1)
		go func(i int, status string, source entities.ConfirmationSource) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: status, Source: source})
		}(i, status, source)
	}
	wg.Wait()

	applied := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Outcome == OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	require.Len(t, f.hooks.transitioned, 1)

	final, err := f.store.GetPaymentByReference(ctx, co.ProviderReference)
	require.NoError(t, err)
	assert.Equal(t, f.hooks.transitioned[0], final.Status)
	for i := range results {
		assert.Equal(t, final.Status, results[i].Payment.Status, "every caller observes the winning state")
	}

	if final.Status == entities.PaymentStatusVerified {
		assert.Equal(t, int64(1), f.purchaseCount(t))
	} else {
		assert.Zero(t, f.purchaseCount(t))
	}
}

func TestGetPayment_Ownership(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)

	p, err := f.svc.GetPayment(ctx, buyer, co.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, co.ProviderReference, p.ProviderReference)

	_, err = f.svc.GetPayment(ctx, otherBuyer, co.PaymentID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.GetPayment(ctx, superadmin, co.PaymentID)
	assert.NoError(t, err)

	list, err := f.svc.ListPayments(ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHasAccess_UploaderAndSuperadmin(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	ok, err := f.svc.HasAccess(ctx, access.Actor{UserID: book.UploaderID, Role: entities.UserRoleAdmin}, book)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.HasAccess(ctx, superadmin, book)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.HasAccess(ctx, access.Actor{}, book)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepStale(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	settled, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)
	waiting, err := f.svc.CreatePayment(ctx, otherBuyer, book.ID)
	require.NoError(t, err)
	fresh, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)

	require.NoError(t, f.sandbox.Complete(settled.ProviderReference, "succeeded"))
	require.NoError(t, f.sandbox.Complete(fresh.ProviderReference, "succeeded"))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, f.db.Model(&entities.Payment{}).
		Where("id IN ?", []uint{settled.PaymentID, waiting.PaymentID}).
		UpdateColumn("created_at", past).Error)

	report, err := f.svc.SweepStale(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 2, Applied: 1, Pending: 1}, report)

	p, err := f.store.GetPaymentByReference(ctx, settled.ProviderReference)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusVerified, p.Status)
	assert.Equal(t, entities.SourceSweep, p.ConfirmedVia)

	p, err = f.store.GetPaymentByReference(ctx, fresh.ProviderReference)
	require.NoError(t, err)
	assert.Equal(t, entities.PaymentStatusInitiated, p.Status, "recent payments are left to the webhook")
}

func TestSweepStale_ProviderErrorsAreCounted(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&entities.Payment{}).Where("id = ?", co.PaymentID).
		UpdateColumn("created_at", time.Now().Add(-time.Hour)).Error)

	f.svc.provider = brokenProvider{err: errors.New("provider down")}
	report, err := f.svc.SweepStale(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 1, Failed: 1}, report)
}

func TestReconcile_SettledPaymentIgnoresMalformedStatus(t *testing.T) {
	f := setup(t, nil)
	book := f.book(t, entities.BookStatusApproved)
	ctx := context.Background()

	co, err := f.svc.CreatePayment(ctx, buyer, book.ID)
	require.NoError(t, err)
	_, err = f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: "paid", Source: entities.SourceWebhook})
	require.NoError(t, err)

	for _, status := range []string{"", "garbled%%"} {
		res, err := f.svc.Reconcile(ctx, Confirmation{Reference: co.ProviderReference, Status: status, Source: entities.SourceReturnRedirect})
		require.NoError(t, err, "status %q", status)
		assert.Equal(t, OutcomeNoop, res.Outcome)
		assert.Equal(t, entities.PaymentStatusVerified, res.Payment.Status)
	}
	assert.Equal(t, int64(1), f.purchaseCount(t))
	assert.Len(t, f.hooks.transitioned, 1)
}

func TestReconcile_UnknownReferenceWithMalformedStatus(t *testing.T) {
	f := setup(t, nil)

	_, err := f.svc.Reconcile(context.Background(), Confirmation{Reference: "ghost", Status: "garbage", Source: entities.SourceWebhook})
	assert.ErrorIs(t, err, apperrors.ErrUnknownReference)
	assert.NotErrorIs(t, err, apperrors.ErrProvider)
	assert.Equal(t, []string{"ghost"}, f.hooks.unmatched)
}

func TestReconcile_UnknownReferenceLeavesLoggingToHooks(t *testing.T) {
	f := setup(t, nil)
	core, logs := observer.New(zap.DebugLevel)
	f.svc.logger = zap.New(core)

	_, err := f.svc.Reconcile(context.Background(), Confirmation{Reference: "ghost", Status: "paid", Source: entities.SourceWebhook})
	require.ErrorIs(t, err, apperrors.ErrUnknownReference)
	assert.Equal(t, []string{"ghost"}, f.hooks.unmatched)
	assert.Zero(t, logs.FilterField(zap.String("reference", "ghost")).Len())
}
