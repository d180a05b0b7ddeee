package http

import (
	"context"
	"io"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/approval"
	"github.com/mrlokans/bookshop/internal/database/books"
	"github.com/mrlokans/bookshop/internal/entities"
	"github.com/mrlokans/bookshop/internal/payments"
	"github.com/mrlokans/bookshop/internal/storage"
)

// Each controller depends on the narrow slice of behaviour it uses. The
// concrete implementations live in the workflow and repository packages.

// CatalogStore reads the catalog and bumps its counters.
type CatalogStore interface {
	GetBookByID(ctx context.Context, id uint) (*entities.Book, error)
	ListApproved(ctx context.Context, filter books.CatalogFilter) ([]entities.Book, int64, error)
	IncrementViews(ctx context.Context, id uint) error
	IncrementDownloads(ctx context.Context, id uint) error
}

// ApprovalWorkflow submits and decides books.
type ApprovalWorkflow interface {
	Submit(ctx context.Context, actor access.Actor, nb approval.NewBook) (*entities.Book, error)
	Decide(ctx context.Context, bookID uint, actor access.Actor, decision approval.Decision) (*entities.Book, error)
	ListPending(ctx context.Context, actor access.Actor) ([]entities.Book, error)
	ListMine(ctx context.Context, actor access.Actor) ([]entities.Book, error)
}

// PaymentWorkflow creates and reconciles payments.
type PaymentWorkflow interface {
	CreatePayment(ctx context.Context, actor access.Actor, bookID uint) (*payments.Checkout, error)
	Reconcile(ctx context.Context, c payments.Confirmation) (payments.Result, error)
	GetPayment(ctx context.Context, actor access.Actor, id uint) (*entities.Payment, error)
	ListPayments(ctx context.Context, actor access.Actor) ([]entities.Payment, error)
	ListPurchases(ctx context.Context, actor access.Actor) ([]entities.Purchase, error)
	HasAccess(ctx context.Context, actor access.Actor, book *entities.Book) (bool, error)
}

// ObjectUploader stores uploaded covers and files.
type ObjectUploader interface {
	Upload(ctx context.Context, kind storage.Kind, filename string, r io.Reader, size int64) (*storage.Upload, error)
}

// UploadAuditor records uploads.
type UploadAuditor interface {
	LogUpload(userID uint, key string, size int64)
}

// JobRunner triggers scheduled jobs on demand.
type JobRunner interface {
	RunNow(name string) error
}
