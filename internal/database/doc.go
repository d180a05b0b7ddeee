// Package database provides the data access layer for the bookshop.
//
// # Architecture
//
// The database layer is organized into domain-specific sub-packages:
//
//	database/
//	├── database.go      # Connection setup and migrations
//	├── books/           # Catalog records and the approval compare-and-swap
//	├── payments/        # Payments, their guarded transitions and access grants
//	└── audit/           # Audit trail
//
// # Using Sub-packages
//
// Each sub-package provides a Repository type with domain-specific operations:
//
//	db, err := database.NewDatabase("./bookshop.db")
//
//	booksRepo := books.NewRepository(db.DB)
//	paymentsRepo := payments.NewRepository(db.DB)
//
//	book, err := booksRepo.GetBookByID(ctx, 123)
//
// # Guarded Transitions
//
// State changes never overwrite blindly. UpdateBookStatusIf and
// TransitionPayment issue an UPDATE conditioned on the expected prior
// status and return apperrors.ErrConflict when no row matched. The caller
// re-reads and decides whether the conflict is a no-op or an error.
//
// Record lookups translate gorm.ErrRecordNotFound into apperrors.ErrNotFound.
package database
