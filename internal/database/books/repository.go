// Package books provides database operations for catalog records.
//
// # Usage
//
//	repo := books.NewRepository(db)
//	book, err := repo.GetBookByID(ctx, id)
//	err = repo.UpdateBookStatusIf(ctx, id, entities.BookStatusPending, entities.BookStatusApproved, adminID, time.Now())
package books

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Repository handles all book database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new books repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CatalogFilter narrows the approved catalog listing.
type CatalogFilter struct {
	Category string
	Query    string // Matched against title and author
	Limit    int
	Offset   int
}

// CreateBook inserts a new book record.
func (r *Repository) CreateBook(ctx context.Context, book *entities.Book) error {
	if err := r.db.WithContext(ctx).Create(book).Error; err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

// GetBookByID retrieves a book by its ID.
func (r *Repository) GetBookByID(ctx context.Context, id uint) (*entities.Book, error) {
	var book entities.Book
	err := r.db.WithContext(ctx).First(&book, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("book %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return &book, nil
}

// ListApproved returns the public catalog page and the total number of matches.
func (r *Repository) ListApproved(ctx context.Context, filter CatalogFilter) ([]entities.Book, int64, error) {
	query := r.db.WithContext(ctx).Model(&entities.Book{}).Where("status = ?", entities.BookStatusApproved)
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(author) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count books: %w", err)
	}

	limit, offset := clampPage(filter.Limit, filter.Offset)
	var books []entities.Book
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&books).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list books: %w", err)
	}
	return books, total, nil
}

// ListByStatus returns all books in the given status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status entities.BookStatus) ([]entities.Book, error) {
	var books []entities.Book
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&books).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s books: %w", status, err)
	}
	return books, nil
}

// ListByUploader returns every book submitted by the uploader, newest first.
func (r *Repository) ListByUploader(ctx context.Context, uploaderID uint) ([]entities.Book, error) {
	var books []entities.Book
	err := r.db.WithContext(ctx).Where("uploader_id = ?", uploaderID).Order("created_at DESC").Find(&books).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list uploader books: %w", err)
	}
	return books, nil
}

// UpdateBookStatusIf moves a book from expected to next and records who decided.
// Returns apperrors.ErrConflict when the book is no longer in the expected status.
func (r *Repository) UpdateBookStatusIf(ctx context.Context, id uint, expected, next entities.BookStatus, decidedBy uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.Book{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]any{
			"status":         next,
			"approved_by_id": decidedBy,
			"decided_at":     at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update book status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// IncrementViews bumps the view counter of an approved book.
func (r *Repository) IncrementViews(ctx context.Context, id uint) error {
	return r.increment(ctx, id, "views")
}

// IncrementDownloads bumps the download counter.
func (r *Repository) IncrementDownloads(ctx context.Context, id uint) error {
	return r.increment(ctx, id, "downloads")
}

func (r *Repository) increment(ctx context.Context, id uint, column string) error {
	result := r.db.WithContext(ctx).Model(&entities.Book{}).Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to increment %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("book %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *Repository) missingOrConflict(ctx context.Context, id uint) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.Book{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check book: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("book %d: %w", id, apperrors.ErrNotFound)
	}
	return fmt.Errorf("book %d: %w", id, apperrors.ErrConflict)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
