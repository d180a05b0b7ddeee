package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/approval"
	"github.com/mrlokans/bookshop/internal/auth"
	"github.com/mrlokans/bookshop/internal/database/books"
	"github.com/mrlokans/bookshop/internal/entities"
)

// BookView is a book as returned by the API: its file keys stay private, only
// the available formats are listed.
type BookView struct {
	*entities.Book
	Formats []entities.FileFormat `json:"formats"`
}

func viewOf(b *entities.Book) BookView {
	return BookView{Book: b, Formats: b.Formats()}
}

func viewsOf(list []entities.Book) []BookView {
	views := make([]BookView, len(list))
	for i := range list {
		views[i] = viewOf(&list[i])
	}
	return views
}

// BooksController serves the catalog and the review workflow.
type BooksController struct {
	catalog  CatalogStore
	approval ApprovalWorkflow
	policy   *access.Policy
	logger   *zap.Logger
}

func NewBooksController(catalog CatalogStore, approval ApprovalWorkflow, policy *access.Policy, logger *zap.Logger) *BooksController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BooksController{catalog: catalog, approval: approval, policy: policy, logger: logger}
}

// ListCatalog handles GET /api/books. Only approved books are listed.
func (bc *BooksController) ListCatalog(c *gin.Context) {
	limit, offset := parsePage(c)
	found, total, err := bc.catalog.ListApproved(c.Request.Context(), books.CatalogFilter{
		Category: strings.TrimSpace(c.Query("category")),
		Query:    strings.TrimSpace(c.Query("q")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, paginated(viewsOf(found), total, limit, offset, len(found)))
}

// GetBook handles GET /api/books/:id. Books under review are visible to their
// uploader and superadmins; everyone else gets a 404.
func (bc *BooksController) GetBook(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	book, err := bc.catalog.GetBookByID(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !bc.policy.CanSeeBook(auth.ActorFromContext(c), book) {
		respondErr(c, apperrors.ErrNotFound)
		return
	}

	if book.Status == entities.BookStatusApproved {
		if err := bc.catalog.IncrementViews(c.Request.Context(), book.ID); err != nil {
			bc.logger.Warn("failed to count book view", zap.Uint("book_id", book.ID), zap.Error(err))
		} else {
			book.Views++
		}
	}
	c.JSON(http.StatusOK, viewOf(book))
}

// Submit handles POST /api/books. The book enters the review queue as pending.
func (bc *BooksController) Submit(c *gin.Context) {
	var req approval.NewBook
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperrors.Invalid("body", "must be a JSON book submission"))
		return
	}

	book, err := bc.approval.Submit(c.Request.Context(), auth.ActorFromContext(c), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(book))
}

// ListMine handles GET /api/admin/books/mine.
func (bc *BooksController) ListMine(c *gin.Context) {
	list, err := bc.approval.ListMine(c.Request.Context(), auth.ActorFromContext(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondList(c, viewsOf(list))
}

// ListPending handles GET /api/admin/books/pending, the review queue.
func (bc *BooksController) ListPending(c *gin.Context) {
	list, err := bc.approval.ListPending(c.Request.Context(), auth.ActorFromContext(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondList(c, viewsOf(list))
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

// Decide handles POST /api/admin/books/:id/decision.
func (bc *BooksController) Decide(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, apperrors.Invalid("body", `must be {"decision": "approve"|"reject"}`))
		return
	}
	decision, err := approval.ParseDecision(req.Decision)
	if err != nil {
		respondErr(c, err)
		return
	}

	book, err := bc.approval.Decide(c.Request.Context(), id, auth.ActorFromContext(c), decision)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(book))
}
