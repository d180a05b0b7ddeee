package http

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/auth"
	"github.com/mrlokans/bookshop/internal/entities"
	"github.com/mrlokans/bookshop/internal/storage"
)

// FilesController moves covers and book files in and out of object storage.
type FilesController struct {
	uploader      ObjectUploader
	store         storage.ObjectStore
	catalog       CatalogStore
	payments      PaymentWorkflow
	policy        *access.Policy
	audit         UploadAuditor
	presignExpiry time.Duration
	logger        *zap.Logger
}

func NewFilesController(
	uploader ObjectUploader,
	store storage.ObjectStore,
	catalog CatalogStore,
	payments PaymentWorkflow,
	policy *access.Policy,
	audit UploadAuditor,
	presignExpiry time.Duration,
	logger *zap.Logger,
) *FilesController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if presignExpiry <= 0 {
		presignExpiry = 15 * time.Minute
	}
	return &FilesController{
		uploader:      uploader,
		store:         store,
		catalog:       catalog,
		payments:      payments,
		policy:        policy,
		audit:         audit,
		presignExpiry: presignExpiry,
		logger:        logger,
	}
}

// Upload handles POST /api/uploads: multipart form with "kind" (covers or
// files) and "file". The returned key goes into a book submission.
func (fc *FilesController) Upload(c *gin.Context) {
	kind, err := storage.ParseKind(c.PostForm("kind"))
	if err != nil {
		respondErr(c, err)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		respondErr(c, apperrors.Invalid("file", "multipart field is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		respondErr(c, fmt.Errorf("open uploaded file: %w", err))
		return
	}
	defer file.Close()

	upload, err := fc.uploader.Upload(c.Request.Context(), kind, header.Filename, file, header.Size)
	if err != nil {
		respondErr(c, err)
		return
	}

	actor := auth.ActorFromContext(c)
	if fc.audit != nil {
		fc.audit.LogUpload(actor.UserID, upload.Key, upload.Size)
	}
	fc.logger.Info("object uploaded",
		zap.Uint("user_id", actor.UserID),
		zap.String("key", upload.Key),
		zap.Int64("size", upload.Size))
	c.JSON(http.StatusCreated, upload)
}

// Download handles GET /api/books/:id/files/:format. Buyers, the uploader and
// superadmins may download. The client is redirected to a presigned URL when
// the backend supports one, otherwise the file is streamed.
func (fc *FilesController) Download(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	format := entities.FileFormat(c.Param("format"))
	if !format.Valid() {
		respondErr(c, apperrors.Invalid("format", "must be one of pdf, doc, txt"))
		return
	}

	ctx := c.Request.Context()
	actor := auth.ActorFromContext(c)

	book, err := fc.catalog.GetBookByID(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !fc.policy.CanSeeBook(actor, book) {
		respondErr(c, apperrors.ErrNotFound)
		return
	}
	if actor.Anonymous() {
		respondErr(c, fmt.Errorf("download requires sign in: %w", apperrors.ErrUnauthenticated))
		return
	}
	allowed, err := fc.payments.HasAccess(ctx, actor, book)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !allowed {
		respondErr(c, fmt.Errorf("book %d has not been purchased: %w", book.ID, apperrors.ErrForbidden))
		return
	}

	key, ok := book.Files[format]
	if !ok {
		respondErr(c, fmt.Errorf("book %d has no %s file: %w", book.ID, format, apperrors.ErrNotFound))
		return
	}

	if err := fc.catalog.IncrementDownloads(ctx, book.ID); err != nil {
		fc.logger.Warn("failed to count download", zap.Uint("book_id", book.ID), zap.Error(err))
	}

	url, err := fc.store.PresignGet(ctx, key, fc.presignExpiry)
	if err == nil {
		c.Redirect(http.StatusFound, url)
		return
	}
	if !errors.Is(err, storage.ErrPresignNotSupported) {
		respondErr(c, err)
		return
	}

	body, info, err := fc.store.Open(ctx, key)
	if err != nil {
		respondErr(c, err)
		return
	}
	defer body.Close()

	filename := fmt.Sprintf("book-%d%s", book.ID, path.Ext(key))
	c.DataFromReader(http.StatusOK, info.Size, info.ContentType, body, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, filename),
	})
}
