package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/approval"
	"github.com/mrlokans/bookshop/internal/audit"
	"github.com/mrlokans/bookshop/internal/auth"
	"github.com/mrlokans/bookshop/internal/checkout"
	"github.com/mrlokans/bookshop/internal/config"
	"github.com/mrlokans/bookshop/internal/database"
	dbaudit "github.com/mrlokans/bookshop/internal/database/audit"
	"github.com/mrlokans/bookshop/internal/database/books"
	dbpayments "github.com/mrlokans/bookshop/internal/database/payments"
	"github.com/mrlokans/bookshop/internal/entities"
	"github.com/mrlokans/bookshop/internal/events"
	"github.com/mrlokans/bookshop/internal/notify"
	"github.com/mrlokans/bookshop/internal/payments"
	"github.com/mrlokans/bookshop/internal/storage"
)

const (
	testPassword      = "correct horse battery"
	testWebhookSecret = "whsec_test_secret"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	pdfBytes = []byte("%PDF-1.4\n% test book\n1 0 obj << >> endobj\ntrailer << >>\n%%EOF\n")
)

type testEnv struct {
	t        *testing.T
	router   *gin.Engine
	db       *database.Database
	sandbox  *checkout.Sandbox
	payments *dbpayments.Repository
	books    *books.Repository
	audit    *audit.Service

	superadmin string
	uploader   string
	customer   string
	other      string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "bookshop.db"), database.Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := zap.NewNop()
	policy := access.NewPolicy()

	auditService := audit.NewService(dbaudit.NewRepository(db.DB), log)
	t.Cleanup(auditService.Wait)
	dispatcher := notify.NewDispatcher(auditService, notify.Inline{Publisher: events.NewLogPublisher(log)}, log)

	store, err := storage.NewDiskStore(filepath.Join(dir, "objects"))
	require.NoError(t, err)

	bookRepo := books.NewRepository(db.DB)
	paymentRepo := dbpayments.NewRepository(db.DB)
	sandbox := checkout.NewSandbox()

	approvalService := approval.NewService(bookRepo, policy, dispatcher, log, "USD", approval.WithObjectChecker(store))
	paymentService := payments.NewService(bookRepo, paymentRepo, sandbox, policy, dispatcher, log, payments.Config{
		ReturnURL: "http://localhost/api/payments/return",
	})

	authCfg := config.Auth{
		SessionLifetime:  time.Hour,
		TokenExpiry:      time.Hour,
		BcryptCost:       bcrypt.MinCost,
		MaxLoginAttempts: 5,
		RateLimitWindow:  time.Minute,
		LockoutDuration:  time.Minute,
	}
	authService := auth.NewService(db.DB, authCfg, log)

	router := NewRouter(RouterConfig{
		Version:        "test",
		Logger:         log,
		Database:       db,
		Policy:         policy,
		AuthMiddleware: auth.NewMiddleware(authService, nil, policy, log),
		AuthService:    authService,
		AuthAuditor:    auditService,
		Catalog:        bookRepo,
		Approval:       approvalService,
		Payments:       paymentService,
		Webhook:        WebhookConfig{Secret: []byte(testWebhookSecret), Tolerance: 5 * time.Minute},
		Uploader:       storage.NewUploader(store, 1<<20),
		ObjectStore:    store,
		UploadAuditor:  auditService,
		AuditReader:    auditService,
	})

	env := &testEnv{
		t:        t,
		router:   router,
		db:       db,
		sandbox:  sandbox,
		payments: paymentRepo,
		books:    bookRepo,
		audit:    auditService,
	}
	env.superadmin = env.tokenFor(authService, "root", entities.UserRoleSuperAdmin)
	env.uploader = env.tokenFor(authService, "uploader", entities.UserRoleAdmin)
	env.customer = env.tokenFor(authService, "reader", entities.UserRoleCustomer)
	env.other = env.tokenFor(authService, "someone", entities.UserRoleCustomer)
	return env
}

func (e *testEnv) tokenFor(svc *auth.Service, username string, role entities.UserRole) string {
	e.t.Helper()
	ctx := context.Background()
	user, err := svc.CreateUser(ctx, auth.NewUser{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
		Role:     role,
	})
	require.NoError(e.t, err)
	token, err := svc.GenerateToken(ctx, user.ID)
	require.NoError(e.t, err)
	return token
}

// request sends payload as JSON (or raw bytes) with an optional bearer token.
func (e *testEnv) request(method, path, token string, payload any) *httptest.ResponseRecorder {
	e.t.Helper()
	var body io.Reader
	switch p := payload.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(p)
	default:
		raw, err := json.Marshal(p)
		require.NoError(e.t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(token, kind, filename string, content []byte) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(e.t, mw.WriteField("kind", kind))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(e.t, err)
	_, err = part.Write(content)
	require.NoError(e.t, err)
	require.NoError(e.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) webhook(body []byte, signature string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(payments.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) signedWebhook(body []byte) *httptest.ResponseRecorder {
	return e.webhook(body, payments.Sign([]byte(testWebhookSecret), body, time.Now()))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// submitBook uploads a cover and a pdf as the uploader and submits a book
// referencing them.
func (e *testEnv) submitBook(title string, price int64) BookViewResponse {
	e.t.Helper()
	cover := e.upload(e.uploader, "cover", "cover.png", pngBytes)
	require.Equal(e.t, http.StatusCreated, cover.Code, cover.Body.String())
	file := e.upload(e.uploader, "file", "book.pdf", pdfBytes)
	require.Equal(e.t, http.StatusCreated, file.Code, file.Body.String())

	w := e.request(http.MethodPost, "/api/books", e.uploader, approval.NewBook{
		Title:       title,
		Description: "A book about " + title,
		Category:    "fiction",
		Author:      "A. Writer",
		Publisher:   "Press",
		Price:       price,
		CoverImages: []string{decode[storage.Upload](e.t, cover).Key},
		Files:       map[string]string{"pdf": decode[storage.Upload](e.t, file).Key},
	})
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[BookViewResponse](e.t, w)
}

func (e *testEnv) decide(bookID uint, decision string) *httptest.ResponseRecorder {
	return e.request(http.MethodPost, "/api/admin/books/"+itoa(bookID)+"/decision", e.superadmin, map[string]string{"decision": decision})
}

func (e *testEnv) approvedBook(title string, price int64) BookViewResponse {
	e.t.Helper()
	book := e.submitBook(title, price)
	w := e.decide(book.ID, "approve")
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	return decode[BookViewResponse](e.t, w)
}

// BookViewResponse mirrors BookView for decoding.
type BookViewResponse struct {
	entities.Book
	Formats []entities.FileFormat `json:"formats"`
}

type errorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Fields []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"fields"`
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func decodeBody(w *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(w.Body.Bytes(), v)
}
