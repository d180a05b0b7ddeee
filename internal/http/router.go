package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/auth"
	"github.com/mrlokans/bookshop/internal/entities"
	"github.com/mrlokans/bookshop/internal/logging"
	"github.com/mrlokans/bookshop/internal/metrics"
)

const (
	pathPaymentReturn  = "/api/payments/return"
	pathPaymentWebhook = "/api/payments/webhook"
)

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(logging.Middleware(logger))
	router.Use(gin.Recovery())
	if cfg.MetricsEnabled {
		router.Use(metrics.Middleware())
	}

	router.Use(auth.SecurityHeadersMiddleware())
	if cfg.SecureCookies {
		router.Use(auth.StrictTransportSecurityMiddleware())
	}

	// Sessions load before CSRF so the token check sees the session cookie
	// context carried on the request CSRF hands back.
	if cfg.SessionManager != nil {
		router.Use(cfg.SessionManager.LoadAndSave())
	}
	if len(cfg.CSRFSecret) > 0 {
		if !cfg.SecureCookies {
			router.Use(auth.PlaintextHTTP())
		}
		// The webhook is authenticated by its signature and the checkout
		// return is a cross-site navigation from the provider.
		router.Use(auth.CSRFMiddleware(cfg.CSRFSecret, cfg.SecureCookies, pathPaymentReturn, pathPaymentWebhook))
	}
	router.Use(cfg.AuthMiddleware.Authenticate())

	mw := cfg.AuthMiddleware
	requireCustomer := mw.RequireAuth()
	requireAdmin := mw.RequireRole(entities.UserRoleAdmin)
	requireSuperAdmin := mw.RequireRole(entities.UserRoleSuperAdmin)

	health := NewHealthController(cfg.Database, cfg.Breaker, cfg.Version)
	router.GET("/health", health.Status)
	router.GET("/ping", health.Ping)
	if cfg.MetricsEnabled {
		router.GET("/metrics", metrics.Handler())
	}

	api := router.Group("/api")

	if cfg.AuthService != nil {
		authController := auth.NewController(cfg.AuthService, cfg.SessionManager, cfg.RateLimiter, cfg.AuthAuditor, logger)
		authController.RegisterRoutes(api.Group("/auth"), requireCustomer)
	}

	booksController := NewBooksController(cfg.Catalog, cfg.Approval, cfg.Policy, logger)
	api.GET("/books", booksController.ListCatalog)
	api.GET("/books/:id", booksController.GetBook)
	api.POST("/books", requireAdmin, booksController.Submit)

	admin := api.Group("/admin")
	admin.GET("/books/mine", requireAdmin, booksController.ListMine)
	admin.GET("/books/pending", requireSuperAdmin, booksController.ListPending)
	admin.POST("/books/:id/decision", requireSuperAdmin, booksController.Decide)

	adminController := NewAdminController(cfg.AuditReader, cfg.Jobs, cfg.Tasks)
	admin.GET("/audit", requireSuperAdmin, adminController.ListAudit)
	admin.POST("/jobs/:name/run", requireSuperAdmin, adminController.RunJob)
	admin.GET("/tasks/:id", requireSuperAdmin, adminController.TaskStatus)

	paymentsController := NewPaymentsController(cfg.Payments, cfg.Webhook, logger)
	api.POST("/books/:id/payments", requireCustomer, paymentsController.Create)
	router.GET(pathPaymentReturn, paymentsController.Return)
	router.POST(pathPaymentReturn, paymentsController.Return)
	router.POST(pathPaymentWebhook, paymentsController.Webhook)
	api.GET("/payments/:id", requireCustomer, paymentsController.Get)
	api.GET("/me/payments", requireCustomer, paymentsController.ListPayments)
	api.GET("/me/purchases", requireCustomer, paymentsController.ListPurchases)

	if cfg.ObjectStore != nil {
		filesController := NewFilesController(
			cfg.Uploader,
			cfg.ObjectStore,
			cfg.Catalog,
			cfg.Payments,
			cfg.Policy,
			cfg.UploadAuditor,
			cfg.PresignExpiry,
			logger,
		)
		if cfg.Uploader != nil {
			api.POST("/uploads", requireAdmin, filesController.Upload)
		}
		api.GET("/books/:id/files/:format", filesController.Download)
	}

	return router
}
