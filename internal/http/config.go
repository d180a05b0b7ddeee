package http

import (
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/access"
	"github.com/mrlokans/bookshop/internal/auth"
	"github.com/mrlokans/bookshop/internal/circuitbreaker"
	"github.com/mrlokans/bookshop/internal/storage"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	Version string
	Logger  *zap.Logger

	// Ops
	Database       Pinger
	Breaker        *circuitbreaker.CircuitBreaker
	MetricsEnabled bool

	// Authentication. AuthMiddleware is required; the rest enable the
	// browser login flow.
	Policy         *access.Policy
	AuthMiddleware *auth.Middleware
	AuthService    *auth.Service
	SessionManager *auth.SessionManager
	RateLimiter    *auth.RateLimiter
	AuthAuditor    auth.Auditor
	CSRFSecret     []byte
	SecureCookies  bool

	// Workflows
	Catalog  CatalogStore
	Approval ApprovalWorkflow
	Payments PaymentWorkflow
	Webhook  WebhookConfig

	// Object storage
	Uploader      ObjectUploader
	ObjectStore   storage.ObjectStore
	UploadAuditor UploadAuditor
	PresignExpiry time.Duration

	// Superadmin operations (optional)
	AuditReader AuditReader
	Jobs        JobRunner
	Tasks       TaskStatusReader
}
