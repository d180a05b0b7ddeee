package auth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

// Auditor records authentication outcomes.
type Auditor interface {
	LogAuth(userID uint, action string, success bool)
}

// Controller serves the /api/auth endpoints.
type Controller struct {
	service  *Service
	sessions *SessionManager
	limiter  *RateLimiter
	audit    Auditor
	logger   *zap.Logger
}

func NewController(service *Service, sessions *SessionManager, limiter *RateLimiter, audit Auditor, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{service: service, sessions: sessions, limiter: limiter, audit: audit, logger: logger}
}

// RegisterRoutes mounts the auth endpoints. requireAuth guards the token and
// identity endpoints.
func (ac *Controller) RegisterRoutes(group *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	group.GET("/csrf", ac.CSRFToken)
	group.POST("/register", ac.Register)
	group.POST("/login", ac.Login)
	group.POST("/logout", ac.Logout)
	group.GET("/me", requireAuth, ac.Me)
	group.POST("/token", requireAuth, ac.GenerateToken)
	group.DELETE("/token", requireAuth, ac.RevokeToken)
}

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// CSRFToken hands browser clients the token to echo in X-CSRF-Token.
func (ac *Controller) CSRFToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"csrf_token": GetCSRFToken(c), "header": CSRFTokenHeader})
}

// Register creates a customer account and signs it in. Admin accounts are
// provisioned out of band.
func (ac *Controller) Register(c *gin.Context) {
	var req NewUser
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, apperrors.Invalid("body", "must be a JSON object with username, email and password"))
		return
	}
	req.Role = entities.UserRoleCustomer

	user, err := ac.service.CreateUser(c.Request.Context(), req)
	if err != nil {
		abort(c, err)
		return
	}
	ac.logAuth(user.ID, "register", true)

	if ac.sessions != nil {
		if err := ac.sessions.CreateSession(c.Request.Context(), user); err != nil {
			ac.logger.Error("failed to create session", zap.Uint("user_id", user.ID), zap.Error(err))
		}
	}
	c.JSON(http.StatusCreated, user)
}

func (ac *Controller) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Login == "" || req.Password == "" {
		abort(c, apperrors.Invalid("body", "login and password are required"))
		return
	}
	ip := c.ClientIP()

	if ac.limiter != nil {
		if err := ac.limiter.Check(ip, req.Login); err != nil {
			var limited *LimitedError
			if errors.As(err, &limited) {
				c.Header("Retry-After", formatSeconds(limited))
			}
			abort(c, err)
			return
		}
	}

	user, err := ac.service.Authenticate(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		if ac.limiter != nil && errors.Is(err, apperrors.ErrUnauthenticated) {
			ac.limiter.Failure(ip, req.Login)
		}
		ac.logAuth(0, "login", false)
		abort(c, err)
		return
	}
	if ac.limiter != nil {
		ac.limiter.Success(ip, req.Login)
	}

	if ac.sessions != nil {
		if err := ac.sessions.CreateSession(c.Request.Context(), user); err != nil {
			abort(c, err)
			return
		}
	}
	ac.logAuth(user.ID, "login", true)
	c.JSON(http.StatusOK, user)
}

func (ac *Controller) Logout(c *gin.Context) {
	actor := ActorFromContext(c)
	if ac.sessions != nil {
		if err := ac.sessions.DestroySession(c.Request.Context()); err != nil {
			abort(c, err)
			return
		}
	}
	if !actor.Anonymous() {
		ac.logAuth(actor.UserID, "logout", true)
	}
	c.Status(http.StatusNoContent)
}

func (ac *Controller) Me(c *gin.Context) {
	user, err := ac.service.GetUserByID(c.Request.Context(), ActorFromContext(c).UserID)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "auth_type": GetAuthType(c)})
}

// GenerateToken issues a bearer token for API clients, replacing any previous one.
func (ac *Controller) GenerateToken(c *gin.Context) {
	userID := ActorFromContext(c).UserID
	token, err := ac.service.GenerateToken(c.Request.Context(), userID)
	if err != nil {
		abort(c, err)
		return
	}
	ac.logAuth(userID, "token_generate", true)
	c.JSON(http.StatusCreated, gin.H{
		"token":   token,
		"message": "store this token securely, it will not be shown again",
	})
}

func (ac *Controller) RevokeToken(c *gin.Context) {
	userID := ActorFromContext(c).UserID
	if err := ac.service.RevokeToken(c.Request.Context(), userID); err != nil {
		abort(c, err)
		return
	}
	ac.logAuth(userID, "token_revoke", true)
	c.Status(http.StatusNoContent)
}

func (ac *Controller) logAuth(userID uint, action string, success bool) {
	if ac.audit != nil {
		ac.audit.LogAuth(userID, action, success)
	}
}

func formatSeconds(e *LimitedError) string {
	secs := int(e.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
