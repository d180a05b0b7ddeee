package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/csrf"

	"github.com/mrlokans/bookshop/internal/apperrors"
)

// CSRFTokenHeader carries the token on state-changing browser requests.
const CSRFTokenHeader = "X-CSRF-Token"

const contextKeyCSRFToken = "csrf_token"

// CSRFMiddleware protects cookie-authenticated requests. Bearer requests and
// the exempt paths skip the check: the payment webhook is authenticated by
// its signature and the checkout return arrives from the provider's site.
func CSRFMiddleware(secret []byte, secure bool, exempt ...string) gin.HandlerFunc {
	protect := csrf.Protect(
		secret,
		csrf.Secure(secure),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.Path("/"),
		csrf.RequestHeader(CSRFTokenHeader),
		csrf.ErrorHandler(http.HandlerFunc(csrfErrorHandler)),
	)
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.FullPath()] {
			c.Next()
			return
		}
		if _, ok := bearerToken(c); ok {
			c.Next()
			return
		}

		passed := false
		handler := protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Set(contextKeyCSRFToken, csrf.Token(r))
			c.Request = r
			c.Next()
		}))
		handler.ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}

// PlaintextHTTP marks a request as served over plain HTTP so the origin check
// does not demand TLS. Used in development and tests.
func PlaintextHTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = csrf.PlaintextHTTPRequest(c.Request)
		c.Next()
	}
}

func csrfErrorHandler(w http.ResponseWriter, r *http.Request) {
	reason := "CSRF token invalid or missing"
	if err := csrf.FailureReason(r); err != nil {
		reason = strings.TrimPrefix(err.Error(), "gorilla/csrf: ")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(apperrors.Response{Error: reason, Code: "csrf_failed"})
}

// GetCSRFToken retrieves the token issued for this request.
func GetCSRFToken(c *gin.Context) string {
	if v, ok := c.Get(contextKeyCSRFToken); ok {
		if t, ok := v.(string); ok {
			return t
		}
	}
	return ""
}
