package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/books/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/books/:id", "200"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/books/12", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/books/:id", "200"))
	assert.Equal(t, before+1, after)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(reconcileOutcomesTotal.WithLabelValues("webhook", "noop"))
	RecordReconcile("webhook", "noop")
	assert.Equal(t, before+1, testutil.ToFloat64(reconcileOutcomesTotal.WithLabelValues("webhook", "noop")))

	beforeErr := testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("payment.verified", "error"))
	RecordEventPublished("payment.verified", errors.New("broker down"))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("payment.verified", "error")))

	SetBreakerState(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(breakerState))
}

func TestHandlerExposesCollectors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	RecordPaymentInitiated()

	r := gin.New()
	r.GET("/metrics", Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bookshop_payments_initiated_total")
}
