package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/bookshop/internal/circuitbreaker"
)

type HealthResponse struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
}

// Pinger reports database connectivity.
type Pinger interface {
	Ping() error
}

type HealthController struct {
	db      Pinger
	breaker *circuitbreaker.CircuitBreaker
	version string
}

func NewHealthController(db Pinger, breaker *circuitbreaker.CircuitBreaker, version string) *HealthController {
	return &HealthController{
		db:      db,
		breaker: breaker,
		version: version,
	}
}

// Status reports the database and payment provider circuit. An open circuit
// degrades checkout but the service itself stays healthy.
func (h *HealthController) Status(c *gin.Context) {
	checks := make(map[string]string)
	status := "healthy"

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			checks["database"] = "error: " + err.Error()
			status = "unhealthy"
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	if h.breaker != nil {
		state := h.breaker.GetState()
		checks["payment_provider"] = state.String()
		if state == circuitbreaker.StateOpen && status == "healthy" {
			status = "degraded"
		}
	}

	health := HealthResponse{
		Status:  status,
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
		Checks:  checks,
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.IndentedJSON(statusCode, health)
}

func (h *HealthController) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
