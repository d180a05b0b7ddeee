package checkout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/bookshop/internal/circuitbreaker"
	"github.com/mrlokans/bookshop/internal/metrics"
)

// Guarded wraps a Provider with a circuit breaker and latency metrics.
type Guarded struct {
	next    Provider
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuarded returns next behind breaker. Breaker state changes are logged and
// exported as a gauge.
func NewGuarded(next Provider, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		metrics.SetBreakerState(int(to))
		logger.Warn("payment provider circuit breaker changed state",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	})
	return &Guarded{next: next, breaker: breaker}
}

func (g *Guarded) CreateCheckoutSession(ctx context.Context, req Request) (Session, error) {
	var session Session
	start := time.Now()
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		session, err = g.next.CreateCheckoutSession(ctx, req)
		return err
	})
	metrics.ObserveProviderRequest("create_session", err, time.Since(start))
	return session, err
}

func (g *Guarded) SessionStatus(ctx context.Context, reference string) (string, error) {
	var status string
	start := time.Now()
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		status, err = g.next.SessionStatus(ctx, reference)
		return err
	})
	metrics.ObserveProviderRequest("session_status", err, time.Since(start))
	return status, err
}
