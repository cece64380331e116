package llm

import (
	"context"
	"time"

	"github.com/liqian5129/reading-comp/pkg/resilience"
)

// BreakerAdapter wraps an Adapter with rate-limit circuit breaking so a
// throttled provider is not hammered turn after turn.
type BreakerAdapter struct {
	inner   Adapter
	breaker *resilience.CircuitBreaker
}

func NewBreakerAdapter(inner Adapter, breaker *resilience.CircuitBreaker) *BreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &BreakerAdapter{inner: inner, breaker: breaker}
}

func (a *BreakerAdapter) Name() string { return a.inner.Name() }

func (a *BreakerAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	if !a.breaker.Allow() {
		return Response{}, resilience.RateLimitError{Provider: a.Name(), Message: "circuit open"}
	}
	resp, err := a.inner.Generate(ctx, req)
	if err != nil {
		a.breaker.OnError(err)
		return Response{}, err
	}
	a.breaker.OnSuccess()
	return resp, nil
}
