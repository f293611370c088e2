package resilience

import (
	"context"

	"github.com/avockley/parlance/pkg/provider/search"
)

// SearchBreaker wraps a single [search.Provider] with a circuit breaker.
// The fusion engine fans out to every configured backend on each request;
// when a backend flaps, the breaker fails its calls fast so the stage
// deadline is spent on healthy backends instead of a known-bad one. An open
// breaker surfaces as an ordinary provider error, which the engine already
// treats as an empty contribution.
type SearchBreaker struct {
	inner   search.Provider
	breaker *CircuitBreaker
}

// Compile-time interface assertion.
var _ search.Provider = (*SearchBreaker)(nil)

// NewSearchBreaker wraps provider with a breaker named after it.
func NewSearchBreaker(provider search.Provider, cfg CircuitBreakerConfig) *SearchBreaker {
	if cfg.Name == "" {
		cfg.Name = provider.Name()
	}
	return &SearchBreaker{
		inner:   provider,
		breaker: NewCircuitBreaker(cfg),
	}
}

// Name returns the wrapped provider's name.
func (s *SearchBreaker) Name() string {
	return s.inner.Name()
}

// Search forwards the query through the circuit breaker. When the breaker is
// open, [ErrCircuitOpen] is returned without touching the backend.
func (s *SearchBreaker) Search(ctx context.Context, q search.Query) (*search.ResultSet, error) {
	var rs *search.ResultSet
	err := s.breaker.Execute(func() error {
		var innerErr error
		rs, innerErr = s.inner.Search(ctx, q)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// BreakerState exposes the current breaker state for health reporting.
func (s *SearchBreaker) BreakerState() State {
	return s.breaker.State()
}
