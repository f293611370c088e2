// Package mock provides a test double for the search.Provider interface.
//
// Use Provider in unit tests to feed controlled result sets into the fusion
// engine and to verify fan-out behaviour (call counts, queries, per-provider
// failure isolation) without live search backends.
package mock

import (
	"context"
	"sync"

	"github.com/avockley/parlance/pkg/provider/search"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	// Ctx is the context passed to Search.
	Ctx context.Context
	// Query is the query passed to Search.
	Query search.Query
}

// Provider is a mock implementation of search.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// Results is returned by Search (wrapped in a ResultSet). Ignored when
	// SearchFunc or SearchErr is set.
	Results []search.Place

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// Delay, if non-zero, makes Search block for the given duration or until
	// ctx is cancelled, to simulate a slow backend.
	Delay func(ctx context.Context) error

	// SearchFunc, if non-nil, overrides Results/SearchErr entirely.
	SearchFunc func(ctx context.Context, q search.Query) (*search.ResultSet, error)

	// SearchCalls records every invocation of Search in order.
	SearchCalls []SearchCall
}

// Compile-time interface check.
var _ search.Provider = (*Provider)(nil)

// Name implements search.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Search records the call and returns the configured results.
func (p *Provider) Search(ctx context.Context, q search.Query) (*search.ResultSet, error) {
	p.mu.Lock()
	p.SearchCalls = append(p.SearchCalls, SearchCall{Ctx: ctx, Query: q})
	fn := p.SearchFunc
	delay := p.Delay
	err := p.SearchErr
	places := make([]search.Place, len(p.Results))
	copy(places, p.Results)
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return nil, derr
		}
	}
	if fn != nil {
		return fn(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	return &search.ResultSet{Provider: p.Name(), Places: places}, nil
}

// CallCount returns the number of recorded Search calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SearchCalls)
}
