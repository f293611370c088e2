package resilience

import (
	"context"

	"github.com/avockley/parlance/pkg/provider/llm"
)

// LLMFailover implements [llm.Provider] with automatic failover across
// multiple LLM backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
// The ambiguity classifier and answer synthesizer see a single provider and
// stay unaware of which backend actually answered.
type LLMFailover struct {
	group *FailoverGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFailover)(nil)

// NewLLMFailover creates an [LLMFailover] with primary as the preferred backend.
func NewLLMFailover(primary llm.Provider, primaryName string, cfg FailoverConfig) *LLMFailover {
	return &LLMFailover{
		group: NewFailoverGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFailover) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *LLMFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
