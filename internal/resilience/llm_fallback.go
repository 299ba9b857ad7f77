package resilience

import (
	"context"
	"strings"

	"github.com/wbendinelli/xvoice/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across
// completion backends, for polish configurations that name a fallback
// provider next to the primary.
type LLMFallback struct {
	chain *Chain[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a fallback provider with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, cfg BreakerConfig) *LLMFallback {
	return &LLMFallback{chain: NewChain(primary.Name(), primary, cfg)}
}

// AddFallback appends a provider. Providers are tried in registration order,
// after the primary.
func (f *LLMFallback) AddFallback(p llm.Provider) {
	f.chain.Add(p.Name(), p)
}

// Complete sends the request to the first healthy provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return TryResult(ctx, f.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Name joins the provider names in chain order.
func (f *LLMFallback) Name() string {
	return strings.Join(f.chain.Names(), "+")
}
