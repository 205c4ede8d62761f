package resilience

import (
	"context"

	"github.com/aegisd/aegis/pkg/provider/llm"
)

// ResponderFallback is an [llm.Responder] that fails over across multiple
// backends. Each backend carries its own breaker, so a backend that keeps
// failing is skipped without paying its timeout on every turn.
type ResponderFallback struct {
	chain *chain[llm.Responder]
}

var _ llm.Responder = (*ResponderFallback)(nil)

// NewResponderFallback creates a [ResponderFallback] with primary as the
// first backend tried. Additional backends are registered with
// [ResponderFallback.AddFallback].
func NewResponderFallback(primary llm.Responder, name string, cfg FallbackConfig) *ResponderFallback {
	return &ResponderFallback{chain: newChain(primary, name, cfg)}
}

// AddFallback appends a backend tried after all previously registered ones.
func (rf *ResponderFallback) AddFallback(name string, responder llm.Responder) {
	rf.chain.add(name, responder)
}

// Respond forwards the request to the first healthy backend. It returns
// [ErrAllFailed] when every backend errors or has an open breaker.
func (rf *ResponderFallback) Respond(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return attempt(rf.chain, func(r llm.Responder) (*llm.Response, error) {
		return r.Respond(ctx, req)
	})
}
