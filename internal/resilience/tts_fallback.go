package resilience

import (
	"context"

	"github.com/aegisd/aegis/pkg/provider/tts"
)

// SynthesizerFallback is a [tts.Synthesizer] that fails over across multiple
// speech backends with per-backend breakers.
type SynthesizerFallback struct {
	chain *chain[tts.Synthesizer]
}

var _ tts.Synthesizer = (*SynthesizerFallback)(nil)

// NewSynthesizerFallback creates a [SynthesizerFallback] with primary as the
// first backend tried.
func NewSynthesizerFallback(primary tts.Synthesizer, name string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{chain: newChain(primary, name, cfg)}
}

// AddFallback appends a backend tried after all previously registered ones.
func (sf *SynthesizerFallback) AddFallback(name string, synth tts.Synthesizer) {
	sf.chain.add(name, synth)
}

// Synthesize renders text with the first healthy backend. It returns
// [ErrAllFailed] when every backend errors or has an open breaker.
func (sf *SynthesizerFallback) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return attempt(sf.chain, func(s tts.Synthesizer) ([]byte, error) {
		return s.Synthesize(ctx, text)
	})
}
