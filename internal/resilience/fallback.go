package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a fallback chain fails or
// has an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the breaker created for each backend in a
// fallback chain.
type FallbackConfig struct {
	Breaker BreakerConfig
}

// backend pairs one provider instance with its own breaker.
type backend[T any] struct {
	name    string
	impl    T
	breaker *Breaker
}

// chain is the ordered backend list behind the provider-specific fallback
// wrappers. Backends are tried in registration order; one with an open
// breaker is skipped without paying its timeout.
//
// Register all backends before serving calls; add is not synchronised
// against attempt.
type chain[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

func newChain[T any](primary T, name string, cfg FallbackConfig) *chain[T] {
	c := &chain[T]{cfg: cfg}
	c.add(name, primary)
	return c
}

func (c *chain[T]) add(name string, impl T) {
	bcfg := c.cfg.Breaker
	bcfg.Name = name
	c.backends = append(c.backends, backend[T]{
		name:    name,
		impl:    impl,
		breaker: NewBreaker(bcfg),
	})
}

// attempt runs op against each backend in order until one succeeds. It is a
// package function because methods cannot introduce type parameters.
func attempt[T, R any](c *chain[T], op func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.backends {
		be := &c.backends[i]
		var out R
		err := be.breaker.Execute(func() error {
			var opErr error
			out, opErr = op(be.impl)
			return opErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", be.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", be.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
