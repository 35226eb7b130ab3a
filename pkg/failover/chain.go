// Package failover runs work against an ordered chain of speech providers.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/smg1208/audio-crawler/pkg/tts"
)

// Attempt records what happened to one provider during a Run.
type Attempt struct {
	Provider string
	Err      error
	// Skipped is set when the provider was never called.
	Skipped bool
}

// ExhaustedError is returned when no provider in the chain succeeded.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Skipped {
			parts = append(parts, fmt.Sprintf("%s: skipped (%v)", a.Provider, a.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	if len(parts) == 0 {
		return "all providers exhausted"
	}
	return "all providers exhausted: " + strings.Join(parts, "; ")
}

// Unwrap exposes every attempt's error to errors.Is.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}

// Last returns the error of the last provider that was actually called.
func (e *ExhaustedError) Last() error {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if !e.Attempts[i].Skipped {
			return e.Attempts[i].Err
		}
	}
	if len(e.Attempts) > 0 {
		return e.Attempts[len(e.Attempts)-1].Err
	}
	return nil
}

// Chain tries a primary provider and then each alternate in order.
// A provider that reports ErrProviderUnavailable is disabled for the
// lifetime of the Chain.
type Chain struct {
	providers []tts.Provider
	gates     map[string]*semaphore.Weighted

	mu       sync.RWMutex
	disabled map[string]bool
}

// New builds a chain. Provider names must be unique.
func New(primary tts.Provider, alternates ...tts.Provider) (*Chain, error) {
	if primary == nil {
		return nil, errors.New("failover: primary provider required")
	}

	c := &Chain{
		gates:    make(map[string]*semaphore.Weighted),
		disabled: make(map[string]bool),
	}
	for _, p := range append([]tts.Provider{primary}, alternates...) {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, dup := c.gates[name]; dup {
			return nil, fmt.Errorf("failover: provider %q listed twice", name)
		}
		limit := int64(p.Capabilities().Concurrency)
		if limit < 1 {
			limit = 1
		}
		c.gates[name] = semaphore.NewWeighted(limit)
		c.providers = append(c.providers, p)
	}
	return c, nil
}

// Primary returns the first provider of the chain.
func (c *Chain) Primary() tts.Provider { return c.providers[0] }

// Providers returns the chain in order.
func (c *Chain) Providers() []tts.Provider {
	return append([]tts.Provider(nil), c.providers...)
}

// Disabled reports whether the circuit breaker tripped for name.
func (c *Chain) Disabled(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled[name]
}

// Run calls fn with each usable provider until one succeeds and returns the
// name of that provider. Each provider is called at most once per Run, while
// holding that provider's concurrency gate. Unavailable and disabled
// providers are skipped. Empty input and cancellation end the walk early.
func (c *Chain) Run(ctx context.Context, fn func(ctx context.Context, p tts.Provider) error) (string, error) {
	var attempts []Attempt

	for i, p := range c.providers {
		name := p.Name()
		if c.Disabled(name) {
			attempts = append(attempts, Attempt{Provider: name, Skipped: true,
				Err: tts.Unavailable(name, "disabled after an earlier failure")})
			continue
		}
		if !p.IsAvailable() {
			attempts = append(attempts, Attempt{Provider: name, Skipped: true,
				Err: tts.Unavailable(name, "not configured")})
			continue
		}

		gate := c.gates[name]
		if err := gate.Acquire(ctx, 1); err != nil {
			return "", err
		}
		err := fn(ctx, p)
		gate.Release(1)

		if err == nil {
			if i > 0 {
				slog.Info("Failover: alternate provider succeeded", "provider", name, "position", i)
			}
			return name, nil
		}
		attempts = append(attempts, Attempt{Provider: name, Err: err})

		switch {
		case ctx.Err() != nil:
			return "", fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case errors.Is(err, context.Canceled), errors.Is(err, tts.ErrEmptyInput):
			return "", err
		case errors.Is(err, tts.ErrProviderUnavailable):
			slog.Warn("Failover: provider unavailable, disabling for the session", "provider", name, "error", err)
			c.mu.Lock()
			c.disabled[name] = true
			c.mu.Unlock()
		default:
			if i < len(c.providers)-1 {
				slog.Warn("Failover: provider failed, falling back", "provider", name, "error", err)
			}
		}
	}

	return "", &ExhaustedError{Attempts: attempts}
}
