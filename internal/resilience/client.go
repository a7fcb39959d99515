// Package resilience wraps a providers.Provider with composed timeout,
// retry, and circuit breaker controls in a standalone, reusable layer.
package resilience

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
)

// Config tunes the Client's three composed controls.
type Config struct {
	// Timeout bounds a single LLM call. Zero means unlimited.
	Timeout time.Duration
	Retry   RetryPolicy
	// FailureThreshold and Cooldown configure the circuit breaker. A
	// non-positive FailureThreshold falls back to NewCircuitBreaker's
	// default of 5.
	FailureThreshold int
	Cooldown         time.Duration
}

// Client wraps a providers.Provider and exposes the same Chat/ChatStream
// shape, applying cancellation check, then circuit check, then timeout,
// then the attempt, with retry deciding re-entry and feeding its outcome
// back into the circuit breaker.
type Client struct {
	inner   providers.Provider
	breaker *CircuitBreaker
	cfg     Config
}

// New wraps inner with the resilience controls described by cfg.
func New(inner providers.Provider, cfg Config) *Client {
	return &Client{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.Cooldown),
		cfg:     cfg,
	}
}

func (c *Client) Name() string         { return c.inner.Name() }
func (c *Client) DefaultModel() string { return c.inner.DefaultModel() }

// Breaker exposes the underlying circuit breaker for diagnostics/tests.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Chat runs a single non-streaming call through the resilience layer.
func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return c.do(ctx, func(ctx context.Context) (*providers.ChatResponse, error) {
		return c.inner.Chat(ctx, req)
	})
}

// ChatStream runs a streaming call through the resilience layer. Retries of
// a streaming call restart from scratch; onChunk may therefore be invoked
// more than once across retries for the same logical call.
func (c *Client) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return c.do(ctx, func(ctx context.Context) (*providers.ChatResponse, error) {
		return c.inner.ChatStream(ctx, req, onChunk)
	})
}

func (c *Client) do(ctx context.Context, attempt func(context.Context) (*providers.ChatResponse, error)) (*providers.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The circuit is re-checked on every retry attempt, not just once: a
	// breaker that opens mid-retry-sequence must stop the sequence
	// immediately rather than waiting for the backoff schedule to run out.
	return RetryDo(ctx, c.cfg.Retry, func() (*providers.ChatResponse, error) {
		if ok, err := c.breaker.Allow(); !ok {
			return nil, err
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if c.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}

		resp, err := attempt(callCtx)
		if err != nil {
			// Cancellation of the outer context never counts as a circuit
			// failure.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.breaker.RecordFailure()
			return nil, err
		}
		c.breaker.RecordSuccess()
		return resp, nil
	})
}

var _ providers.Provider = (*Client)(nil)
