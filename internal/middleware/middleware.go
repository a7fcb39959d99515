// Package middleware implements the admission-control Middleware Pipeline:
// a finite ordered chain of around-interceptors run before the Agent
// Runtime, any one of which may short-circuit the chain and answer the
// message directly.
package middleware

import "context"

// MessageContext is the mutable state every middleware in the chain sees
// and may mutate in place.
type MessageContext struct {
	ChannelID string
	SenderID  string
	Text      string

	TotalInputTokens  int64
	TotalOutputTokens int64

	// Properties carries arbitrary key/value state middlewares pass to
	// each other or to the agent runtime.
	Properties map[string]string
}

// Response is what a short-circuiting middleware returns directly to the
// Channel, bypassing the Agent Runtime entirely.
type Response struct {
	Text string
}

// Next invokes the remainder of the chain. A middleware that doesn't want
// to short-circuit must call Next exactly once and propagate its result.
type Next func(ctx context.Context, mc *MessageContext) (*Response, bool)

// Middleware is a concrete around-interceptor value: a name plus an
// invoke function, no interface hierarchy.
type Middleware struct {
	Name string
	// Invoke returns (response, true) to short-circuit, or calls next and
	// returns its result to continue the chain.
	Invoke func(ctx context.Context, mc *MessageContext, next Next) (*Response, bool)
}

// Chain runs an ordered list of Middleware, stopping at the first one
// that short-circuits. Run builds exactly one Next closure per middleware
// per call, nothing more.
type Chain struct {
	middlewares []Middleware
}

func NewChain(mw ...Middleware) *Chain {
	return &Chain{middlewares: mw}
}

// Run executes the chain against mc. If every middleware calls through,
// ok is false and the caller should proceed to invoke the Agent Runtime.
// If any middleware short-circuits, ok is true and resp is the response
// the pipeline should return directly.
func (c *Chain) Run(ctx context.Context, mc *MessageContext) (resp *Response, ok bool) {
	var run func(i int) (*Response, bool)
	run = func(i int) (*Response, bool) {
		if i >= len(c.middlewares) {
			return nil, false
		}
		mw := c.middlewares[i]
		return mw.Invoke(ctx, mc, func(ctx context.Context, mc *MessageContext) (*Response, bool) {
			return run(i + 1)
		})
	}
	return run(0)
}
