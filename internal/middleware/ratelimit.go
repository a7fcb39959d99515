package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitStore hands out one token-bucket limiter per sender id, so
// bursts within a window are governed by a real token bucket instead of a
// single counter reset boundary.
type RateLimitStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether senderID may proceed under a perMinute-calls budget,
// creating that sender's limiter lazily on first use.
func (s *RateLimitStore) Allow(senderID string, perMinute int) bool {
	s.mu.Lock()
	lim, ok := s.limiters[senderID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		s.limiters[senderID] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// NewRateLimit returns a Middleware that short-circuits with throttleMsg
// when senderID's token bucket is empty. Each bucket holds up to perMinute
// tokens and refills continuously at perMinute/60 tokens per second; there
// is no fixed one-minute window, so more than perMinute calls can pass
// within a single 60-second span. perMinute <= 0 disables the check.
func NewRateLimit(store *RateLimitStore, perMinute int, throttleMsg string) Middleware {
	return Middleware{
		Name: "rate_limit",
		Invoke: func(ctx context.Context, mc *MessageContext, next Next) (*Response, bool) {
			if perMinute <= 0 {
				return next(ctx, mc)
			}
			if !store.Allow(mc.SenderID, perMinute) {
				return &Response{Text: throttleMsg}, true
			}
			return next(ctx, mc)
		},
	}
}
