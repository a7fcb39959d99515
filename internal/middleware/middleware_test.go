package middleware

import (
	"context"
	"testing"
)

func TestChain_AllPassThrough(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return Middleware{Name: name, Invoke: func(ctx context.Context, mc *MessageContext, next Next) (*Response, bool) {
			order = append(order, name)
			return next(ctx, mc)
		}}
	}
	c := NewChain(mk("a"), mk("b"), mk("c"))
	resp, ok := c.Run(context.Background(), &MessageContext{})
	if ok {
		t.Fatal("expected ok=false when every middleware passes through")
	}
	if resp != nil {
		t.Fatalf("resp = %+v, want nil", resp)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
}

func TestChain_ShortCircuitStopsLaterMiddleware(t *testing.T) {
	var ran []string
	mk := func(name string) Middleware {
		return Middleware{Name: name, Invoke: func(ctx context.Context, mc *MessageContext, next Next) (*Response, bool) {
			ran = append(ran, name)
			return next(ctx, mc)
		}}
	}
	blocker := Middleware{Name: "blocker", Invoke: func(ctx context.Context, mc *MessageContext, next Next) (*Response, bool) {
		ran = append(ran, "blocker")
		return &Response{Text: "blocked"}, true
	}}
	c := NewChain(mk("a"), blocker, mk("never"))
	resp, ok := c.Run(context.Background(), &MessageContext{})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if resp == nil || resp.Text != "blocked" {
		t.Fatalf("resp = %+v, want Text=blocked", resp)
	}
	for _, name := range ran {
		if name == "never" {
			t.Fatal("middleware after the short-circuit must not run")
		}
	}
}

func TestRateLimit_BlocksAfterThreshold(t *testing.T) {
	store := NewRateLimitStore()
	mw := NewRateLimit(store, 2, "slow down")
	c := NewChain(mw)

	for i := 0; i < 2; i++ {
		_, ok := c.Run(context.Background(), &MessageContext{SenderID: "u1"})
		if ok {
			t.Fatalf("call %d: unexpected short-circuit within the limit", i)
		}
	}
	resp, ok := c.Run(context.Background(), &MessageContext{SenderID: "u1"})
	if !ok {
		t.Fatal("expected the third call within a minute to be throttled")
	}
	if resp.Text != "slow down" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "slow down")
	}
}

func TestRateLimit_SeparateSendersIndependent(t *testing.T) {
	store := NewRateLimitStore()
	mw := NewRateLimit(store, 1, "slow down")
	c := NewChain(mw)

	if _, ok := c.Run(context.Background(), &MessageContext{SenderID: "u1"}); ok {
		t.Fatal("u1's first call should pass")
	}
	if _, ok := c.Run(context.Background(), &MessageContext{SenderID: "u2"}); ok {
		t.Fatal("u2's first call should pass independent of u1's usage")
	}
}

func TestTokenBudget_BlocksAtOrAboveBudget(t *testing.T) {
	mw := NewTokenBudget(100, func(ctx context.Context, channelID, senderID string) int64 {
		return 100
	}, "budget exceeded")
	c := NewChain(mw)
	resp, ok := c.Run(context.Background(), &MessageContext{})
	if !ok {
		t.Fatal("expected the chain to short-circuit once the budget is reached")
	}
	if resp.Text != "budget exceeded" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "budget exceeded")
	}
}

func TestTokenBudget_PassesUnderBudget(t *testing.T) {
	mw := NewTokenBudget(100, func(ctx context.Context, channelID, senderID string) int64 {
		return 50
	}, "budget exceeded")
	c := NewChain(mw)
	_, ok := c.Run(context.Background(), &MessageContext{})
	if ok {
		t.Fatal("expected the chain to pass through under budget")
	}
}

func TestTokenBudget_DisabledWhenNonPositive(t *testing.T) {
	mw := NewTokenBudget(0, func(ctx context.Context, channelID, senderID string) int64 {
		return 1_000_000
	}, "budget exceeded")
	c := NewChain(mw)
	_, ok := c.Run(context.Background(), &MessageContext{})
	if ok {
		t.Fatal("a non-positive budget must disable the check entirely")
	}
}
