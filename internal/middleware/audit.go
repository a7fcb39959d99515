package middleware

import (
	"context"
	"log/slog"
)

// NewAudit returns a pass-through Middleware that logs the inbound
// message before continuing the chain.
func NewAudit() Middleware {
	return Middleware{
		Name: "audit",
		Invoke: func(ctx context.Context, mc *MessageContext, next Next) (*Response, bool) {
			slog.Info("middleware: inbound message", "channel", mc.ChannelID, "sender", mc.SenderID, "chars", len(mc.Text))
			return next(ctx, mc)
		},
	}
}

// NewTransform returns a pass-through Middleware that applies fn to
// mc.Text before continuing the chain.
func NewTransform(name string, fn func(text string) string) Middleware {
	return Middleware{
		Name: name,
		Invoke: func(ctx context.Context, mc *MessageContext, next Next) (*Response, bool) {
			mc.Text = fn(mc.Text)
			return next(ctx, mc)
		},
	}
}
