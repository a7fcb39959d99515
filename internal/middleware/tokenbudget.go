package middleware

import "context"

// NewTokenBudget returns a Middleware that short-circuits once a
// session's accumulated input+output tokens reach budget. budget <= 0
// means unlimited. sessionTokens returns the
// current total for mc's session without the middleware needing to know
// about sessions.Manager directly.
func NewTokenBudget(budget int64, sessionTokens func(ctx context.Context, channelID, senderID string) int64, exceededMsg string) Middleware {
	return Middleware{
		Name: "token_budget",
		Invoke: func(ctx context.Context, mc *MessageContext, next Next) (*Response, bool) {
			if budget <= 0 {
				return next(ctx, mc)
			}
			if sessionTokens(ctx, mc.ChannelID, mc.SenderID) >= budget {
				return &Response{Text: exceededMsg}, true
			}
			return next(ctx, mc)
		},
	}
}
