// Package channel defines the Channel Adapter contract: interfaces only.
// Concrete transports (Discord, Telegram, WebSocket, webhook, SMS) live
// outside this repository and plug in through these interfaces.
package channel

import "context"

// Outbound is a message the runtime hands to a Channel for delivery.
type Outbound struct {
	ChannelID string
	SenderID  string
	Text      string
	// InReplyToMessageID threads the outbound message to the inbound one
	// that triggered it, when the channel supports threading.
	InReplyToMessageID string
}

// Inbound is a message a Channel hands to the Pipeline Worker.
type Inbound struct {
	ChannelID string
	SenderID  string
	Text      string
	MessageID string
}

// Ack is called by the consumer once an Inbound message has been fully
// processed (successfully or not), letting the channel release any
// redelivery guarantee it was holding.
type Ack func(err error)

// Channel is the minimal contract every transport (Discord, Telegram,
// WebSocket, webhook, SMS, ...) must satisfy to participate in the
// pipeline.
type Channel interface {
	// Send delivers one aggregated outbound message.
	Send(ctx context.Context, out Outbound) error

	// OnMessage registers a handler invoked once per inbound message. The
	// handler side (the pipeline worker) calls ack exactly once, after it
	// has finished processing the message, passing the processing error
	// so the channel can make the redelivery decision.
	OnMessage(handler func(ctx context.Context, in Inbound, ack Ack))
}

// StreamCapable is implemented by channels that can push streaming
// updates to a client mid-turn, rather than only a final aggregated
// message.
type StreamCapable interface {
	SendStreamEvent(ctx context.Context, clientID string, eventType string, content string, toolName string) error
}

// EnvelopeAdvertiser lets the runtime ask, per client, whether that client
// understands the structured stream envelope or should be downgraded to a
// single concatenated final message.
type EnvelopeAdvertiser interface {
	UsesEnvelope(clientID string) bool
}
