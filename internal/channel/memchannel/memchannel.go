// Package memchannel is an in-memory channel.Channel test double used by
// the Pipeline Worker's own tests; not a real transport.
package memchannel

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/agentcore/internal/channel"
)

// Channel is a channel.Channel backed by in-process slices, with an
// optional per-client envelope flag so EnvelopeAdvertiser/StreamCapable
// behavior can be exercised in tests.
type Channel struct {
	mu       sync.Mutex
	sent     []channel.Outbound
	streamed []StreamEvent
	handler  func(ctx context.Context, in channel.Inbound, ack channel.Ack)
	envelope map[string]bool
}

// StreamEvent records one SendStreamEvent call.
type StreamEvent struct {
	ClientID  string
	EventType string
	Content   string
	ToolName  string
}

func New() *Channel {
	return &Channel{envelope: make(map[string]bool)}
}

func (c *Channel) Send(ctx context.Context, out channel.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, out)
	return nil
}

func (c *Channel) OnMessage(handler func(ctx context.Context, in channel.Inbound, ack channel.Ack)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Deliver simulates an inbound message arriving on the channel, invoking
// whatever handler was registered via OnMessage.
func (c *Channel) Deliver(ctx context.Context, in channel.Inbound, ack channel.Ack) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		if ack != nil {
			ack(nil)
		}
		return
	}
	h(ctx, in, ack)
}

func (c *Channel) SendStreamEvent(ctx context.Context, clientID, eventType, content, toolName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamed = append(c.streamed, StreamEvent{ClientID: clientID, EventType: eventType, Content: content, ToolName: toolName})
	return nil
}

// SetUsesEnvelope configures UsesEnvelope's answer for a given client id.
func (c *Channel) SetUsesEnvelope(clientID string, uses bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelope[clientID] = uses
}

func (c *Channel) UsesEnvelope(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.envelope[clientID]
}

// Sent returns a snapshot of every Outbound message sent so far.
func (c *Channel) Sent() []channel.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]channel.Outbound, len(c.sent))
	copy(out, c.sent)
	return out
}

// StreamedEvents returns a snapshot of every stream event sent so far.
func (c *Channel) StreamedEvents() []StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StreamEvent, len(c.streamed))
	copy(out, c.streamed)
	return out
}

var (
	_ channel.Channel            = (*Channel)(nil)
	_ channel.StreamCapable       = (*Channel)(nil)
	_ channel.EnvelopeAdvertiser = (*Channel)(nil)
)
