package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/agent"
	"github.com/nextlevelbuilder/agentcore/internal/channel"
	"github.com/nextlevelbuilder/agentcore/internal/channel/memchannel"
	"github.com/nextlevelbuilder/agentcore/internal/middleware"
	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

type scriptedLLM struct {
	reply string
}

func (f *scriptedLLM) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func (f *scriptedLLM) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	onChunk(providers.StreamChunk{Content: f.reply, Done: true})
	return &providers.ChatResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func newTestWorker(reply string, chain *middleware.Chain) (*Worker, *sessions.Manager) {
	sm := sessions.NewManager(nil, 0)
	rt := &agent.Runtime{
		LLM:        &scriptedLLM{reply: reply},
		Dispatcher: &tools.Dispatcher{Registry: tools.NewRegistry()},
		Sessions:   sm,
		Config:     agent.Config{MaxIterations: 5},
	}
	return New(rt, sm, chain, Config{MaxConcurrentSessions: 2, GracefulShutdownSeconds: 1}), sm
}

func runWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	})
	return cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestWorker_DeliversAggregatedReply(t *testing.T) {
	w, _ := newTestWorker("pong", nil)
	runWorker(t, w)

	ch := memchannel.New()
	acked := make(chan error, 1)
	ok := w.Submit(Job{
		Channel: ch,
		In:      channel.Inbound{ChannelID: "mem", SenderID: "alice", Text: "ping", MessageID: "m1"},
		Ack:     func(err error) { acked <- err },
	})
	if !ok {
		t.Fatal("Submit returned false on an idle worker")
	}

	if err := <-acked; err != nil {
		t.Fatalf("ack error: %v", err)
	}
	sent := ch.Sent()
	if len(sent) != 1 {
		t.Fatalf("got %d outbound messages, want 1", len(sent))
	}
	if sent[0].Text != "pong" || sent[0].InReplyToMessageID != "m1" {
		t.Fatalf("outbound = %+v, want text pong in reply to m1", sent[0])
	}
}

// A short-circuiting middleware answers the message itself; the agent (and
// therefore the session) is never touched.
func TestWorker_MiddlewareShortCircuit(t *testing.T) {
	deny := middleware.Middleware{
		Name: "deny_all",
		Invoke: func(ctx context.Context, mc *middleware.MessageContext, next middleware.Next) (*middleware.Response, bool) {
			return &middleware.Response{Text: "throttled"}, true
		},
	}
	w, sm := newTestWorker("should never be seen", middleware.NewChain(deny))
	runWorker(t, w)

	ch := memchannel.New()
	acked := make(chan error, 1)
	w.Submit(Job{
		Channel: ch,
		In:      channel.Inbound{ChannelID: "mem", SenderID: "bob", Text: "hello"},
		Ack:     func(err error) { acked <- err },
	})

	<-acked
	sent := ch.Sent()
	if len(sent) != 1 || sent[0].Text != "throttled" {
		t.Fatalf("sent = %+v, want the short-circuit response only", sent)
	}
	if sm.IsActive(sessions.ID("mem", "bob")) {
		t.Fatal("session was created even though the chain short-circuited")
	}
}

// A client that advertises the structured envelope receives stream events
// ending in assistant_done instead of one aggregated Send.
func TestWorker_StreamsToEnvelopeClients(t *testing.T) {
	w, _ := newTestWorker("streamed reply", nil)
	runWorker(t, w)

	ch := memchannel.New()
	ch.SetUsesEnvelope("carol", true)
	acked := make(chan error, 1)
	w.Submit(Job{
		Channel: ch,
		In:      channel.Inbound{ChannelID: "mem", SenderID: "carol", Text: "hi"},
		Ack:     func(err error) { acked <- err },
	})

	if err := <-acked; err != nil {
		t.Fatalf("ack error: %v", err)
	}
	events := ch.StreamedEvents()
	if len(events) == 0 {
		t.Fatal("expected stream events for an envelope client")
	}
	last := events[len(events)-1]
	if last.EventType != string(protocol.EventAssistantDone) {
		t.Fatalf("last event = %q, want assistant_done", last.EventType)
	}
	if len(ch.Sent()) != 0 {
		t.Fatalf("got %d aggregated sends, want 0 for an envelope client", len(ch.Sent()))
	}
}

func TestWorker_RejectsSubmitWhileStopping(t *testing.T) {
	w, _ := newTestWorker("x", nil)
	cancel := runWorker(t, w)
	cancel()

	waitFor(t, func() bool {
		return !w.Submit(Job{Channel: memchannel.New(), In: channel.Inbound{ChannelID: "mem", SenderID: "dave"}})
	})
}
