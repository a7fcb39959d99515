// Package pipeline implements the Inbound Queue + Pipeline Worker: a
// bounded-concurrency consumer that pulls inbound messages off a channel,
// runs them through the Middleware Pipeline and the Agent Runtime, and
// delivers the result back through the originating Channel; either as a
// single aggregated message or, for clients that opt into the structured
// envelope, as a stream of events.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/agent"
	"github.com/nextlevelbuilder/agentcore/internal/channel"
	"github.com/nextlevelbuilder/agentcore/internal/middleware"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// Job is one inbound message queued for processing.
type Job struct {
	Channel channel.Channel
	In      channel.Inbound
	Ack     channel.Ack
}

// Config tunes one Worker.
type Config struct {
	MaxConcurrentSessions   int
	GracefulShutdownSeconds int
	QueueSize               int
}

// Worker pulls Jobs off a bounded internal queue and runs each one through
// the Middleware Pipeline, then the Agent Runtime, capping the number of
// in-flight turns at MaxConcurrentSessions.
type Worker struct {
	Runtime  *agent.Runtime
	Sessions *sessions.Manager
	Chain    *middleware.Chain
	Config   Config

	queue    chan Job
	sem      chan struct{}
	wg       sync.WaitGroup
	active   atomic.Int32
	closeOn  sync.Once
	stopping atomic.Bool
}

// New constructs a Worker ready to have jobs enqueued via Submit and run
// via Run.
func New(rt *agent.Runtime, sm *sessions.Manager, chain *middleware.Chain, cfg Config) *Worker {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Worker{
		Runtime:  rt,
		Sessions: sm,
		Chain:    chain,
		Config:   cfg,
		queue:    make(chan Job, cfg.QueueSize),
		sem:      make(chan struct{}, cfg.MaxConcurrentSessions),
	}
}

// Submit enqueues a Job for processing. It returns false without blocking
// if the worker is draining for shutdown or the queue is full.
func (w *Worker) Submit(job Job) bool {
	if w.stopping.Load() {
		return false
	}
	select {
	case w.queue <- job:
		return true
	default:
		slog.Warn("pipeline: queue full, dropping job", "channel", job.In.ChannelID, "sender", job.In.SenderID)
		return false
	}
}

// Run drains the queue until ctx is canceled, then stops accepting new
// work and waits (up to GracefulShutdownSeconds) for in-flight turns to
// finish before returning.
func (w *Worker) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-w.queue:
				if !ok {
					return
				}
				w.dispatch(ctx, job)
			}
		}
	}()

	<-ctx.Done()
	w.stopping.Store(true)

	grace := time.Duration(w.Config.GracefulShutdownSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}

	waitDone := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(grace):
		slog.Warn("pipeline: graceful shutdown timed out with turns still in flight", "active", w.active.Load())
	}
	<-done
}

func (w *Worker) dispatch(ctx context.Context, job Job) {
	w.sem <- struct{}{}
	w.wg.Add(1)
	w.active.Add(1)
	go func() {
		defer func() {
			<-w.sem
			w.active.Add(-1)
			w.wg.Done()
		}()
		err := w.process(ctx, job)
		if job.Ack != nil {
			job.Ack(err)
		}
	}()
}

func (w *Worker) process(ctx context.Context, job Job) error {
	mc := &middleware.MessageContext{
		ChannelID: job.In.ChannelID,
		SenderID:  job.In.SenderID,
		Text:      job.In.Text,
	}
	if sess, ok := w.Sessions.Get(sessions.ID(job.In.ChannelID, job.In.SenderID)); ok {
		in, out := sess.Tokens()
		mc.TotalInputTokens, mc.TotalOutputTokens = in, out
	}

	if w.Chain != nil {
		if resp, short := w.Chain.Run(ctx, mc); short {
			return job.Channel.Send(ctx, channel.Outbound{
				ChannelID:           job.In.ChannelID,
				SenderID:            job.In.SenderID,
				Text:                resp.Text,
				InReplyToMessageID:  job.In.MessageID,
			})
		}
	}

	session, err := w.Sessions.GetOrCreate(ctx, job.In.ChannelID, job.In.SenderID)
	if err != nil {
		return err
	}

	if sc := streamTarget(job.Channel, job.In.SenderID); sc != nil {
		return w.processStreaming(ctx, job, session, mc.Text, sc)
	}

	text, _, err := w.Runtime.Run(ctx, session, mc.Text, nil, nil)
	if err != nil {
		msg := "Something went wrong processing your message."
		if re, ok := err.(*agent.RunError); ok {
			msg = re.UserMessage()
		}
		sendErr := job.Channel.Send(ctx, channel.Outbound{
			ChannelID:          job.In.ChannelID,
			SenderID:           job.In.SenderID,
			Text:               msg,
			InReplyToMessageID: job.In.MessageID,
		})
		if sendErr != nil {
			return sendErr
		}
		return err
	}

	return job.Channel.Send(ctx, channel.Outbound{
		ChannelID:           job.In.ChannelID,
		SenderID:            job.In.SenderID,
		Text:                text,
		InReplyToMessageID:  job.In.MessageID,
	})
}

// streamTarget returns the channel's StreamCapable view when the sender has
// opted into the structured envelope, or nil when the turn should fall back
// to a single aggregated message.
func streamTarget(ch channel.Channel, senderID string) channel.StreamCapable {
	sc, ok := ch.(channel.StreamCapable)
	if !ok {
		return nil
	}
	if adv, ok := ch.(channel.EnvelopeAdvertiser); ok && !adv.UsesEnvelope(senderID) {
		return nil
	}
	return sc
}

// processStreaming runs the turn through RunStreaming, forwarding each
// event to the client as it occurs. Event delivery failures are logged and
// skipped so one dropped frame doesn't abort the turn.
func (w *Worker) processStreaming(ctx context.Context, job Job, session *sessions.Session, text string, sc channel.StreamCapable) error {
	_, err := w.Runtime.RunStreaming(ctx, session, text, nil, nil, func(ev protocol.StreamEvent) {
		if sendErr := sc.SendStreamEvent(ctx, job.In.SenderID, string(ev.Type), ev.Content, ev.ToolName); sendErr != nil {
			slog.Warn("pipeline: stream event delivery failed", "sender", job.In.SenderID, "type", ev.Type, "error", sendErr)
		}
	})
	return err
}
