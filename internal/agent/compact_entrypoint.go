package agent

import "context"

// CompactHistory acquires the session exclusively and runs the same
// synchronous compaction Run/RunStreaming perform implicitly at the start
// of each turn. Useful for an operator-triggered or scheduled compaction
// outside the normal message flow.
func (r *Runtime) CompactHistory(ctx context.Context, sessionID string) error {
	session, ok := r.Sessions.Get(sessionID)
	if !ok {
		return nil
	}
	handle, err := r.Sessions.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer handle.Release()
	return r.maybeCompact(ctx, handle, session)
}
