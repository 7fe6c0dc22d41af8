package device

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/protocol"
)

// Call writes cmd and waits for the next message the reader loop offers to
// the reply slot. The device does not tag replies, so that message is taken
// as the reply. A timeout <= 0 uses Options.ResponseTimeout.
//
// Replies are only delivered while monitoring runs. A second call made while
// one is in flight fails with ErrCallInProgress. A timed-out command may
// still be executed by the device.
func (s *Session) Call(ctx context.Context, cmd protocol.Command, timeout time.Duration) (protocol.Message, error) {
	if !s.Connected() {
		return nil, ErrNotConnected
	}
	if !s.callMu.TryLock() {
		return nil, ErrCallInProgress
	}
	defer s.callMu.Unlock()

	if timeout <= 0 {
		timeout = s.opts.ResponseTimeout
	}
	line, err := protocol.EncodeLine(cmd)
	if err != nil {
		return nil, err
	}

	s.drainReplies()
	s.awaiting.Store(true)
	defer s.awaiting.Store(false)

	if !s.Monitoring() {
		s.logger.Debug("call issued while monitoring is stopped, no reply will be delivered", "command", cmd.Name)
	}
	if err := s.transport.Write(ctx, line); err != nil {
		return nil, fmt.Errorf("%w: write %s: %w", ErrCommunication, cmd.Name, err)
	}
	s.observeLine(connectors.DirectionOut, string(bytes.TrimSpace(line)))

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-s.replies:
		s.logger.Debug("reply received", "command", cmd.Name, "type", msg.Type())

		return msg, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, cmd.Name, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) drainReplies() {
	for {
		select {
		case stale := <-s.replies:
			s.logger.Debug("stale reply discarded", "type", stale.Type())
		default:
			return
		}
	}
}
