package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/protocol"
	"github.com/skobkin/sbustap/internal/transport"
)

func (s *Session) runReader(ctx context.Context, done chan struct{}, backlog []protocol.Frame) {
	var lost error
	defer func() { s.readerExited(done, lost) }()

	s.dispatchFrames(backlog)
	buf := make([]byte, readChunkSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := s.transport.Read(ctx, buf)
		if n > 0 {
			s.consume(buf[:n])
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, transport.ErrDisconnected) || errors.Is(err, transport.ErrNotConnected) {
			lost = err
			s.logger.Error("device link lost", "error", err)
			s.reportError(fmt.Errorf("%w: %w", ErrCommunication, err))

			return
		}

		s.logger.Warn("transport read failed", "error", err)
		s.reportError(fmt.Errorf("%w: read: %w", ErrCommunication, err))
		if !sleepWithContext(ctx, s.opts.ErrorBackoff) {
			return
		}
	}
}

// readerExited runs on the reader goroutine. A lost link closes the
// transport and leaves the session disconnected; reconnecting is up to the
// caller. Detaching and the state change share one s.mu section.
func (s *Session) readerExited(done chan struct{}, lost error) {
	s.framer.Reset()

	s.mu.Lock()
	cancel := s.stopReader
	if s.readerDone == done {
		s.readerDone = nil
		s.stopReader = nil
	}
	prev := s.state
	if lost != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("close after link loss", "error", err)
		}
		s.state = connectors.ConnectionStateDisconnected
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if lost != nil {
		s.announceState(prev, connectors.ConnectionStateDisconnected, lost)
	}
	close(done)
}

func (s *Session) consume(p []byte) {
	s.dispatchFrames(s.framer.Feed(p))
}

func (s *Session) dispatchFrames(frames []protocol.Frame) {
	for _, frame := range frames {
		if frame.Err != nil {
			s.dispatch(protocol.Malformed{Line: frame.Line, Reason: frame.Err.Error()})

			continue
		}
		s.observeLine(connectors.DirectionIn, frame.Line)
		s.dispatch(protocol.Classify(frame.Line))
	}
}

// dispatch routes one message: snapshot, handler, then the reply slot.
func (s *Session) dispatch(msg protocol.Message) {
	s.updateSnapshot(msg)

	switch m := msg.(type) {
	case protocol.Channels:
		s.safely("channels", func() { s.handler.OnChannels(m) })
	case protocol.Status:
		s.safely("status", func() { s.handler.OnStatus(m) })
	case protocol.OverrideExpired:
		s.safely("override expired", func() { s.handler.OnOverrideExpired(m) })
	case protocol.Error:
		s.logger.Warn("device reported error", "message", m.Message)
		s.reportError(&DeviceError{Message: m.Message})
	case protocol.Malformed:
		s.logger.Warn("malformed line", "reason", m.Reason, "line", previewLine(m.Line))
		s.reportError(&MalformedLineError{Line: m.Line, Reason: m.Reason})
	}

	s.offerReply(msg)
}

func (s *Session) reportError(err error) {
	s.safely("error", func() { s.handler.OnError(err) })
}

func (s *Session) updateSnapshot(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Channels:
		s.snapMu.Lock()
		s.lastChannels = &m
		s.snapMu.Unlock()
	case protocol.Status:
		s.snapMu.Lock()
		s.lastStatus = &m
		s.snapMu.Unlock()
	}
}

func (s *Session) offerReply(msg protocol.Message) {
	if !s.awaiting.Load() {
		return
	}
	if s.opts.SkipUnsolicited && unsolicited(msg) {
		return
	}

	select {
	case s.replies <- msg:
	default:
		s.logger.Debug("reply slot occupied, message dropped", "type", msg.Type())
	}
}

func unsolicited(msg protocol.Message) bool {
	if protocol.IsTelemetry(msg) {
		return true
	}
	_, malformed := msg.(protocol.Malformed)

	return malformed
}
