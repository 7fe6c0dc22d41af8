package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/protocol"
	"github.com/skobkin/sbustap/internal/transport"
)

// Session owns one device connection: the transport, the reader loop and
// the reply slot used by Call.
//
// The reader loop is the only writer of the snapshots and the reply slot.
// Only one Call may be outstanding at a time.
type Session struct {
	logger    *slog.Logger
	transport transport.Transport
	handler   Handler
	opts      Options
	framer    *protocol.LineFramer
	now       func() time.Time

	// lifecycleMu serializes Connect, StartMonitoring, StopMonitoring and
	// Disconnect.
	lifecycleMu sync.Mutex

	mu         sync.Mutex
	state      connectors.ConnectionState
	stopReader context.CancelFunc
	readerDone chan struct{}
	// backlog holds frames read after the handshake message; the next
	// reader loop dispatches them first.
	backlog []protocol.Frame

	callMu   sync.Mutex
	awaiting atomic.Bool
	replies  chan protocol.Message

	snapMu       sync.RWMutex
	lastChannels *protocol.Channels
	lastStatus   *protocol.Status
}

func NewSession(logger *slog.Logger, tr transport.Transport, handler Handler, opts Options) *Session {
	if logger == nil {
		logger = slog.Default().With("component", "device.session")
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}
	opts = opts.withDefaults()

	return &Session{
		logger:    logger,
		transport: tr,
		handler:   handler,
		opts:      opts,
		framer:    protocol.NewLineFramer(opts.MaxLineLength),
		now:       time.Now,
		state:     connectors.ConnectionStateDisconnected,
		replies:   make(chan protocol.Message, 1),
	}
}

func (s *Session) Options() Options {
	return s.opts
}

// Connect opens the transport and waits for the device to announce itself
// with a ready, channels or status message. On failure the transport is
// closed again.
func (s *Session) Connect(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.State() == connectors.ConnectionStateConnected {
		return nil
	}

	s.setState(connectors.ConnectionStateConnecting, nil)
	if err := s.transport.Connect(ctx); err != nil {
		err = fmt.Errorf("%w: open %s transport: %w", ErrCommunication, s.transport.Name(), err)
		s.setState(connectors.ConnectionStateDisconnected, err)

		return err
	}

	if err := s.handshake(ctx); err != nil {
		if closeErr := s.transport.Close(); closeErr != nil {
			s.logger.Warn("close after failed handshake", "error", closeErr)
		}
		s.setState(connectors.ConnectionStateDisconnected, err)

		return err
	}
	s.setState(connectors.ConnectionStateConnected, nil)

	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	hsCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	s.framer.Reset()
	s.setBacklog(nil)
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.transport.Read(hsCtx, buf)
		if n > 0 {
			frames := s.framer.Feed(buf[:n])
			for i, frame := range frames {
				if frame.Err != nil {
					s.logger.Debug("handshake line dropped", "error", frame.Err)

					continue
				}
				s.observeLine(connectors.DirectionIn, frame.Line)
				msg := protocol.Classify(frame.Line)
				switch msg.(type) {
				case protocol.Ready, protocol.Channels, protocol.Status:
					s.updateSnapshot(msg)
					s.setBacklog(frames[i+1:])
					s.logger.Info("device ready", "first_message", msg.Type())

					return nil
				}
				s.logger.Debug("handshake line ignored", "type", msg.Type())
			}
		}

		if hsCtx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("%w within %s", ErrHandshakeTimeout, s.opts.HandshakeTimeout)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, transport.ErrDisconnected) || errors.Is(err, transport.ErrNotConnected) {
			return fmt.Errorf("%w: handshake read: %w", ErrCommunication, err)
		}
		s.logger.Debug("handshake read failed", "error", err)
		sleepWithContext(hsCtx, s.opts.ErrorBackoff)
	}
}

// StartMonitoring spawns the reader loop.
func (s *Session) StartMonitoring() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != connectors.ConnectionStateConnected {
		return ErrNotConnected
	}
	if s.readerDone != nil {
		return ErrAlreadyMonitoring
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.stopReader = cancel
	s.readerDone = done
	backlog := s.backlog
	s.backlog = nil
	go s.runReader(ctx, done, backlog)
	s.logger.Info("monitoring started")

	return nil
}

// StopMonitoring stops the reader loop and waits for it up to StopTimeout.
// Once it returns nil the loop no longer touches the transport.
func (s *Session) StopMonitoring() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	return s.stopMonitoringLocked()
}

func (s *Session) stopMonitoringLocked() error {
	s.mu.Lock()
	cancel, done := s.stopReader, s.readerDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("monitoring stopped")

		return nil
	case <-timer.C:
		s.logger.Warn("reader loop did not stop", "timeout", s.opts.StopTimeout)

		return fmt.Errorf("%w after %s", ErrStopTimeout, s.opts.StopTimeout)
	}
}

// Disconnect stops monitoring, then closes the transport. Calling it on a
// disconnected session is a no-op.
func (s *Session) Disconnect() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	stopErr := s.stopMonitoringLocked()
	s.setBacklog(nil)
	if s.State() == connectors.ConnectionStateDisconnected {
		return stopErr
	}

	closeErr := s.transport.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close %s transport: %w", s.transport.Name(), closeErr)
	}
	s.setState(connectors.ConnectionStateDisconnected, nil)

	return errors.Join(stopErr, closeErr)
}

func (s *Session) State() connectors.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) Connected() bool {
	return s.State() == connectors.ConnectionStateConnected
}

func (s *Session) Monitoring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readerDone != nil
}

// LastChannels returns the most recent channels frame, if any.
func (s *Session) LastChannels() (protocol.Channels, bool) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	if s.lastChannels == nil {
		return protocol.Channels{}, false
	}

	return *s.lastChannels, true
}

// LastStatus returns the most recent status message, if any.
func (s *Session) LastStatus() (protocol.Status, bool) {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	if s.lastStatus == nil {
		return protocol.Status{}, false
	}

	return *s.lastStatus, true
}

// WithSession connects, starts monitoring, runs fn and always disconnects.
// An error from fn takes precedence over a disconnect error.
func WithSession(ctx context.Context, s *Session, fn func(*Session) error) (err error) {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if dErr := s.Disconnect(); dErr != nil && err == nil {
			err = dErr
		}
	}()

	if err := s.StartMonitoring(); err != nil {
		return err
	}

	return fn(s)
}

func (s *Session) setBacklog(frames []protocol.Frame) {
	s.mu.Lock()
	s.backlog = append([]protocol.Frame(nil), frames...)
	s.mu.Unlock()
}

func (s *Session) setState(state connectors.ConnectionState, cause error) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.announceState(prev, state, cause)
}

// announceState reports a state change to the log and the handler. It must
// be called without s.mu held.
func (s *Session) announceState(prev, state connectors.ConnectionState, cause error) {
	if prev == state {
		return
	}

	status := connectors.ConnectionStatus{
		State:         state,
		TransportName: s.transport.Name(),
		Timestamp:     s.now(),
	}
	if resolver, ok := s.transport.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}
	if cause != nil {
		status.Err = cause.Error()
		s.logger.Info("connection state changed", "from", prev, "to", state, "error", cause)
	} else {
		s.logger.Info("connection state changed", "from", prev, "to", state)
	}

	if obs, ok := s.handler.(ConnectionObserver); ok {
		s.safely("connection status", func() { obs.OnConnectionStatus(status) })
	}
}

func (s *Session) observeLine(dir connectors.Direction, line string) {
	if obs, ok := s.handler.(LineObserver); ok {
		s.safely("line observer", func() { obs.OnLine(dir, line) })
	}
}

// safely runs a handler callback, turning a panic into a log record.
func (s *Session) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "callback", what, "panic", r)
		}
	}()
	fn()
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
