package device

import (
	"log/slog"

	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/protocol"
)

// Handler receives notifications from the reader loop. Methods run on the
// reader goroutine and must return quickly; a slow handler delays every
// later line, including command replies.
type Handler interface {
	OnChannels(msg protocol.Channels)
	OnStatus(msg protocol.Status)
	OnOverrideExpired(msg protocol.OverrideExpired)
	// OnError gets *DeviceError, *MalformedLineError or a transport error
	// wrapping ErrCommunication.
	OnError(err error)
}

// LineObserver is an optional Handler extension for raw line diagnostics.
type LineObserver interface {
	OnLine(dir connectors.Direction, line string)
}

// ConnectionObserver is an optional Handler extension for lifecycle changes.
type ConnectionObserver interface {
	OnConnectionStatus(status connectors.ConnectionStatus)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Channels        func(protocol.Channels)
	Status          func(protocol.Status)
	OverrideExpired func(protocol.OverrideExpired)
	Error           func(error)
}

func (h HandlerFuncs) OnChannels(msg protocol.Channels) {
	if h.Channels != nil {
		h.Channels(msg)
	}
}

func (h HandlerFuncs) OnStatus(msg protocol.Status) {
	if h.Status != nil {
		h.Status(msg)
	}
}

func (h HandlerFuncs) OnOverrideExpired(msg protocol.OverrideExpired) {
	if h.OverrideExpired != nil {
		h.OverrideExpired(msg)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// MultiHandler fans every notification out to its members in order,
// including the optional observer extensions. A panicking member is logged
// and skipped; later members still get the notification.
type MultiHandler []Handler

func (m MultiHandler) OnChannels(msg protocol.Channels) {
	m.each("channels", func(h Handler) { h.OnChannels(msg) })
}

func (m MultiHandler) OnStatus(msg protocol.Status) {
	m.each("status", func(h Handler) { h.OnStatus(msg) })
}

func (m MultiHandler) OnOverrideExpired(msg protocol.OverrideExpired) {
	m.each("override expired", func(h Handler) { h.OnOverrideExpired(msg) })
}

func (m MultiHandler) OnError(err error) {
	m.each("error", func(h Handler) { h.OnError(err) })
}

func (m MultiHandler) OnLine(dir connectors.Direction, line string) {
	m.each("line observer", func(h Handler) {
		if obs, ok := h.(LineObserver); ok {
			obs.OnLine(dir, line)
		}
	})
}

func (m MultiHandler) OnConnectionStatus(status connectors.ConnectionStatus) {
	m.each("connection status", func(h Handler) {
		if obs, ok := h.(ConnectionObserver); ok {
			obs.OnConnectionStatus(status)
		}
	})
}

func (m MultiHandler) each(what string, fn func(Handler)) {
	for i, h := range m {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("handler panicked", "component", "device.handler", "callback", what, "member", i, "panic", r)
				}
			}()
			fn(h)
		}()
	}
}
