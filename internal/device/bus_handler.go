package device

import (
	"errors"
	"time"

	"github.com/skobkin/sbustap/internal/bus"
	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/protocol"
)

// BusHandler republishes session events on a message bus so several
// consumers (recorder, notifications, CLI output) can follow one session.
type BusHandler struct {
	bus bus.MessageBus
	now func() time.Time
}

func NewBusHandler(b bus.MessageBus) *BusHandler {
	return &BusHandler{bus: b, now: time.Now}
}

func (h *BusHandler) OnChannels(msg protocol.Channels) {
	h.bus.Publish(connectors.TopicChannels, msg)
}

func (h *BusHandler) OnStatus(msg protocol.Status) {
	h.bus.Publish(connectors.TopicDeviceStatus, msg)
}

func (h *BusHandler) OnOverrideExpired(msg protocol.OverrideExpired) {
	h.bus.Publish(connectors.TopicOverrideExpired, msg)
}

func (h *BusHandler) OnError(err error) {
	h.bus.Publish(connectors.TopicFault, connectors.Fault{
		Kind:      faultKind(err),
		Message:   err.Error(),
		Timestamp: h.now(),
	})
}

func (h *BusHandler) OnLine(dir connectors.Direction, line string) {
	topic := connectors.TopicRawLineIn
	if dir == connectors.DirectionOut {
		topic = connectors.TopicRawLineOut
	}
	h.bus.Publish(topic, connectors.RawLine{Direction: dir, Line: line, At: h.now()})
}

func (h *BusHandler) OnConnectionStatus(status connectors.ConnectionStatus) {
	h.bus.Publish(connectors.TopicConnStatus, status)
}

func faultKind(err error) connectors.FaultKind {
	var deviceErr *DeviceError
	var malformedErr *MalformedLineError
	switch {
	case errors.As(err, &deviceErr):
		return connectors.FaultDevice
	case errors.As(err, &malformedErr):
		return connectors.FaultMalformed
	case errors.Is(err, ErrCommunication):
		return connectors.FaultTransport
	default:
		return connectors.FaultOther
	}
}
