package device

import (
	"context"
	"fmt"

	"github.com/skobkin/sbustap/internal/protocol"
	"github.com/skobkin/sbustap/internal/sbus"
)

// OverrideReport is the result of OverrideStatus. Inconclusive is set when
// the device answered with something other than an override status; the
// report is then empty and Timestamp is the local clock in ms.
type OverrideReport struct {
	Overrides    []protocol.Override
	Timestamp    int64
	Inconclusive bool
}

// SetChannel overrides one channel. Invalid input fails before any I/O.
func (s *Session) SetChannel(ctx context.Context, channel, value int) (bool, error) {
	if err := sbus.ValidateChannel(channel); err != nil {
		return false, err
	}
	if err := sbus.ValidateValue(value); err != nil {
		return false, err
	}

	reply, err := s.Call(ctx, protocol.SetChannelCommand(channel, value), 0)
	if err != nil {
		return false, err
	}

	return acknowledged[protocol.ChannelSet](reply)
}

// SetChannels overrides several channels at once and returns the count the
// device reports. Every pair is validated before anything is sent.
func (s *Session) SetChannels(ctx context.Context, values []protocol.ChannelValue) (int, error) {
	for i, v := range values {
		if err := sbus.ValidateChannel(v.Channel); err != nil {
			return 0, fmt.Errorf("pair %d: %w", i, err)
		}
		if err := sbus.ValidateValue(v.Value); err != nil {
			return 0, fmt.Errorf("pair %d: %w", i, err)
		}
	}

	reply, err := s.Call(ctx, protocol.SetChannelsCommand(values), 0)
	if err != nil {
		return 0, err
	}

	switch m := reply.(type) {
	case protocol.ChannelsSet:
		return m.Count, nil
	case protocol.Error:
		return 0, &DeviceError{Message: m.Message}
	default:
		s.logger.Debug("unexpected reply", "command", protocol.CommandSetChannels, "type", reply.Type())

		return 0, nil
	}
}

func (s *Session) ClearChannel(ctx context.Context, channel int) (bool, error) {
	if err := sbus.ValidateChannel(channel); err != nil {
		return false, err
	}

	reply, err := s.Call(ctx, protocol.ClearChannelCommand(channel), 0)
	if err != nil {
		return false, err
	}

	return acknowledged[protocol.ChannelCleared](reply)
}

func (s *Session) ClearAllChannels(ctx context.Context) (bool, error) {
	reply, err := s.Call(ctx, protocol.ClearAllCommand(), 0)
	if err != nil {
		return false, err
	}

	return acknowledged[protocol.AllCleared](reply)
}

// OverrideStatus asks the device which overrides are active.
func (s *Session) OverrideStatus(ctx context.Context) (OverrideReport, error) {
	reply, err := s.Call(ctx, protocol.StatusCommand(), 0)
	if err != nil {
		return OverrideReport{}, err
	}

	switch m := reply.(type) {
	case protocol.OverrideStatus:
		return OverrideReport{Overrides: m.Overrides, Timestamp: m.Timestamp}, nil
	case protocol.Error:
		return OverrideReport{}, &DeviceError{Message: m.Message}
	default:
		s.logger.Debug("override status inconclusive", "reply_type", reply.Type())

		return OverrideReport{Timestamp: s.now().UnixMilli(), Inconclusive: true}, nil
	}
}

func (s *Session) Help(ctx context.Context) (protocol.Help, error) {
	reply, err := s.Call(ctx, protocol.HelpCommand(), 0)
	if err != nil {
		return protocol.Help{}, err
	}

	switch m := reply.(type) {
	case protocol.Help:
		return m, nil
	case protocol.Error:
		return protocol.Help{}, &DeviceError{Message: m.Message}
	default:
		return protocol.Help{}, &UnexpectedReplyError{Command: protocol.CommandHelp, Got: reply.Type()}
	}
}

// acknowledged reports whether reply is the expected acknowledgement T.
// A device error becomes *DeviceError; any other reply is a plain false.
func acknowledged[T protocol.Message](reply protocol.Message) (bool, error) {
	switch m := reply.(type) {
	case T:
		return true, nil
	case protocol.Error:
		return false, &DeviceError{Message: m.Message}
	default:
		return false, nil
	}
}
