package protocol

import "encoding/json"

// ChannelCount is the number of SBUS channels carried by the device.
const ChannelCount = 16

// Type is the wire discriminator of a device message.
type Type string

const (
	TypeReady           Type = "ready"
	TypeChannels        Type = "channels"
	TypeStatus          Type = "status"
	TypeChannelSet      Type = "channel_set"
	TypeChannelsSet     Type = "channels_set"
	TypeChannelCleared  Type = "channel_cleared"
	TypeAllCleared      Type = "all_cleared"
	TypeOverrideStatus  Type = "override_status"
	TypeOverrideExpired Type = "override_expired"
	TypeHelp            Type = "help"
	TypeError           Type = "error"

	// TypeMalformed never appears on the wire.
	TypeMalformed Type = "malformed"
)

// Message is one classified device line. The concrete types below are the
// only implementations.
type Message interface {
	Type() Type
}

// Ready is emitted once after the device boots.
type Ready struct{}

// Channels is a telemetry snapshot. Arrays are indexed from 0; channel N at
// the API surface is index N-1.
type Channels struct {
	InputChannels  [ChannelCount]int
	OutputChannels [ChannelCount]int
	Overrides      [ChannelCount]int
	FrameLost      bool
	Failsafe       bool
	Timestamp      int64
}

// Status reports whether the device currently receives SBUS frames.
type Status struct {
	Connected bool
	Timestamp int64
}

type ChannelSet struct{}

type ChannelsSet struct {
	Count int
}

type ChannelCleared struct{}

type AllCleared struct{}

// Override is an active client-requested channel value.
type Override struct {
	Channel     int   `json:"channel"`
	Value       int   `json:"value"`
	RemainingMS int64 `json:"remaining_ms"`
}

type OverrideStatus struct {
	Overrides []Override
	Timestamp int64
}

type OverrideExpired struct {
	Channel int
}

// Help carries the device help payload verbatim, without the type field.
type Help struct {
	Fields map[string]json.RawMessage
}

type Error struct {
	Message string
}

// Malformed is a line that could not be classified.
type Malformed struct {
	Line   string
	Reason string
}

func (Ready) Type() Type           { return TypeReady }
func (Channels) Type() Type        { return TypeChannels }
func (Status) Type() Type          { return TypeStatus }
func (ChannelSet) Type() Type      { return TypeChannelSet }
func (ChannelsSet) Type() Type     { return TypeChannelsSet }
func (ChannelCleared) Type() Type  { return TypeChannelCleared }
func (AllCleared) Type() Type      { return TypeAllCleared }
func (OverrideStatus) Type() Type  { return TypeOverrideStatus }
func (OverrideExpired) Type() Type { return TypeOverrideExpired }
func (Help) Type() Type            { return TypeHelp }
func (Error) Type() Type           { return TypeError }
func (Malformed) Type() Type       { return TypeMalformed }

// IsTelemetry reports whether m is an unsolicited device notification rather
// than a command reply.
func IsTelemetry(m Message) bool {
	switch m.(type) {
	case Ready, Channels, Status, OverrideExpired:
		return true
	default:
		return false
	}
}

// Input returns the 1-based input channel value.
func (c Channels) Input(channel int) (int, bool) {
	return channelAt(c.InputChannels, channel)
}

// Output returns the 1-based output channel value.
func (c Channels) Output(channel int) (int, bool) {
	return channelAt(c.OutputChannels, channel)
}

// Override returns the 1-based override value, zero when none is active.
func (c Channels) Override(channel int) (int, bool) {
	return channelAt(c.Overrides, channel)
}

func channelAt(values [ChannelCount]int, channel int) (int, bool) {
	if channel < 1 || channel > ChannelCount {
		return 0, false
	}

	return values[channel-1], true
}
