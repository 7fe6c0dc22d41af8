package connectors

import "time"

// ConnectionState describes the session lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
)

// ConnectionStatus is a bus event snapshot of the session connection.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// Direction tells whether a raw line was received or sent.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// RawLine carries line diagnostics for debug output.
type RawLine struct {
	Direction Direction
	Line      string
	At        time.Time
}

// FaultKind classifies errors reported by a session.
type FaultKind string

const (
	FaultDevice    FaultKind = "device"
	FaultMalformed FaultKind = "malformed"
	FaultTransport FaultKind = "transport"
	FaultOther     FaultKind = "other"
)

// Fault is a bus event for an error observed by the reader loop.
type Fault struct {
	Kind      FaultKind
	Message   string
	Timestamp time.Time
}
