package device

import (
	"errors"
	"fmt"

	"github.com/skobkin/sbustap/internal/protocol"
)

var (
	ErrNotConnected      = errors.New("not connected to device")
	ErrHandshakeTimeout  = errors.New("device ready message not received")
	ErrCommunication     = errors.New("device communication failed")
	ErrTimeout           = errors.New("no reply from device")
	ErrCallInProgress    = errors.New("another device call is in progress")
	ErrAlreadyMonitoring = errors.New("monitoring already active")
	ErrStopTimeout       = errors.New("reader loop did not stop in time")
)

// DeviceError is an error message reported by the device itself.
type DeviceError struct {
	Message string
}

func (e *DeviceError) Error() string {
	return "device error: " + e.Message
}

// MalformedLineError is reported to handlers for lines that could not be
// classified. It never aborts monitoring.
type MalformedLineError struct {
	Line   string
	Reason string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line (%s): %q", e.Reason, previewLine(e.Line))
}

// UnexpectedReplyError is returned when a reply has a type the command
// cannot interpret.
type UnexpectedReplyError struct {
	Command protocol.CommandName
	Got     protocol.Type
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("unexpected %s reply to %s", e.Got, e.Command)
}

const maxLinePreview = 120

func previewLine(line string) string {
	if len(line) <= maxLinePreview {
		return line
	}

	return line[:maxLinePreview] + "..."
}
