package device

import (
	"time"

	"github.com/skobkin/sbustap/internal/protocol"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultResponseTimeout  = 5 * time.Second
	DefaultStopTimeout      = 2 * time.Second
	DefaultErrorBackoff     = 100 * time.Millisecond

	readChunkSize = 512
)

// Options tunes session timing. Zero fields take the defaults above.
type Options struct {
	HandshakeTimeout time.Duration
	ResponseTimeout  time.Duration
	StopTimeout      time.Duration
	ErrorBackoff     time.Duration
	MaxLineLength    int

	// SkipUnsolicited keeps telemetry and malformed lines out of the reply
	// slot while a call waits. The device does not tag replies, so without
	// it a call returns whatever line arrives first.
	SkipUnsolicited bool
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: DefaultHandshakeTimeout,
		ResponseTimeout:  DefaultResponseTimeout,
		StopTimeout:      DefaultStopTimeout,
		ErrorBackoff:     DefaultErrorBackoff,
		MaxLineLength:    protocol.DefaultMaxLineLength,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = d.ResponseTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = d.StopTimeout
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = d.ErrorBackoff
	}
	if o.MaxLineLength <= 0 {
		o.MaxLineLength = d.MaxLineLength
	}

	return o
}
