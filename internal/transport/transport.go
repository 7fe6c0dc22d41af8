package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by Read and Write before Connect or after Close.
	ErrNotConnected = errors.New("transport is not connected")
	// ErrDisconnected marks faults the link cannot recover from, e.g. an unplugged device.
	ErrDisconnected = errors.New("transport disconnected")
)

// Transport is a duplex byte stream to the device.
//
// Read blocks for at most the transport read timeout and returns 0, nil when
// nothing arrived in that window, so callers can poll for cancellation.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	Read(ctx context.Context, buf []byte) (int, error)
	Write(ctx context.Context, payload []byte) error
}

type StatusTargetResolver interface {
	StatusTarget() string
}
