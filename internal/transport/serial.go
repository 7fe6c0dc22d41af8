package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.bug.st/serial"
)

const DefaultSerialReadTimeout = 100 * time.Millisecond

type openPortFunc func(portName string, mode *serial.Mode) (serial.Port, error)

// SerialTransport talks to the device over a USB CDC serial port.
type SerialTransport struct {
	portName    string
	baudRate    int
	readTimeout time.Duration
	open        openPortFunc

	mu      sync.Mutex
	port    serial.Port
	writeMu sync.Mutex
}

func NewSerialTransport(portName string, baudRate int, readTimeout time.Duration) *SerialTransport {
	if readTimeout <= 0 {
		readTimeout = DefaultSerialReadTimeout
	}

	return &SerialTransport{
		portName:    portName,
		baudRate:    baudRate,
		readTimeout: readTimeout,
		open:        serial.Open,
	}
}

func (t *SerialTransport) Name() string {
	return "serial"
}

func (t *SerialTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if strings.TrimSpace(t.portName) == "" {
		return ""
	}

	return fmt.Sprintf("%s@%d", t.portName, t.baudRate)
}

func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.port != nil
}

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	logger := transportLogger("serial", t.portName)

	if t.port != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(t.portName) == "" {
		return errors.New("serial port is empty")
	}
	if t.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", t.baudRate)
	}

	port, err := t.open(t.portName, &serial.Mode{BaudRate: t.baudRate})
	if err != nil {
		logger.Warn("open failed", "error", err)

		return fmt.Errorf("open serial port %q: %w", t.portName, err)
	}
	if err := port.SetReadTimeout(t.readTimeout); err != nil {
		_ = port.Close()

		return fmt.Errorf("set serial read timeout: %w", err)
	}
	t.port = port
	logger.Info("opened", "baud", t.baudRate, "read_timeout", t.readTimeout)

	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		transportLogger("serial", t.portName).Warn("close failed", "error", err)

		return err
	}
	transportLogger("serial", t.portName).Info("closed")

	return nil
}

func (t *SerialTransport) Read(ctx context.Context, buf []byte) (int, error) {
	port, err := t.currentPort()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n, err := port.Read(buf)
	if err != nil {
		return n, classifySerialError(err)
	}

	return n, nil
}

func (t *SerialTransport) Write(ctx context.Context, payload []byte) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := writeFull(ctx, port, payload); err != nil {
		return fmt.Errorf("write serial: %w", classifySerialError(err))
	}

	return nil
}

func (t *SerialTransport) currentPort() (serial.Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrNotConnected
	}

	return t.port, nil
}

// classifySerialError marks errors after which the port will not recover.
// On Linux an unplugged CDC device shows up as PortClosed on the next read.
func classifySerialError(err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, syscall.ENXIO) || errors.Is(err, syscall.ENODEV) {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	return err
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		written += n
	}

	return nil
}
