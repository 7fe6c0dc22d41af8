package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultIPPort        = 2000
	DefaultIPReadTimeout = 100 * time.Millisecond
	ipDialTimeout        = 6 * time.Second
)

// IPTransport carries the same line protocol over TCP, e.g. through a
// ser2net bridge in front of the device.
type IPTransport struct {
	host        string
	port        int
	readTimeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
}

func NewIPTransport(host string, port int, readTimeout time.Duration) *IPTransport {
	if port == 0 {
		port = DefaultIPPort
	}
	if readTimeout <= 0 {
		readTimeout = DefaultIPReadTimeout
	}

	return &IPTransport{host: host, port: port, readTimeout: readTimeout}
}

func (t *IPTransport) Name() string {
	return "ip"
}

func (t *IPTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.targetLocked()
}

func (t *IPTransport) targetLocked() string {
	if t.host == "" {
		return ""
	}

	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *IPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *IPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := t.targetLocked()
	logger := transportLogger("ip", target)

	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if target == "" {
		logger.Warn("connect failed: host is empty")

		return errors.New("ip host is empty")
	}

	dialer := net.Dialer{Timeout: ipDialTimeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial tcp: %w", err)
	}
	t.conn = conn
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *IPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("ip", t.targetLocked())
	if t.conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		logger.Warn("close failed", "error", err)

		return err
	}
	logger.Info("closed")

	return nil
}

func (t *IPTransport) Read(ctx context.Context, buf []byte) (int, error) {
	conn, err := t.currentConn()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(t.readTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetReadDeadline(deadline)

	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return n, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}

		return n, fmt.Errorf("read tcp: %w", err)
	}

	return n, nil
}

func (t *IPTransport) Write(ctx context.Context, payload []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := writeFull(ctx, conn, payload); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("write tcp: %w: %v", ErrDisconnected, err)
		}

		return fmt.Errorf("write tcp: %w", err)
	}

	return nil
}

func (t *IPTransport) currentConn() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}

	return t.conn, nil
}
