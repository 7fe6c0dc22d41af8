package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/sbustap/internal/config"
	"github.com/skobkin/sbustap/internal/transport"
)

// SwitchableTransport wraps the active connector and lets runtime swap it
// when the shell retargets the session. Apply must only be called while the
// session is disconnected.
type SwitchableTransport struct {
	mu sync.RWMutex

	cfg         config.ConnectionConfig
	readTimeout time.Duration
	transport   transport.Transport
}

func NewConnectionTransport(cfg config.ConnectionConfig, readTimeout time.Duration) (*SwitchableTransport, error) {
	tr, err := newTransportForConnection(cfg, readTimeout)
	if err != nil {
		return nil, err
	}

	return &SwitchableTransport{
		cfg:         cfg,
		readTimeout: readTimeout,
		transport:   tr,
	}, nil
}

func (t *SwitchableTransport) Apply(cfg config.ConnectionConfig) error {
	t.mu.RLock()
	readTimeout := t.readTimeout
	t.mu.RUnlock()

	next, err := newTransportForConnection(cfg, readTimeout)
	if err != nil {
		return err
	}

	t.mu.Lock()
	current := t.transport
	t.transport = next
	t.cfg = cfg
	t.mu.Unlock()

	if current != nil {
		_ = current.Close()
	}

	return nil
}

func (t *SwitchableTransport) Name() string {
	tr := t.current()
	if tr == nil {
		return "unknown"
	}

	return tr.Name()
}

func (t *SwitchableTransport) StatusTarget() string {
	t.mu.RLock()
	tr := t.transport
	cfg := t.cfg
	t.mu.RUnlock()

	if provider, ok := tr.(transport.StatusTargetResolver); ok {
		target := strings.TrimSpace(provider.StatusTarget())
		if target != "" {
			return target
		}
	}

	return ConnectionTarget(cfg)
}

func (t *SwitchableTransport) Connect(ctx context.Context) error {
	tr := t.current()
	if tr == nil {
		return fmt.Errorf("transport is not configured")
	}

	return tr.Connect(ctx)
}

func (t *SwitchableTransport) Close() error {
	tr := t.current()
	if tr == nil {
		return nil
	}

	return tr.Close()
}

func (t *SwitchableTransport) Read(ctx context.Context, buf []byte) (int, error) {
	tr := t.current()
	if tr == nil {
		return 0, transport.ErrNotConnected
	}

	return tr.Read(ctx, buf)
}

func (t *SwitchableTransport) Write(ctx context.Context, payload []byte) error {
	tr := t.current()
	if tr == nil {
		return transport.ErrNotConnected
	}

	return tr.Write(ctx, payload)
}

func (t *SwitchableTransport) current() transport.Transport {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.transport
}

func (t *SwitchableTransport) Config() config.ConnectionConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.cfg
}

func NewTransportForConnection(cfg config.ConnectionConfig, readTimeout time.Duration) (transport.Transport, error) {
	return newTransportForConnection(cfg, readTimeout)
}

func newTransportForConnection(cfg config.ConnectionConfig, readTimeout time.Duration) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorIP:
		port := cfg.Port
		if port <= 0 {
			port = transport.DefaultIPPort
		}
		return transport.NewIPTransport(cfg.Host, port, readTimeout), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud, readTimeout), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}
