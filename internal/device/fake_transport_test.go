package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/sbustap/internal/transport"
)

// scriptedTransport plays the device side of a session in memory. Lines
// queued with emit are returned by Read; respond maps written commands to
// device replies.
type scriptedTransport struct {
	mu              sync.Mutex
	connected       bool
	connectErr      error
	writeErr        error
	pending         []byte
	writes          []string
	reads           int
	readsAfterClose int
	respond         func(line string) []string

	incoming chan []byte
	readErrs chan error
	idle     time.Duration
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		incoming: make(chan []byte, 256),
		readErrs: make(chan error, 16),
		idle:     5 * time.Millisecond,
	}
}

func (t *scriptedTransport) Name() string {
	return "scripted"
}

func (t *scriptedTransport) StatusTarget() string {
	return "memory"
}

func (t *scriptedTransport) Connect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true

	return nil
}

func (t *scriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false

	return nil
}

func (t *scriptedTransport) Read(ctx context.Context, buf []byte) (int, error) {
	t.mu.Lock()
	if !t.connected {
		t.readsAfterClose++
		t.mu.Unlock()

		return 0, transport.ErrNotConnected
	}
	t.reads++
	if len(t.pending) > 0 {
		n := copy(buf, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()

		return n, nil
	}
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	timer := time.NewTimer(t.idle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-t.readErrs:
		return 0, err
	case chunk := <-t.incoming:
		n := copy(buf, chunk)
		if n < len(chunk) {
			t.mu.Lock()
			t.pending = append(t.pending, chunk[n:]...)
			t.mu.Unlock()
		}

		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

func (t *scriptedTransport) Write(_ context.Context, payload []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()

		return transport.ErrNotConnected
	}
	if t.writeErr != nil {
		err := t.writeErr
		t.mu.Unlock()

		return err
	}
	line := strings.TrimSuffix(string(payload), "\n")
	t.writes = append(t.writes, string(payload))
	respond := t.respond
	t.mu.Unlock()

	if respond != nil {
		t.emit(respond(line)...)
	}

	return nil
}

func (t *scriptedTransport) emit(lines ...string) {
	for _, line := range lines {
		t.incoming <- []byte(line + "\n")
	}
}

func (t *scriptedTransport) failRead(err error) {
	t.readErrs <- err
}

func (t *scriptedTransport) setRespond(fn func(line string) []string) {
	t.mu.Lock()
	t.respond = fn
	t.mu.Unlock()
}

func (t *scriptedTransport) writtenLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.writes...)
}

func (t *scriptedTransport) readCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.reads
}

func (t *scriptedTransport) closedReads() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.readsAfterClose
}

func (t *scriptedTransport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connected
}

func replyWith(lines ...string) func(string) []string {
	return func(string) []string { return lines }
}

func channelsLine(input [16]int, failsafe bool, ts int64) string {
	parts := make([]string, len(input))
	zeros := make([]string, len(input))
	for i, v := range input {
		parts[i] = fmt.Sprint(v)
		zeros[i] = "0"
	}

	return fmt.Sprintf(
		`{"type":"channels","input_channels":[%s],"output_channels":[%s],"overrides":[%s],"frame_lost":false,"failsafe":%t,"timestamp":%d}`,
		strings.Join(parts, ","), strings.Join(parts, ","), strings.Join(zeros, ","), failsafe, ts,
	)
}

var errFlaky = errors.New("flaky read")
