package device

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/sbustap/internal/protocol"
)

func TestCall_NotConnected(t *testing.T) {
	tr := newScriptedTransport()
	s := NewSession(nil, tr, nil, testOptions())

	_, err := s.Call(context.Background(), protocol.StatusCommand(), time.Second)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if len(tr.writtenLines()) != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestCall_ReturnsFirstMessageVerbatim(t *testing.T) {
	s, tr, _ := connectedSession(t, testOptions())
	tr.setRespond(replyWith(`{"type":"help","commands":["status"]}`))

	reply, err := s.Call(context.Background(), protocol.HelpCommand(), time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	help, ok := reply.(protocol.Help)
	if !ok {
		t.Fatalf("expected Help reply, got %T", reply)
	}
	if string(help.Fields["commands"]) != `["status"]` {
		t.Fatalf("unexpected help payload: %s", help.Fields["commands"])
	}
	if got := tr.writtenLines(); len(got) != 1 || got[0] != "{\"command\":\"help\"}\n" {
		t.Fatalf("unexpected written lines: %q", got)
	}
}

func TestCall_TimeoutNotBeforeDeadline(t *testing.T) {
	s, _, _ := connectedSession(t, testOptions())

	const timeout = 150 * time.Millisecond
	start := time.Now()
	_, err := s.Call(context.Background(), protocol.SetChannelCommand(1, 992), timeout)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < timeout {
		t.Fatalf("call timed out early after %s", elapsed)
	}
}

func TestCall_DefaultTimeoutFromOptions(t *testing.T) {
	opts := testOptions()
	opts.ResponseTimeout = 60 * time.Millisecond
	s, _, _ := connectedSession(t, opts)

	start := time.Now()
	_, err := s.Call(context.Background(), protocol.StatusCommand(), 0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < opts.ResponseTimeout {
		t.Fatalf("call timed out early after %s", elapsed)
	}
}

func TestCall_ContextCancellation(t *testing.T) {
	s, _, _ := connectedSession(t, testOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.Call(ctx, protocol.StatusCommand(), 5*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}

func TestCall_WriteFailure(t *testing.T) {
	s, tr, _ := connectedSession(t, testOptions())
	tr.mu.Lock()
	tr.writeErr = errors.New("broken pipe")
	tr.mu.Unlock()

	_, err := s.Call(context.Background(), protocol.StatusCommand(), time.Second)
	if !errors.Is(err, ErrCommunication) {
		t.Fatalf("expected ErrCommunication, got %v", err)
	}
}

func TestCall_OverlappingCallFailsFast(t *testing.T) {
	s, tr, _ := connectedSession(t, testOptions())

	type result struct {
		msg protocol.Message
		err error
	}
	first := make(chan result, 1)
	go func() {
		msg, err := s.Call(context.Background(), protocol.StatusCommand(), 2*time.Second)
		first <- result{msg, err}
	}()

	deadline := time.Now().Add(time.Second)
	for len(tr.writtenLines()) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	start := time.Now()
	_, err := s.Call(context.Background(), protocol.HelpCommand(), 2*time.Second)
	if !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("overlapping call should fail fast")
	}
	if got := len(tr.writtenLines()); got != 1 {
		t.Fatalf("overlapping call must not write, got %d writes", got)
	}

	tr.emit(`{"type":"override_status","overrides":[],"timestamp":1}`)
	res := <-first
	if res.err != nil {
		t.Fatalf("first call: %v", res.err)
	}
	if _, ok := res.msg.(protocol.OverrideStatus); !ok {
		t.Fatalf("expected OverrideStatus reply, got %T", res.msg)
	}
}

func TestCall_StaleReplyIsDrained(t *testing.T) {
	s, tr, _ := connectedSession(t, testOptions())
	s.replies <- protocol.ChannelSet{}
	tr.setRespond(replyWith(`{"type":"all_cleared"}`))

	reply, err := s.Call(context.Background(), protocol.ClearAllCommand(), time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, ok := reply.(protocol.AllCleared); !ok {
		t.Fatalf("expected AllCleared, got %T", reply)
	}
}

func TestCall_TelemetryConsumedWithoutSkip(t *testing.T) {
	s, tr, _ := connectedSession(t, testOptions())
	tr.setRespond(replyWith(`{"type":"status","connected":true,"timestamp":5}`, `{"type":"channel_set"}`))

	reply, err := s.Call(context.Background(), protocol.SetChannelCommand(2, 1000), time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, ok := reply.(protocol.Status); !ok {
		t.Fatalf("expected first message to be taken as the reply, got %T", reply)
	}
}

func TestCall_SkipUnsolicitedWaitsForReply(t *testing.T) {
	opts := testOptions()
	opts.SkipUnsolicited = true
	s, tr, h := connectedSession(t, opts)
	tr.setRespond(replyWith(
		`{"type":"status","connected":true,"timestamp":5}`,
		`garbage`,
		`{"type":"channel_set"}`,
	))

	reply, err := s.Call(context.Background(), protocol.SetChannelCommand(2, 1000), time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, ok := reply.(protocol.ChannelSet); !ok {
		t.Fatalf("expected ChannelSet, got %T", reply)
	}
	waitEvent(t, h.events, "status")
}

func TestCall_WhileStoppedTimesOut(t *testing.T) {
	s, tr, _ := connectedSession(t, testOptions())
	if err := s.StopMonitoring(); err != nil {
		t.Fatalf("stop monitoring: %v", err)
	}
	tr.setRespond(replyWith(`{"type":"channel_set"}`))

	_, err := s.Call(context.Background(), protocol.SetChannelCommand(1, 992), 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout without a running reader, got %v", err)
	}
}

func TestCall_EncodeFailureNotWritten(t *testing.T) {
	s, tr, _ := connectedSession(t, testOptions())

	cmd := protocol.Command{Name: "bogus", Args: map[string]any{"value": make(chan int)}}
	_, err := s.Call(context.Background(), cmd, time.Second)
	if err == nil {
		t.Fatalf("expected encode error")
	}
	if got := strings.Count(err.Error(), "encode bogus command"); got != 1 {
		t.Fatalf("expected a single encode prefix, got %q", err.Error())
	}
	if len(tr.writtenLines()) != 0 {
		t.Fatalf("expected no writes, got %v", tr.writtenLines())
	}
}
