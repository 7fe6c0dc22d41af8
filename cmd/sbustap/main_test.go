package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/sbustap/internal/config"
	"github.com/skobkin/sbustap/internal/protocol"
)

// startFakeDevice serves one client: it announces readiness and answers
// commands from replies, keyed by command name.
func startFakeDevice(t *testing.T, replies map[string]string) int {
	t.Helper()

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		if _, err := io.WriteString(conn, "{\"type\":\"ready\"}\n"); err != nil {
			return
		}
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			cmd, err := protocol.ParseCommand(scanner.Text())
			if err != nil {
				continue
			}
			reply, ok := replies[string(cmd.Name)]
			if !ok {
				reply = `{"type":"error","message":"unknown command"}`
			}
			if _, err := io.WriteString(conn, reply+"\n"); err != nil {
				return
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func runWithDevice(t *testing.T, port int, stdin string, args ...string) (string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := []string{
		"--config", filepath.Join(t.TempDir(), "config.json"),
		"--host", "127.0.0.1",
		"--tcp-port", strconv.Itoa(port),
		"--log-level", "error",
	}
	var stdout, stderr bytes.Buffer
	err := run(ctx, append(base, args...), strings.NewReader(stdin), &stdout, &stderr)

	return stdout.String(), err
}

func TestRunSet(t *testing.T) {
	port := startFakeDevice(t, map[string]string{"set_channel": `{"type":"channel_set"}`})

	out, err := runWithDevice(t, port, "", "set", "1", "1500us")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := "channel 1 set to 992 (1500 us, +0%)\n"; out != want {
		t.Fatalf("unexpected output %q, want %q", out, want)
	}
}

func TestRunSetReportsDeviceError(t *testing.T) {
	port := startFakeDevice(t, map[string]string{"set_channel": `{"type":"error","message":"override rejected"}`})

	_, err := runWithDevice(t, port, "", "set", "2", "992")
	if err == nil || !strings.Contains(err.Error(), "override rejected") {
		t.Fatalf("expected device error, got %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	port := startFakeDevice(t, map[string]string{
		"status": `{"type":"override_status","overrides":[{"channel":3,"value":992,"remaining_ms":750}],"timestamp":10}`,
	})

	out, err := runWithDevice(t, port, "", "status")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "channel  3: 992 (1500 us, +0%), 750 ms remaining") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRunShellFromStdin(t *testing.T) {
	port := startFakeDevice(t, map[string]string{
		"set_channels":  `{"type":"channels_set","count":2}`,
		"clear_all":     `{"type":"all_cleared"}`,
		"clear_channel": `{"type":"channel_cleared"}`,
	})

	stdin := "# comment\nset-many 1=1000 2=50%\nclear 2\nbogus\nclear-all\nquit\nclear-all\n"
	out, err := runWithDevice(t, port, stdin, "shell")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{
		"2 channels set",
		"channel 2 cleared",
		`error: unknown command "bogus"`,
		"all overrides cleared",
	}
	for _, line := range want {
		if !strings.Contains(out, line) {
			t.Fatalf("output %q misses %q", out, line)
		}
	}
	if strings.Count(out, "all overrides cleared") != 1 {
		t.Fatalf("commands after quit must not run: %q", out)
	}
}

func TestRunWithoutCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), nil, strings.NewReader(""), &stdout, &stderr); err == nil {
		t.Fatalf("expected error without a command")
	}
	if !strings.Contains(stderr.String(), "usage: sbustap") {
		t.Fatalf("expected usage, got %q", stderr.String())
	}

	if err := run(context.Background(), []string{"nope"}, strings.NewReader(""), &stdout, &stderr); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"version"}, strings.NewReader(""), &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "sbustap ") {
		t.Fatalf("unexpected version output %q", stdout.String())
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "992", want: 992},
		{in: " 172 ", want: 172},
		{in: "1000us", want: 172},
		{in: "2000µs", want: 1811},
		{in: "0%", want: 992},
		{in: "100%", want: 1811},
		{in: "-100%", want: 173},
		{in: "abc", wantErr: true},
		{in: "12xus", wantErr: true},
		{in: "%", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseValue(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseValue(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("parseValue(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestParsePair(t *testing.T) {
	got, err := parsePair("4=1500us")
	if err != nil {
		t.Fatalf("parse pair: %v", err)
	}
	if got != (protocol.ChannelValue{Channel: 4, Value: 992}) {
		t.Fatalf("unexpected pair %+v", got)
	}

	for _, bad := range []string{"4", "x=1", "4=y"} {
		if _, err := parsePair(bad); err == nil {
			t.Fatalf("parsePair(%q): expected error", bad)
		}
	}
}

func TestFormatChannels(t *testing.T) {
	var in, out, overrides [protocol.ChannelCount]int
	in[0], out[0], overrides[2] = 992, 1000, 1200

	got := formatMessage(protocol.Channels{
		InputChannels:  in,
		OutputChannels: out,
		Overrides:      overrides,
		Failsafe:       true,
		Timestamp:      42,
	})
	for _, part := range []string{"ts=42", "in=992,0,", "out=1000,0,", "overrides=3=1200", "FAILSAFE"} {
		if !strings.Contains(got, part) {
			t.Fatalf("%q misses %q", got, part)
		}
	}
	if strings.Contains(got, "FRAME_LOST") {
		t.Fatalf("unexpected frame lost flag in %q", got)
	}
}

func TestShellQuitReturnsToCaller(t *testing.T) {
	e := &env{}
	for _, line := range []string{"quit", "exit", "  quit  now"} {
		if err := e.execShellLine(context.Background(), line); !errors.Is(err, errQuitShell) {
			t.Fatalf("execShellLine(%q) = %v, want errQuitShell", line, err)
		}
	}

	port := startFakeDevice(t, nil)
	if _, err := runWithDevice(t, port, "quit\n", "shell"); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestParseToggle(t *testing.T) {
	if on, err := parseToggle([]string{"ON"}); err != nil || !on {
		t.Fatalf("expected on, got %v %v", on, err)
	}
	if on, err := parseToggle([]string{"off"}); err != nil || on {
		t.Fatalf("expected off, got %v %v", on, err)
	}
	if _, err := parseToggle(nil); err == nil {
		t.Fatalf("expected error without argument")
	}
}

func TestParseConnectArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    config.ConnectionConfig
		wantErr bool
	}{
		{
			name: "serial",
			args: []string{"serial", "/dev/ttyACM1"},
			want: config.ConnectionConfig{Connector: config.ConnectorSerial, SerialPort: "/dev/ttyACM1"},
		},
		{
			name: "serial with baud",
			args: []string{"serial", "/dev/ttyACM1", "57600"},
			want: config.ConnectionConfig{Connector: config.ConnectorSerial, SerialPort: "/dev/ttyACM1", SerialBaud: 57600},
		},
		{
			name: "ip with port",
			args: []string{"ip", "tap.local", "4000"},
			want: config.ConnectionConfig{Connector: config.ConnectorIP, Host: "tap.local", Port: 4000},
		},
		{name: "missing target", args: []string{"ip"}, wantErr: true},
		{name: "bad number", args: []string{"ip", "tap.local", "x"}, wantErr: true},
		{name: "unknown connector", args: []string{"usb", "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseConnectArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRunHistoryEmptyDatabase(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := []string{"--config", filepath.Join(t.TempDir(), "config.json"), "history", "--limit", "5"}
	if err := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "frames: 0 (failsafe 0, frame lost 0)") {
		t.Fatalf("unexpected history output %q", stdout.String())
	}
}
