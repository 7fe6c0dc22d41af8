package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/skobkin/sbustap/internal/connectors"
	"github.com/skobkin/sbustap/internal/device"
	"github.com/skobkin/sbustap/internal/persistence"
	"github.com/skobkin/sbustap/internal/protocol"
	"github.com/skobkin/sbustap/internal/sbus"
	"github.com/skobkin/sbustap/internal/transport"
)

// console serializes output from commands and the session reader goroutine.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.Write(p)
}

func (c *console) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c, format, args...)
}

// eventPrinter prints session events. Output is muted until enabled.
type eventPrinter struct {
	out     *console
	enabled atomic.Bool
	raw     atomic.Bool
}

func newEventPrinter(out *console) *eventPrinter {
	return &eventPrinter{out: out}
}

func (p *eventPrinter) OnChannels(msg protocol.Channels) {
	if p.enabled.Load() {
		p.out.Printf("%s\n", formatMessage(msg))
	}
}

func (p *eventPrinter) OnStatus(msg protocol.Status) {
	if p.enabled.Load() {
		p.out.Printf("%s\n", formatMessage(msg))
	}
}

func (p *eventPrinter) OnOverrideExpired(msg protocol.OverrideExpired) {
	if p.enabled.Load() {
		p.out.Printf("%s\n", formatMessage(msg))
	}
}

func (p *eventPrinter) OnError(err error) {
	if !p.enabled.Load() {
		return
	}
	var malformed *device.MalformedLineError
	if errors.As(err, &malformed) {
		p.out.Printf("malformed line: %s\n", malformed.Reason)
		return
	}
	p.out.Printf("error: %v\n", err)
}

func (p *eventPrinter) OnLine(dir connectors.Direction, line string) {
	if p.raw.Load() {
		marker := "<-"
		if dir == connectors.DirectionOut {
			marker = "->"
		}
		p.out.Printf("%s %s\n", marker, line)
	}
}

func (p *eventPrinter) OnConnectionStatus(status connectors.ConnectionStatus) {
	if !p.enabled.Load() {
		return
	}
	if status.Err != "" {
		p.out.Printf("connection %s (%s): %s\n", status.State, status.Target, status.Err)
		return
	}
	p.out.Printf("connection %s (%s)\n", status.State, status.Target)
}

func formatMessage(msg protocol.Message) string {
	switch m := msg.(type) {
	case protocol.Ready:
		return "ready"
	case protocol.Channels:
		return formatChannels(m.Timestamp, m.InputChannels, m.OutputChannels, m.Overrides, m.FrameLost, m.Failsafe)
	case protocol.Status:
		if m.Connected {
			return fmt.Sprintf("status ts=%d receiver connected", m.Timestamp)
		}
		return fmt.Sprintf("status ts=%d receiver disconnected", m.Timestamp)
	case protocol.ChannelSet:
		return "channel set"
	case protocol.ChannelsSet:
		return fmt.Sprintf("channels set count=%d", m.Count)
	case protocol.ChannelCleared:
		return "channel cleared"
	case protocol.AllCleared:
		return "all cleared"
	case protocol.OverrideStatus:
		parts := make([]string, 0, len(m.Overrides))
		for _, o := range m.Overrides {
			parts = append(parts, fmt.Sprintf("%d=%d(%dms)", o.Channel, o.Value, o.RemainingMS))
		}
		return fmt.Sprintf("override status ts=%d [%s]", m.Timestamp, strings.Join(parts, " "))
	case protocol.OverrideExpired:
		return fmt.Sprintf("override expired channel=%d", m.Channel)
	case protocol.Help:
		keys := make([]string, 0, len(m.Fields))
		for k := range m.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "help " + strings.Join(keys, ",")
	case protocol.Error:
		return "device error: " + m.Message
	case protocol.Malformed:
		return fmt.Sprintf("malformed (%s): %s", m.Reason, m.Line)
	default:
		return string(msg.Type())
	}
}

func formatFrame(frame persistence.ChannelFrameRecord) string {
	return formatChannels(frame.DeviceTimestamp, frame.Input, frame.Output, frame.Overrides, frame.FrameLost, frame.Failsafe)
}

func formatChannels(ts int64, input, output, overrides [protocol.ChannelCount]int, frameLost, failsafe bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "channels ts=%d in=%s out=%s", ts, joinInts(input[:]), joinInts(output[:]))
	var active []string
	for i, v := range overrides {
		if v != 0 {
			active = append(active, fmt.Sprintf("%d=%d", i+1, v))
		}
	}
	if len(active) > 0 {
		fmt.Fprintf(&b, " overrides=%s", strings.Join(active, ","))
	}
	if failsafe {
		b.WriteString(" FAILSAFE")
	}
	if frameLost {
		b.WriteString(" FRAME_LOST")
	}

	return b.String()
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}

	return strings.Join(parts, ",")
}

func formatValue(value int) string {
	return fmt.Sprintf("%d (%d us, %+.0f%%)", value, sbus.ToMicroseconds(value), sbus.ToPercent(value))
}

func formatPort(port transport.PortInfo) string {
	if !port.IsUSB {
		return port.Name
	}
	desc := fmt.Sprintf("%s usb %s:%s", port.Name, port.VID, port.PID)
	if port.Product != "" {
		desc += " " + port.Product
	}
	if port.SerialNumber != "" {
		desc += " sn=" + port.SerialNumber
	}

	return desc
}
