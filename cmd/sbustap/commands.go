package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/skobkin/sbustap/internal/app"
	"github.com/skobkin/sbustap/internal/protocol"
	"github.com/skobkin/sbustap/internal/sbus"
	"github.com/skobkin/sbustap/internal/transport"
)

const (
	defaultHistoryLimit = 20
	linkPollInterval    = 200 * time.Millisecond
)

type env struct {
	rt      *app.Runtime
	out     *console
	in      io.Reader
	printer *eventPrinter
}

type command struct {
	name    string
	usage   string
	summary string
	// runtime commands get an initialized app runtime.
	runtime bool
	// connect commands also get a connected, monitoring session.
	connect bool
	// database commands need the telemetry database even if recording is off.
	database bool
	// events commands print device telemetry while they run.
	events bool
	run    func(ctx context.Context, e *env, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{name: "ports", usage: "ports", summary: "list serial ports", run: runPorts},
		{name: "monitor", usage: "monitor [--duration d] [--raw]", summary: "print device telemetry", runtime: true, connect: true, events: true, run: runMonitor},
		{name: "set", usage: "set <channel> <value>", summary: "override a channel; value is raw, <n>us or <n>%", runtime: true, connect: true, run: runSet},
		{name: "set-many", usage: "set-many <ch=value>...", summary: "override several channels at once", runtime: true, connect: true, run: runSetMany},
		{name: "clear", usage: "clear <channel>", summary: "clear a channel override", runtime: true, connect: true, run: runClear},
		{name: "clear-all", usage: "clear-all", summary: "clear all overrides", runtime: true, connect: true, run: runClearAll},
		{name: "status", usage: "status", summary: "show active overrides", runtime: true, connect: true, run: runStatus},
		{name: "help", usage: "help", summary: "show the device help reply", runtime: true, connect: true, run: runHelp},
		{name: "send", usage: "send <json>", summary: "send a raw command object and print the reply", runtime: true, connect: true, run: runSend},
		{name: "shell", usage: "shell", summary: "interactive console", runtime: true, connect: true, run: runShell},
		{name: "info", usage: "info", summary: "show connection and the last telemetry snapshot", runtime: true, connect: true, run: runInfo},
		{name: "history", usage: "history [--limit n] [--clear]", summary: "show recorded telemetry", runtime: true, database: true, run: runHistory},
		{name: "version", usage: "version", summary: "print version", run: runVersion},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}

	return command{}, false
}

func newSubFlagSet(name string, e *env) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(e.out)

	return flagSet
}

func runPorts(_ context.Context, e *env, _ []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		e.out.Printf("no serial ports found\n")
		return nil
	}
	for _, port := range ports {
		e.out.Printf("%s\n", formatPort(port))
	}

	return nil
}

func runVersion(_ context.Context, e *env, _ []string) error {
	e.out.Printf("%s %s\n", app.Name, app.BuildVersionWithDate())
	return nil
}

func runMonitor(ctx context.Context, e *env, args []string) error {
	flagSet := newSubFlagSet("monitor", e)
	duration := flagSet.DurationP("duration", "d", 0, "stop after this long")
	raw := flagSet.Bool("raw", false, "also print raw lines")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	e.printer.raw.Store(*raw)
	e.printer.enabled.Store(true)

	e.out.Printf("monitoring %s, press Ctrl+C to stop\n", e.rt.ConnectionTransport.StatusTarget())

	var deadline <-chan time.Time
	if *duration > 0 {
		timer := time.NewTimer(*duration)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(linkPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-ticker.C:
			if !e.rt.Session.Monitoring() {
				return errors.New("device link lost")
			}
		}
	}
}

func runSet(ctx context.Context, e *env, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set <channel> <value>")
	}
	channel, err := parseChannel(args[0])
	if err != nil {
		return err
	}
	value, err := parseValue(args[1])
	if err != nil {
		return err
	}

	ok, err := e.rt.Session.SetChannel(ctx, channel, value)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("channel %d: device did not acknowledge", channel)
	}
	e.out.Printf("channel %d set to %s\n", channel, formatValue(value))

	return nil
}

func runSetMany(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: set-many <ch=value>...")
	}
	values := make([]protocol.ChannelValue, 0, len(args))
	for _, arg := range args {
		pair, err := parsePair(arg)
		if err != nil {
			return err
		}
		values = append(values, pair)
	}

	count, err := e.rt.Session.SetChannels(ctx, values)
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.New("device did not acknowledge")
	}
	e.out.Printf("%d channels set\n", count)

	return nil
}

func runClear(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: clear <channel>")
	}
	channel, err := parseChannel(args[0])
	if err != nil {
		return err
	}

	ok, err := e.rt.Session.ClearChannel(ctx, channel)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("channel %d: device did not acknowledge", channel)
	}
	e.out.Printf("channel %d cleared\n", channel)

	return nil
}

func runClearAll(ctx context.Context, e *env, _ []string) error {
	ok, err := e.rt.Session.ClearAllChannels(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("device did not acknowledge")
	}
	e.out.Printf("all overrides cleared\n")

	return nil
}

func runStatus(ctx context.Context, e *env, _ []string) error {
	report, err := e.rt.Session.OverrideStatus(ctx)
	if err != nil {
		return err
	}
	if report.Inconclusive {
		e.out.Printf("override status unknown: device sent another message\n")
		return nil
	}
	if len(report.Overrides) == 0 {
		e.out.Printf("no active overrides\n")
		return nil
	}
	for _, o := range report.Overrides {
		e.out.Printf("channel %2d: %s, %d ms remaining\n", o.Channel, formatValue(o.Value), o.RemainingMS)
	}

	return nil
}

func runHelp(ctx context.Context, e *env, _ []string) error {
	help, err := e.rt.Session.Help(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(help.Fields))
	for k := range help.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.out.Printf("%s: %s\n", k, help.Fields[k])
	}

	return nil
}

func runSend(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New(`usage: send '{"command":"status"}'`)
	}
	cmd, err := protocol.ParseCommand(strings.Join(args, " "))
	if err != nil {
		return err
	}

	reply, err := e.rt.Session.Call(ctx, cmd, 0)
	if err != nil {
		return err
	}
	e.out.Printf("%s\n", formatMessage(reply))

	return nil
}

func runHistory(ctx context.Context, e *env, args []string) error {
	flagSet := newSubFlagSet("history", e)
	limit := flagSet.IntP("limit", "n", defaultHistoryLimit, "number of recent frames")
	wipe := flagSet.Bool("clear", false, "delete all recorded telemetry")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if *wipe {
		if err := e.rt.ClearDatabase(); err != nil {
			return err
		}
		e.out.Printf("recorded telemetry deleted\n")
		return nil
	}

	summary, err := e.rt.Telemetry.Summary(ctx)
	if err != nil {
		return err
	}
	e.out.Printf("frames: %d (failsafe %d, frame lost %d)\n", summary.ChannelFrames, summary.FailsafeFrames, summary.FrameLostFrames)
	e.out.Printf("status changes: %d, override expirations: %d, errors: %d\n",
		summary.StatusEvents, summary.OverrideExpirations, summary.DeviceErrors)

	frames, err := e.rt.Telemetry.RecentChannelFrames(ctx, *limit)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		e.out.Printf("%s %s\n", frame.RecordedAt.Local().Format(time.DateTime), formatFrame(frame))
	}

	return nil
}

func runInfo(_ context.Context, e *env, _ []string) error {
	session := e.rt.Session
	status, _ := e.rt.CurrentConnStatus()
	opts := session.Options()
	e.out.Printf("connection: %s via %s %s\n", session.State(), status.TransportName, e.rt.ConnectionTransport.StatusTarget())
	e.out.Printf("reply timeout: %s, skip unsolicited: %t\n", opts.ResponseTimeout, opts.SkipUnsolicited)

	if st, ok := session.LastStatus(); ok {
		e.out.Printf("receiver connected: %t (ts=%d)\n", st.Connected, st.Timestamp)
	} else {
		e.out.Printf("receiver: no status received yet\n")
	}

	frame, ok := session.LastChannels()
	if !ok {
		e.out.Printf("channels: no frame received yet\n")
		return nil
	}
	e.out.Printf("channels (ts=%d, failsafe=%t, frame lost=%t):\n", frame.Timestamp, frame.Failsafe, frame.FrameLost)
	for channel := sbus.MinChannel; channel <= sbus.MaxChannel; channel++ {
		in, _ := frame.Input(channel)
		out, _ := frame.Output(channel)
		line := fmt.Sprintf("  %2d  in %4d  out %s", channel, in, formatValue(out))
		if override, _ := frame.Override(channel); override != 0 {
			line += fmt.Sprintf("  override %d", override)
		}
		e.out.Printf("%s\n", line)
	}

	return nil
}

func parseChannel(raw string) (int, error) {
	channel, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid channel %q", raw)
	}

	return channel, nil
}

// parseValue reads a raw SBUS value, or microseconds with a "us" suffix, or
// percent of deflection from center with a "%" suffix.
func parseValue(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasSuffix(raw, "us"), strings.HasSuffix(raw, "µs"):
		us, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSuffix(raw, "us"), "µs"))
		if err != nil {
			return 0, fmt.Errorf("invalid microseconds %q", raw)
		}
		return sbus.FromMicroseconds(us), nil
	case strings.HasSuffix(raw, "%"):
		percent, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percent %q", raw)
		}
		return sbus.FromPercent(percent), nil
	default:
		value, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", raw)
		}
		return value, nil
	}
}

func parsePair(raw string) (protocol.ChannelValue, error) {
	channelRaw, valueRaw, ok := strings.Cut(raw, "=")
	if !ok {
		return protocol.ChannelValue{}, fmt.Errorf("expected <channel>=<value>, got %q", raw)
	}
	channel, err := parseChannel(channelRaw)
	if err != nil {
		return protocol.ChannelValue{}, err
	}
	value, err := parseValue(valueRaw)
	if err != nil {
		return protocol.ChannelValue{}, err
	}

	return protocol.ChannelValue{Channel: channel, Value: value}, nil
}
