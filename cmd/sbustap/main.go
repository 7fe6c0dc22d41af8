// sbustap talks to an SBUS tap device over USB serial or a TCP bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/skobkin/sbustap/internal/app"
	"github.com/skobkin/sbustap/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configFile      string
	serialPort      string
	baud            int
	host            string
	tcpPort         int
	logLevel        string
	logFormat       string
	logFile         bool
	record          bool
	skipUnsolicited bool
	timeout         time.Duration
	save            bool
}

func (g *globalFlags) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&g.configFile, "config", "c", "", "config file (default: user config dir)")
	flagSet.StringVarP(&g.serialPort, "port", "p", "", "serial port of the device, e.g. /dev/ttyACM0")
	flagSet.IntVarP(&g.baud, "baud", "b", config.DefaultSerialBaud, "serial baud rate")
	flagSet.StringVar(&g.host, "host", "", "connect over TCP to this host instead of serial")
	flagSet.IntVar(&g.tcpPort, "tcp-port", config.DefaultIPPort, "TCP port used with --host")
	flagSet.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.StringVar(&g.logFormat, "log-format", "", "log format: text or json")
	flagSet.BoolVar(&g.logFile, "log-file", false, "also write logs to the log file")
	flagSet.BoolVar(&g.record, "record", false, "record telemetry to the local database")
	flagSet.BoolVar(&g.skipUnsolicited, "skip-unsolicited", false, "never take telemetry as a command reply")
	flagSet.DurationVarP(&g.timeout, "timeout", "t", 0, "command reply timeout")
	flagSet.BoolVar(&g.save, "save", false, "save the effective connection settings to the config file")
}

// apply overlays explicitly given flags on cfg.
func (g *globalFlags) apply(flagSet *pflag.FlagSet, cfg *config.AppConfig) {
	if port := strings.TrimSpace(g.serialPort); port != "" {
		cfg.Connection.Connector = config.ConnectorSerial
		cfg.Connection.SerialPort = port
	}
	if flagSet.Changed("baud") {
		cfg.Connection.SerialBaud = g.baud
	}
	if host := strings.TrimSpace(g.host); host != "" {
		cfg.Connection.Connector = config.ConnectorIP
		cfg.Connection.Host = host
	}
	if flagSet.Changed("tcp-port") {
		cfg.Connection.Port = g.tcpPort
	}
	if level := strings.TrimSpace(g.logLevel); level != "" {
		cfg.Logging.Level = level
	}
	if format := strings.TrimSpace(g.logFormat); format != "" {
		cfg.Logging.Format = format
	}
	if flagSet.Changed("log-file") {
		cfg.Logging.LogToFile = g.logFile
	}
	if flagSet.Changed("record") {
		cfg.Recorder.Enabled = g.record
	}
	if flagSet.Changed("skip-unsolicited") {
		cfg.Session.SkipUnsolicited = g.skipUnsolicited
	}
	if g.timeout > 0 {
		cfg.Session.ResponseTimeoutMS = int(g.timeout / time.Millisecond)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var globals globalFlags
	flagSet := pflag.NewFlagSet(app.Name, pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.SetOutput(stderr)
	globals.addFlags(flagSet)
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return errors.New("missing command")
	}
	cmd, ok := lookupCommand(rest[0])
	if !ok {
		return fmt.Errorf("unknown command %q, see %s --help", rest[0], app.Name)
	}

	out := newConsole(stdout)
	e := &env{out: out, in: stdin}
	if !cmd.runtime {
		return cmd.run(ctx, e, rest[1:])
	}

	printer := newEventPrinter(out)
	printer.enabled.Store(cmd.events)
	e.printer = printer

	rt, err := app.Initialize(ctx, app.Options{
		ConfigFile:   globals.configFile,
		Configure:    func(cfg *config.AppConfig) { globals.apply(flagSet, cfg) },
		Handler:      printer,
		OpenDatabase: cmd.database,
		Console:      stderr,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	e.rt = rt

	if cmd.connect {
		if err := rt.Connect(ctx); err != nil {
			return fmt.Errorf("connect to %s: %w", rt.ConnectionTransport.StatusTarget(), err)
		}
		if globals.save {
			if err := rt.SaveConfig(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
		}
	}

	return cmd.run(ctx, e, rest[1:])
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "%s %s\n\n", app.Name, app.BuildVersionWithDate())
	fmt.Fprintf(w, "usage: %s [flags] <command> [args]\n\ncommands:\n", app.Name)
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-28s %s\n", cmd.usage, cmd.summary)
	}
	fmt.Fprintf(w, "\nflags:\n%s", flagSet.FlagUsages())
}
