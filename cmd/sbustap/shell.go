package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"

	"github.com/skobkin/sbustap/internal/config"
)

const shellPrefix = "sbus> "

// errQuitShell ends the shell loop; run's deferred cleanup closes the session.
var errQuitShell = errors.New("quit shell")

// shellCommands are the commands runnable inside the shell. The shell keeps
// one session open for all of them.
func shellCommands() []command {
	out := make([]command, 0, len(commands))
	for _, cmd := range commands {
		if cmd.connect && cmd.name != "shell" && cmd.name != "monitor" {
			out = append(out, cmd)
		}
	}

	return out
}

func runShell(ctx context.Context, e *env, _ []string) error {
	exec := func(line string) bool {
		err := e.execShellLine(ctx, line)
		if errors.Is(err, errQuitShell) {
			return false
		}
		if err != nil {
			e.out.Printf("error: %v\n", err)
		}

		return ctx.Err() == nil
	}

	if isInteractive(e.in) {
		e.out.Printf("connected to %s; type \"commands\" for a list, \"quit\" to exit\n", e.rt.ConnectionTransport.StatusTarget())
		// Input restores the terminal before returning each line, so leaving
		// the loop never strands the tty in raw mode.
		p := prompt.New(
			func(string) {},
			completeShell,
			prompt.OptionPrefix(shellPrefix),
			prompt.OptionTitle("sbustap"),
		)
		for exec(strings.TrimSpace(p.Input())) {
		}

		return nil
	}

	scanner := bufio.NewScanner(e.in)
	for scanner.Scan() {
		if !exec(strings.TrimSpace(scanner.Text())) {
			return nil
		}
	}

	return scanner.Err()
}

func (e *env) execShellLine(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	name, args := fields[0], fields[1:]
	switch {
	case isQuit(name):
		return errQuitShell
	case name == "commands" || name == "?":
		e.printShellCommands()
		return nil
	case name == "connect":
		cfg, err := parseConnectArgs(args)
		if err != nil {
			return err
		}
		if err := e.rt.Retarget(ctx, cfg); err != nil {
			return err
		}
		e.out.Printf("connected to %s\n", e.rt.ConnectionTransport.StatusTarget())
		return nil
	case name == "events" || name == "raw":
		on, err := parseToggle(args)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if name == "events" {
			e.printer.enabled.Store(on)
		} else {
			e.printer.raw.Store(on)
		}
		return nil
	}

	for _, cmd := range shellCommands() {
		if cmd.name == name {
			return cmd.run(ctx, e, args)
		}
	}

	return fmt.Errorf("unknown command %q", name)
}

func (e *env) printShellCommands() {
	for _, cmd := range shellCommands() {
		e.out.Printf("  %-28s %s\n", cmd.usage, cmd.summary)
	}
	e.out.Printf("  %-28s %s\n", "connect serial <port> [baud]", "reconnect to a serial port")
	e.out.Printf("  %-28s %s\n", "connect ip <host> [port]", "reconnect over TCP")
	e.out.Printf("  %-28s %s\n", "events on|off", "print device telemetry")
	e.out.Printf("  %-28s %s\n", "raw on|off", "print raw lines")
	e.out.Printf("  %-28s %s\n", "quit", "disconnect and exit")
}

func completeShell(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}

	suggests := make([]prompt.Suggest, 0, len(commands)+4)
	for _, cmd := range shellCommands() {
		suggests = append(suggests, prompt.Suggest{Text: cmd.name, Description: cmd.summary})
	}
	suggests = append(suggests,
		prompt.Suggest{Text: "connect", Description: "reconnect to another device"},
		prompt.Suggest{Text: "events", Description: "print device telemetry"},
		prompt.Suggest{Text: "raw", Description: "print raw lines"},
		prompt.Suggest{Text: "quit", Description: "disconnect and exit"},
	)

	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

// parseConnectArgs reads "serial <port> [baud]" or "ip <host> [port]".
func parseConnectArgs(args []string) (config.ConnectionConfig, error) {
	if len(args) < 2 || len(args) > 3 {
		return config.ConnectionConfig{}, errors.New("usage: connect serial <port> [baud] | connect ip <host> [port]")
	}

	var number int
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 {
			return config.ConnectionConfig{}, fmt.Errorf("invalid number %q", args[2])
		}
		number = n
	}

	switch config.ConnectorType(args[0]) {
	case config.ConnectorSerial:
		return config.ConnectionConfig{Connector: config.ConnectorSerial, SerialPort: args[1], SerialBaud: number}, nil
	case config.ConnectorIP:
		return config.ConnectionConfig{Connector: config.ConnectorIP, Host: args[1], Port: number}, nil
	default:
		return config.ConnectionConfig{}, fmt.Errorf("unknown connector %q", args[0])
	}
}

func isInteractive(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func isQuit(s string) bool {
	return s == "quit" || s == "exit"
}

func parseToggle(args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("expected on or off")
	}
	switch strings.ToLower(args[0]) {
	case "on", "yes", "1":
		return true, nil
	case "off", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", args[0])
	}
}
