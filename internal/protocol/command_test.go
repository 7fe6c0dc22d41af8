package protocol

import (
	"testing"
)

func TestEncodeLine(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{name: "set channel", cmd: SetChannelCommand(1, 992), want: `{"channel":1,"command":"set_channel","value":992}` + "\n"},
		{
			name: "set channels",
			cmd:  SetChannelsCommand([]ChannelValue{{Channel: 1, Value: 1000}, {Channel: 2, Value: 1500}}),
			want: `{"channels":[{"channel":1,"value":1000},{"channel":2,"value":1500}],"command":"set_channels"}` + "\n",
		},
		{name: "set channels empty", cmd: SetChannelsCommand(nil), want: `{"channels":[],"command":"set_channels"}` + "\n"},
		{name: "clear channel", cmd: ClearChannelCommand(3), want: `{"channel":3,"command":"clear_channel"}` + "\n"},
		{name: "clear all", cmd: ClearAllCommand(), want: `{"command":"clear_all"}` + "\n"},
		{name: "status", cmd: StatusCommand(), want: `{"command":"status"}` + "\n"},
		{name: "help", cmd: HelpCommand(), want: `{"command":"help"}` + "\n"},
		{name: "name wins over args", cmd: Command{Name: CommandStatus, Args: map[string]any{"command": "help"}}, want: `{"command":"status"}` + "\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeLine(tc.cmd)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("EncodeLine() = %q, want %q", string(got), tc.want)
			}
		})
	}
}

func TestEncodeLineRejectsEmptyName(t *testing.T) {
	if _, err := EncodeLine(Command{}); err == nil {
		t.Fatalf("expected error for empty command name")
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(`{"command":"set_channel","channel":2,"value":1500}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Name != CommandSetChannel {
		t.Fatalf("unexpected name: %q", cmd.Name)
	}
	if _, ok := cmd.Args["command"]; ok {
		t.Fatalf("command key must not stay in args")
	}

	line, err := EncodeLine(cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(line) != `{"channel":2,"command":"set_channel","value":1500}`+"\n" {
		t.Fatalf("unexpected line: %q", string(line))
	}

	bad := []string{`nope`, `null`, `{"channel":1}`, `{"command":7}`, `{"command":"  "}`}
	for _, raw := range bad {
		if _, err := ParseCommand(raw); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}
