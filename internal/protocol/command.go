package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CommandName is the "command" discriminator of a client request.
type CommandName string

const (
	CommandSetChannel   CommandName = "set_channel"
	CommandSetChannels  CommandName = "set_channels"
	CommandClearChannel CommandName = "clear_channel"
	CommandClearAll     CommandName = "clear_all"
	CommandStatus       CommandName = "status"
	CommandHelp         CommandName = "help"
)

// ChannelValue is one entry of a set_channels request. Channel is 1-based.
type ChannelValue struct {
	Channel int `json:"channel"`
	Value   int `json:"value"`
}

// Command is a JSON object sent to the device. Args must not contain a
// "command" key; Name always wins.
type Command struct {
	Name CommandName
	Args map[string]any
}

func SetChannelCommand(channel, value int) Command {
	return Command{Name: CommandSetChannel, Args: map[string]any{"channel": channel, "value": value}}
}

func SetChannelsCommand(values []ChannelValue) Command {
	if values == nil {
		values = []ChannelValue{}
	}

	return Command{Name: CommandSetChannels, Args: map[string]any{"channels": values}}
}

func ClearChannelCommand(channel int) Command {
	return Command{Name: CommandClearChannel, Args: map[string]any{"channel": channel}}
}

func ClearAllCommand() Command {
	return Command{Name: CommandClearAll}
}

func StatusCommand() Command {
	return Command{Name: CommandStatus}
}

func HelpCommand() Command {
	return Command{Name: CommandHelp}
}

func (c Command) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(c.Args)+1)
	for k, v := range c.Args {
		obj[k] = v
	}
	obj["command"] = string(c.Name)

	return json.Marshal(obj)
}

// EncodeLine renders c as a single newline-terminated JSON line.
func EncodeLine(c Command) ([]byte, error) {
	if strings.TrimSpace(string(c.Name)) == "" {
		return nil, errors.New("command name is empty")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", c.Name, err)
	}

	return append(raw, '\n'), nil
}

// ParseCommand builds a Command from a raw JSON object such as
// {"command":"set_channel","channel":1,"value":992}.
func ParseCommand(raw string) (Command, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Command{}, fmt.Errorf("decode command json: %w", err)
	}
	if obj == nil {
		return Command{}, errors.New("command must be a json object")
	}
	name, ok := obj["command"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return Command{}, errors.New(`command object needs a string "command" field`)
	}
	delete(obj, "command")

	return Command{Name: CommandName(name), Args: obj}, nil
}
