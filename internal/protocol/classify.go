package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Classify parses one line into a Message. It never fails: anything that is
// not a well-formed device message comes back as Malformed.
func Classify(line string) Message {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return Malformed{Line: line, Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	if fields == nil {
		return Malformed{Line: line, Reason: "not a json object"}
	}

	r := fieldReader{fields: fields}
	var typ string
	r.required("type", &typ)
	if r.err != nil {
		return Malformed{Line: line, Reason: r.err.Error()}
	}

	msg := r.decode(Type(typ))
	if r.err != nil {
		return Malformed{Line: line, Reason: fmt.Sprintf("%s: %v", typ, r.err)}
	}

	return msg
}

type fieldReader struct {
	fields map[string]json.RawMessage
	err    error
}

func (r *fieldReader) decode(typ Type) Message {
	switch typ {
	case TypeReady:
		return Ready{}
	case TypeChannels:
		return r.channels()
	case TypeStatus:
		var msg Status
		r.required("connected", &msg.Connected)
		r.required("timestamp", &msg.Timestamp)
		return msg
	case TypeChannelSet:
		return ChannelSet{}
	case TypeChannelsSet:
		var msg ChannelsSet
		r.optional("count", &msg.Count)
		return msg
	case TypeChannelCleared:
		return ChannelCleared{}
	case TypeAllCleared:
		return AllCleared{}
	case TypeOverrideStatus:
		return r.overrideStatus()
	case TypeOverrideExpired:
		var msg OverrideExpired
		r.required("channel", &msg.Channel)
		return msg
	case TypeHelp:
		msg := Help{Fields: make(map[string]json.RawMessage, len(r.fields))}
		for k, v := range r.fields {
			if k == "type" {
				continue
			}
			msg.Fields[k] = v
		}
		return msg
	case TypeError:
		var msg Error
		r.required("message", &msg.Message)
		return msg
	default:
		r.err = fmt.Errorf("unknown message type")
		return nil
	}
}

func (r *fieldReader) channels() Message {
	var msg Channels
	r.channelArray("input_channels", &msg.InputChannels)
	r.channelArray("output_channels", &msg.OutputChannels)
	r.channelArray("overrides", &msg.Overrides)
	if r.has("frameLost") {
		r.required("frameLost", &msg.FrameLost)
	} else {
		r.required("frame_lost", &msg.FrameLost)
	}
	r.required("failsafe", &msg.Failsafe)
	r.required("timestamp", &msg.Timestamp)

	return msg
}

func (r *fieldReader) overrideStatus() Message {
	var (
		out OverrideStatus
		raw []struct {
			Channel     *int   `json:"channel"`
			Value       *int   `json:"value"`
			RemainingMS *int64 `json:"remaining_ms"`
		}
	)
	r.optional("overrides", &raw)
	r.optional("timestamp", &out.Timestamp)
	if r.err != nil {
		return out
	}

	out.Overrides = make([]Override, 0, len(raw))
	for i, o := range raw {
		if o.Channel == nil || o.Value == nil || o.RemainingMS == nil {
			r.err = fmt.Errorf("override %d: missing channel, value or remaining_ms", i)
			return out
		}
		out.Overrides = append(out.Overrides, Override{
			Channel:     *o.Channel,
			Value:       *o.Value,
			RemainingMS: *o.RemainingMS,
		})
	}

	return out
}

func (r *fieldReader) channelArray(name string, dst *[ChannelCount]int) {
	var values []int
	r.required(name, &values)
	if r.err != nil {
		return
	}
	if len(values) != ChannelCount {
		r.err = fmt.Errorf("field %q: expected %d entries, got %d", name, ChannelCount, len(values))
		return
	}
	copy(dst[:], values)
}

func (r *fieldReader) has(name string) bool {
	raw, ok := r.fields[name]
	return ok && !isNull(raw)
}

func (r *fieldReader) required(name string, dst any) {
	if r.err != nil {
		return
	}
	if !r.has(name) {
		r.err = fmt.Errorf("missing field %q", name)
		return
	}
	r.unmarshal(name, dst)
}

func (r *fieldReader) optional(name string, dst any) {
	if r.err != nil || !r.has(name) {
		return
	}
	r.unmarshal(name, dst)
}

func (r *fieldReader) unmarshal(name string, dst any) {
	if err := json.Unmarshal(r.fields[name], dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			r.err = fmt.Errorf("field %q: expected %s, got %s", name, typeErr.Type, typeErr.Value)
			return
		}
		r.err = fmt.Errorf("field %q: %w", name, err)
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
