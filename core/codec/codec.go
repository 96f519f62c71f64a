// Package codec converts events to and from their JSON wire form.
//
// Every message is a JSON object whose "type" field names the variant. Audio
// payloads travel base64 encoded under "audio", with an empty chunk sent as
// "". Tool arguments and values cross the wire as JSON, so numbers decode as
// float64 whatever Go type they were encoded from. Messages with a type this
// package does not know decode to events.Unknown instead of failing.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/koscakluka/ema-bridge/core/events"
)

const typeField = "type"

// DecodeError reports an inbound message that cannot be turned into an
// event. The message should be dropped.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to decode event: %s: %v", e.Reason, e.Err)
	}
	return "failed to decode event: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses one wire message.
func Decode(raw []byte) (events.Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &DecodeError{Reason: "malformed json"}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, &DecodeError{Reason: "message is not an object"}
	}

	kind := root.Get(typeField)
	switch {
	case !kind.Exists():
		return nil, &DecodeError{Reason: "missing field type"}
	case kind.Type != gjson.String:
		return nil, &DecodeError{Reason: "field type is not a string"}
	case kind.Str == "":
		return nil, &DecodeError{Reason: "field type is empty"}
	}

	switch events.Kind(kind.Str) {
	case events.KindAudioInput:
		return decodeAs[events.AudioInput](raw, root, "audio")
	case events.KindTextInput:
		return decodeAs[events.TextInput](raw, root, "text")
	case events.KindAudioOutput:
		return decodeAs[events.AudioOutput](raw, root, "audio")
	case events.KindTranscriptOutput:
		return decodeAs[events.TranscriptOutput](raw, root, "text", "role")
	case events.KindConnectionStart:
		return decodeAs[events.ConnectionStart](raw, root)
	case events.KindResponseStart:
		return decodeAs[events.ResponseStart](raw, root)
	case events.KindResponseComplete:
		event, err := decodeAs[events.ResponseComplete](raw, root, "stop_reason")
		if err != nil {
			return nil, err
		}
		if reason := event.(events.ResponseComplete).StopReason; !reason.Valid() {
			return nil, &DecodeError{Reason: fmt.Sprintf("unknown stop_reason %q", reason)}
		}
		return event, nil
	case events.KindToolUseStream:
		return decodeAs[events.ToolUseStream](raw, root, "current_tool_use.name")
	case events.KindToolCall:
		return decodeAs[events.ToolCall](raw, root, "id", "name")
	case events.KindToolResult:
		return decodeAs[events.ToolResult](raw, root, "id")
	case events.KindUsage:
		return decodeAs[events.Usage](raw, root)
	case events.KindError:
		return decodeAs[events.Error](raw, root, "message")
	default:
		return events.Unknown{Type: kind.Str, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeAs[E events.Event](raw []byte, root gjson.Result, required ...string) (events.Event, error) {
	for _, path := range required {
		field := root.Get(path)
		if !field.Exists() || field.Type == gjson.Null {
			return nil, &DecodeError{Reason: "missing field " + path}
		}
	}

	var event E
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, &DecodeError{Reason: "invalid " + string(event.Kind()), Err: err}
	}
	return event, nil
}

// Encode renders an event as one wire message.
func Encode(event events.Event) ([]byte, error) {
	switch e := event.(type) {
	case nil:
		return nil, errors.New("failed to encode event: nil event")
	case events.Unknown:
		if len(e.Raw) > 0 {
			return append([]byte(nil), e.Raw...), nil
		}
		return sjson.SetBytes([]byte("{}"), typeField, e.Type)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event.Kind(), err)
	}
	raw, err = sjson.SetBytes(raw, typeField, string(event.Kind()))
	if err != nil {
		return nil, fmt.Errorf("failed to stamp type on %s: %w", event.Kind(), err)
	}

	switch event.(type) {
	case events.AudioInput, events.AudioOutput:
		if gjson.GetBytes(raw, "audio").Type == gjson.Null {
			if raw, err = sjson.SetBytes(raw, "audio", ""); err != nil {
				return nil, fmt.Errorf("failed to set empty audio on %s: %w", event.Kind(), err)
			}
		}
	}
	return raw, nil
}

// Peek returns the type of a message without decoding it, or "" if the
// message has none.
func Peek(raw []byte) events.Kind {
	return events.Kind(gjson.GetBytes(raw, typeField).String())
}
