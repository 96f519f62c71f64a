package client

import (
	"encoding/base64"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/koscakluka/ema-bridge/core/codec"
	"github.com/koscakluka/ema-bridge/core/events"
)

// Event names used by servers that predate the bidi_ prefix.
const (
	legacyAudio      = "audio"
	legacyTranscript = "transcript"
	legacyError      = "error"
)

// Decode parses a server message, accepting legacy event names.
func Decode(raw []byte) (events.Event, error) {
	switch codec.Peek(raw) {
	case legacyAudio:
		// Legacy audio carries its payload under "data" and no format.
		data, err := base64.StdEncoding.DecodeString(gjson.GetBytes(raw, "data").String())
		if err != nil {
			return nil, &codec.DecodeError{Reason: "invalid legacy audio", Err: err}
		}
		return events.AudioOutput{Audio: data}, nil
	case legacyTranscript:
		return decodeRenamed(raw, events.KindTranscriptOutput)
	case legacyError:
		return decodeRenamed(raw, events.KindError)
	}
	return codec.Decode(raw)
}

func decodeRenamed(raw []byte, kind events.Kind) (events.Event, error) {
	renamed, err := sjson.SetBytes(raw, "type", string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to rename legacy %s: %w", codec.Peek(raw), err)
	}
	return codec.Decode(renamed)
}
