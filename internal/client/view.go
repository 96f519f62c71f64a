package client

import (
	"fmt"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/events"
)

type LineKind int

const (
	LineInfo LineKind = iota
	LineUser
	LineAgent
	LineTool
	LineError
)

// Line is one printable entry of the conversation log.
type Line struct {
	Kind LineKind
	Text string
}

// View turns the events of one connection into conversation lines. It
// remembers whether the output audio format was already reported, so a new
// View is needed per connection.
type View struct {
	formatShown bool
	responding  bool
}

// Feed returns the lines event adds to the log, and the audio to play if
// event carries any.
func (v *View) Feed(event events.Event) (lines []Line, speech *events.AudioOutput) {
	switch e := event.(type) {
	case events.ConnectionStart:
		lines = append(lines, Line{LineInfo, fmt.Sprintf("Connected to %s (%s)", orUnknown(e.Model), e.ConnectionID)})
	case events.AudioOutput:
		if !v.formatShown {
			v.formatShown = true
			lines = append(lines, Line{LineInfo, describeFormat(e.EncodingInfo)})
		}
		if len(e.Audio) > 0 {
			speech = &e
		}
	case events.TranscriptOutput:
		if !e.IsFinal {
			break
		}
		if e.Role == events.RoleAssistant {
			lines = append(lines, Line{LineAgent, e.Text})
		} else {
			lines = append(lines, Line{LineUser, e.Text})
		}
	case events.ResponseStart:
		v.responding = true
	case events.ResponseComplete:
		v.responding = false
		switch e.StopReason {
		case events.StopReasonInterrupted:
			lines = append(lines, Line{LineAgent, "(interrupted)"})
		case events.StopReasonError:
			lines = append(lines, Line{LineError, "response ended with an error"})
		}
	case events.ToolUseStream:
		lines = append(lines, Line{LineTool, "Using " + orUnknown(e.CurrentToolUse.Name)})
	case events.Error:
		lines = append(lines, Line{LineError, orUnknown(e.Message)})
	}
	return lines, speech
}

// Responding reports whether a response is in progress.
func (v *View) Responding() bool {
	return v.responding
}

func describeFormat(e audio.EncodingInfo) string {
	return fmt.Sprintf("Audio format: format=%s sample_rate=%d channels=%d", orUnknown(e.Format.Name()), e.SampleRate, e.Channels)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
