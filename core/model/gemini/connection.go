package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/model"
)

// liveSession is the part of *genai.Session a connection needs.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Connection translates Live API server messages into bridge events.
// ModelTurn content opens a turn, TurnComplete completes it and Interrupted
// (server side barge-in) interrupts it.
type Connection struct {
	session liveSession

	pending    []events.Event
	inTurn     bool
	responseID string

	inputTranscript  strings.Builder
	outputTranscript strings.Builder

	closeOnce sync.Once
	closing   chan struct{}
}

func newConnection(session liveSession) *Connection {
	return &Connection{session: session, closing: make(chan struct{})}
}

func (c *Connection) Send(_ context.Context, event events.Event) error {
	var err error
	switch e := event.(type) {
	case events.AudioInput:
		encoding := e.EncodingInfo.WithDefaults(audio.GetDefaultEncodingInfo())
		err = c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: e.Audio, MIMEType: fmt.Sprintf("audio/pcm;rate=%d", encoding.SampleRate)},
		})
	case events.TextInput:
		err = c.session.SendRealtimeInput(genai.LiveRealtimeInput{Text: e.Text})
	case events.ToolResult:
		response := map[string]any{"output": e.Value}
		if e.Failed() {
			response = map[string]any{"error": e.Error}
		}
		err = c.session.SendToolResponse(genai.LiveToolResponseInput{
			FunctionResponses: []*genai.FunctionResponse{{ID: e.ID, Name: e.Name, Response: response}},
		})
	default:
		return fmt.Errorf("unsupported event for gemini: %s", event.Kind())
	}
	if err != nil {
		return fmt.Errorf("failed to send %s to gemini: %w", event.Kind(), err)
	}
	return nil
}

// Interrupt is a no-op remotely. The Live API interrupts generation on its
// own when new user input arrives and reports it as Interrupted.
func (c *Connection) Interrupt(context.Context) error {
	return nil
}

func (c *Connection) Receive(_ context.Context) (events.Event, error) {
	for len(c.pending) == 0 {
		msg, err := c.session.Receive()
		if err != nil {
			return nil, c.receiveError(err)
		}
		c.translate(msg)
	}

	event := c.pending[0]
	c.pending = c.pending[1:]
	return event, nil
}

func (c *Connection) receiveError(err error) error {
	select {
	case <-c.closing:
		return io.EOF
	default:
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure {
			return io.EOF
		}
		return &model.StreamError{Code: strconv.Itoa(closeErr.Code), Err: err}
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return &model.StreamError{Err: err}
}

func (c *Connection) translate(msg *genai.LiveServerMessage) {
	if msg == nil {
		return
	}

	if content := msg.ServerContent; content != nil {
		if transcription := content.InputTranscription; transcription != nil {
			c.appendTranscript(events.RoleUser, &c.inputTranscript, transcription)
		}

		if content.ModelTurn != nil {
			c.flushTranscript(events.RoleUser, &c.inputTranscript)
			c.startTurn()
			for _, part := range content.ModelTurn.Parts {
				// Text parts only carry reasoning when audio is requested.
				if part == nil || part.InlineData == nil {
					continue
				}
				c.pending = append(c.pending, events.NewAudioOutput(part.InlineData.Data, outputEncoding(part.InlineData.MIMEType)))
			}
		}

		if transcription := content.OutputTranscription; transcription != nil {
			c.startTurn()
			c.appendTranscript(events.RoleAssistant, &c.outputTranscript, transcription)
		}

		if content.Interrupted {
			c.outputTranscript.Reset()
			c.completeTurn(events.StopReasonInterrupted)
		}
		if content.TurnComplete {
			c.flushTranscript(events.RoleAssistant, &c.outputTranscript)
			c.completeTurn(events.StopReasonCompleted)
		}
	}

	if toolCall := msg.ToolCall; toolCall != nil {
		for _, call := range toolCall.FunctionCalls {
			if call == nil {
				continue
			}
			id := call.ID
			if id == "" {
				id = uuid.NewString()
			}
			c.pending = append(c.pending,
				events.NewToolUseStream(id, call.Name, ""),
				events.NewToolCall(id, call.Name, call.Args),
			)
		}
	}

	if cancellation := msg.ToolCallCancellation; cancellation != nil {
		logger.Info("gemini cancelled tool calls", "ids", cancellation.IDs)
	}

	if usage := msg.UsageMetadata; usage != nil {
		c.pending = append(c.pending, events.NewUsage(
			int(usage.PromptTokenCount),
			int(usage.ResponseTokenCount),
			int(usage.TotalTokenCount),
		))
	}

	if msg.GoAway != nil {
		logger.Warn("gemini live session is going away", "time_left", msg.GoAway.TimeLeft)
	}
}

// appendTranscript emits the running transcript as an interim update, or as
// final when the service marks it finished.
func (c *Connection) appendTranscript(role events.Role, transcript *strings.Builder, transcription *genai.Transcription) {
	if transcription.Text != "" {
		transcript.WriteString(transcription.Text)
	}
	if transcription.Finished {
		c.flushTranscript(role, transcript)
		return
	}
	if transcription.Text != "" {
		c.pending = append(c.pending, events.NewTranscriptOutput(role, transcript.String(), false))
	}
}

func (c *Connection) flushTranscript(role events.Role, transcript *strings.Builder) {
	if transcript.Len() == 0 {
		return
	}
	c.pending = append(c.pending, events.NewTranscriptOutput(role, transcript.String(), true))
	transcript.Reset()
}

func (c *Connection) startTurn() {
	if c.inTurn {
		return
	}
	c.inTurn = true
	c.responseID = uuid.NewString()
	c.pending = append(c.pending, events.NewResponseStart(c.responseID))
}

func (c *Connection) completeTurn(reason events.StopReason) {
	if !c.inTurn {
		return
	}
	c.inTurn = false
	c.pending = append(c.pending, events.NewResponseComplete(c.responseID, reason))
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.session.Close()
	})
	return err
}

func outputEncoding(mimeType string) audio.EncodingInfo {
	encoding := audio.GetDefaultOutputEncodingInfo()
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return encoding
	}
	if rate, err := strconv.Atoi(params["rate"]); err == nil && rate > 0 {
		encoding.SampleRate = rate
	}
	return encoding
}
