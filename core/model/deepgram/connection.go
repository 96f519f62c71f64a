package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	interfacesv1 "github.com/deepgram/deepgram-go-sdk/pkg/api/agent/v1/websocket/interfaces"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/model"
)

// Connection is one Voice Agent conversation. Deepgram does not announce
// turns, so they are derived: the first assistant text or audio opens one,
// AgentAudioDone completes it and UserStartedSpeaking interrupts it.
type Connection struct {
	ws     *websocket.Conn
	output audio.EncodingInfo

	connMu    sync.Mutex
	lastAudio time.Time

	pending    []events.Event
	inTurn     bool
	responseID string

	stopKeepAlive context.CancelFunc
	keepAliveDone chan struct{}
	closeOnce     sync.Once
	closing       chan struct{}
}

func newConnection(ws *websocket.Conn, outputSampleRate int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ws: ws,
		output: audio.EncodingInfo{
			Format:     audio.FormatPCM,
			SampleRate: outputSampleRate,
			Channels:   audio.DefaultChannels,
		},
		lastAudio:     time.Now(),
		stopKeepAlive: cancel,
		keepAliveDone: make(chan struct{}),
		closing:       make(chan struct{}),
	}
	go c.keepAlive(ctx)
	return c
}

func (c *Connection) Send(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.AudioInput:
		return c.write(websocket.BinaryMessage, e.Audio, true)
	case events.TextInput:
		return c.writeJSON(injectUserMessage{Type: typeInjectUserMessage, Content: e.Text})
	case events.ToolResult:
		return c.writeJSON(interfacesv1.FunctionCallResponse{
			Type:           interfacesv1.TypeFunctionCallResponse,
			FunctionCallID: e.ID,
			Output:         toolResultContent(e),
		})
	default:
		return fmt.Errorf("unsupported event for deepgram: %s", event.Kind())
	}
}

// Interrupt is a no-op remotely. The agent cuts its own speech once new user
// audio arrives, and the session already discards the abandoned turn.
func (c *Connection) Interrupt(context.Context) error {
	return nil
}

func (c *Connection) Receive(_ context.Context) (events.Event, error) {
	for len(c.pending) == 0 {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
				return nil, io.EOF
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read deepgram message: %w", err)
		}

		if msgType == websocket.BinaryMessage {
			c.startTurn()
			c.pending = append(c.pending, events.NewAudioOutput(data, c.output))
			continue
		}
		if err := c.processMessage(data); err != nil {
			return nil, err
		}
	}

	event := c.pending[0]
	c.pending = c.pending[1:]
	return event, nil
}

func (c *Connection) processMessage(data []byte) error {
	var msg interfacesv1.MessageType
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return nil
	}

	switch msg.Type {
	case interfacesv1.TypeConversationTextResponse:
		var text interfacesv1.ConversationTextResponse
		if err := json.Unmarshal(data, &text); err != nil {
			logger.Warn("failed to unmarshal conversation text", "error", err)
			return nil
		}
		role := events.RoleUser
		if text.Role == string(events.RoleAssistant) {
			role = events.RoleAssistant
			c.startTurn()
		}
		c.pending = append(c.pending, events.NewTranscriptOutput(role, text.Content, true))

	case interfacesv1.TypeAgentStartedSpeakingResponse:
		c.startTurn()

	case interfacesv1.TypeAgentAudioDoneResponse:
		c.completeTurn(events.StopReasonCompleted)

	case interfacesv1.TypeUserStartedSpeakingResponse:
		c.completeTurn(events.StopReasonInterrupted)

	case interfacesv1.TypeFunctionCallRequestResponse:
		call, err := decodeFunctionCallRequest(data)
		if err != nil {
			logger.Warn("failed to parse function call request", "error", err)
			return nil
		}
		c.pending = append(c.pending,
			events.NewToolUseStream(call.FunctionCallID, call.FunctionName, call.RawInput),
			events.NewToolCall(call.FunctionCallID, call.FunctionName, call.Args),
		)

	case string(interfacesv1.TypeErrorResponse):
		response, err := decodeError(data)
		if err != nil {
			return err
		}
		return &model.StreamError{Code: response.ErrCode, Err: errors.New(errorMessage(response))}

	case interfacesv1.TypeInjectionRefusedResponse:
		var refused interfacesv1.InjectionRefusedResponse
		_ = json.Unmarshal(data, &refused)
		logger.Warn("deepgram refused injected message", "message", refused.Message)

	case typeWarning:
		logger.Warn("deepgram warning", "message", string(data))

	case interfacesv1.TypeWelcomeResponse, interfacesv1.TypeSettingsAppliedResponse,
		interfacesv1.TypeAgentThinkingResponse, interfacesv1.TypeFunctionCallingResponse:

	default:
		logger.Debug("ignoring deepgram message", "type", msg.Type)
	}
	return nil
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
		c.stopKeepAlive()
		<-c.keepAliveDone

		c.connMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.connMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *Connection) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal deepgram message: %w", err)
	}
	return c.write(websocket.TextMessage, data, false)
}

func (c *Connection) write(msgType int, data []byte, isAudio bool) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if isAudio {
		c.lastAudio = time.Now()
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := c.ws.WriteMessage(msgType, data); err != nil {
		return fmt.Errorf("failed to write to deepgram: %w", err)
	}
	return nil
}

// keepAlive keeps the agent socket open while no audio is flowing, e.g.
// in text only sessions.
func (c *Connection) keepAlive(ctx context.Context) {
	defer close(c.keepAliveDone)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			idle := time.Since(c.lastAudio) >= keepAliveInterval
			c.connMu.Unlock()
			if !idle {
				continue
			}
			if err := c.writeJSON(interfacesv1.KeepAlive{Type: interfacesv1.TypeKeepAlive}); err != nil {
				logger.Warn("failed to send keep alive", "error", err)
			}
		}
	}
}

func toolResultContent(result events.ToolResult) string {
	if result.Failed() {
		return "error: " + result.Error
	}
	if text, ok := result.Value.(string); ok {
		return text
	}
	data, err := json.Marshal(result.Value)
	if err != nil {
		return fmt.Sprint(result.Value)
	}
	return string(data)
}
