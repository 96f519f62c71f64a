package model

import (
	"context"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/tools"
)

// Config is handed to a Connector when a session opens.
type Config struct {
	ModelID      string
	Voice        string
	SystemPrompt string
	Tools        []tools.Spec
	// InputAudio is the encoding clients send by default.
	InputAudio audio.EncodingInfo
	// ProviderConfig carries backend specific settings.
	ProviderConfig map[string]any
}

// Connector dials a model backend.
type Connector interface {
	Connect(ctx context.Context, cfg Config) (Connection, error)
}

type ConnectorFunc func(ctx context.Context, cfg Config) (Connection, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg Config) (Connection, error) {
	return f(ctx, cfg)
}

// Connection is one live duplex stream to a model.
//
// Send is only called from a single goroutine and may be called
// concurrently with Receive. Receive returns io.EOF once the backend closed
// the stream cleanly. Close must unblock pending Send and Receive calls.
//
// Backends must bracket every turn with ResponseStart and ResponseComplete
// and announce each ToolCall they expect an answer for.
type Connection interface {
	Send(ctx context.Context, event events.Event) error
	Receive(ctx context.Context) (events.Event, error)
	Interrupt(ctx context.Context) error
	Close() error
}
