// Package deepgram connects bridge sessions to the Deepgram Voice Agent API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	interfacesv1 "github.com/deepgram/deepgram-go-sdk/pkg/api/agent/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/api/version"
	settingsv1 "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/gorilla/websocket"
	"github.com/invopop/jsonschema"
	"github.com/jinzhu/copier"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/model"
)

const (
	DefaultListenModel  = "nova-3"
	DefaultThinkType    = "open_ai"
	DefaultThinkModel   = "gpt-4o-mini"
	DefaultSpeakModel   = "aura-2-thalia-en"
	defaultHandshake    = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	keepAliveInterval   = 5 * time.Second
)

var errMissingAPIKey = errors.New("deepgram api key not found")

type ConnectorOption func(*Connector)

func WithAPIKey(key string) ConnectorOption {
	return func(c *Connector) {
		c.apiKey = key
	}
}

// WithURL overrides the agent endpoint. By default the SDK resolves it.
func WithURL(url string) ConnectorOption {
	return func(c *Connector) {
		c.url = url
	}
}

func WithDialer(dialer *websocket.Dialer) ConnectorOption {
	return func(c *Connector) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// Connector opens Voice Agent sessions. model.Config.ModelID selects the
// think model and model.Config.Voice the speak model. ProviderConfig may
// set "listen_model", "think_provider" and "keyterms".
type Connector struct {
	apiKey string
	url    string
	dialer *websocket.Dialer
}

func NewConnector(opts ...ConnectorOption) *Connector {
	c := &Connector{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshake,
		},
	}
	if key, ok := os.LookupEnv("DEEPGRAM_API_KEY"); ok {
		c.apiKey = key
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Connect(ctx context.Context, cfg model.Config) (model.Connection, error) {
	ctx, span := tracer.Start(ctx, "connect deepgram agent")
	defer span.End()
	span.SetAttributes(attribute.String("model.id", cfg.ModelID), attribute.String("model.voice", cfg.Voice))

	conn, err := c.connect(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return conn, nil
}

func (c *Connector) connect(ctx context.Context, cfg model.Config) (*Connection, error) {
	if c.apiKey == "" {
		return nil, errMissingAPIKey
	}

	settings, err := buildSettings(cfg)
	if err != nil {
		return nil, err
	}
	payload, err := encodeSettings(settings, cfg)
	if err != nil {
		return nil, err
	}

	url := c.url
	if url == "" {
		if url, err = version.GetAgentAPI(ctx, "", "", ""); err != nil {
			return nil, fmt.Errorf("failed to resolve deepgram agent url: %w", err)
		}
	}

	ws, _, err := c.dialer.DialContext(ctx, url, http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	deadline := time.Now().Add(defaultHandshake)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := handshake(ws, payload, deadline); err != nil {
		_ = ws.Close()
		return nil, err
	}

	return newConnection(ws, settings.Audio.Output.SampleRate), nil
}

// handshake sends the agent settings and waits until they were applied.
func handshake(ws *websocket.Conn, settings []byte, deadline time.Time) error {
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, settings); err != nil {
		return fmt.Errorf("failed to send settings: %w", err)
	}
	_ = ws.SetWriteDeadline(time.Time{})

	_ = ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read settings confirmation: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg interfacesv1.MessageType
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal deepgram message: %w", err)
		}
		switch msg.Type {
		case interfacesv1.TypeSettingsAppliedResponse:
			return nil
		case string(interfacesv1.TypeErrorResponse):
			response, err := decodeError(data)
			if err != nil {
				return err
			}
			return fmt.Errorf("deepgram rejected settings (%s): %s", response.ErrCode, errorMessage(response))
		}
	}
}

func buildSettings(cfg model.Config) (*settingsv1.SettingsConfigurationOptions, error) {
	input := cfg.InputAudio.WithDefaults(audio.GetDefaultEncodingInfo())
	output := audio.GetDefaultOutputEncodingInfo()

	settings := settingsv1.NewSettingsConfigurationOptions()
	settings.Audio.Input.Encoding = encodingName(input.Format)
	settings.Audio.Input.SampleRate = input.SampleRate
	settings.Audio.Output.Encoding = encodingName(output.Format)
	settings.Audio.Output.SampleRate = output.SampleRate

	settings.Agent.Listen.Model = providerString(cfg, "listen_model", DefaultListenModel)
	settings.Agent.Listen.Keyterms = providerStrings(cfg, "keyterms")
	settings.Agent.Think.Provider.Type = providerString(cfg, "think_provider", DefaultThinkType)
	settings.Agent.Think.Model = cfg.ModelID
	if settings.Agent.Think.Model == "" {
		settings.Agent.Think.Model = DefaultThinkModel
	}
	settings.Agent.Think.Instructions = cfg.SystemPrompt
	settings.Agent.Speak.Model = cfg.Voice
	if settings.Agent.Speak.Model == "" {
		settings.Agent.Speak.Model = DefaultSpeakModel
	}

	err := copier.CopyWithOption(&settings.Agent.Think.Functions, &cfg.Tools, copier.Option{
		Converters: []copier.TypeConverter{{
			SrcType: &jsonschema.Schema{},
			DstType: settingsv1.Parameters{},
			Fn: func(src any) (any, error) {
				schema, _ := src.(*jsonschema.Schema)
				if schema == nil {
					return settingsv1.Parameters{}, nil
				}
				return settingsv1.Parameters{Type: schema.Type, Required: schema.Required}, nil
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to copy tool declarations: %w", err)
	}
	return settings, nil
}

// encodeSettings marshals the settings and replaces each function's
// parameters with the full tool schema, which the SDK type cannot hold.
func encodeSettings(settings *settingsv1.SettingsConfigurationOptions, cfg model.Config) ([]byte, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	for i, spec := range cfg.Tools {
		if spec.Parameters == nil {
			continue
		}
		data, err = sjson.SetBytes(data, fmt.Sprintf("agent.think.functions.%d.parameters", i), spec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to set parameters for tool %s: %w", spec.Name, err)
		}
	}
	return data, nil
}

func providerString(cfg model.Config, key, fallback string) string {
	if value, ok := cfg.ProviderConfig[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

func providerStrings(cfg model.Config, key string) []string {
	var values []string
	switch raw := cfg.ProviderConfig[key].(type) {
	case []string:
		values = raw
	case []any:
		for _, value := range raw {
			if text, ok := value.(string); ok {
				values = append(values, text)
			}
		}
	}
	return values
}

func encodingName(format audio.Format) string {
	switch format {
	case audio.FormatPCM, audio.FormatLinear16:
		return "linear16"
	}
	return format.Name()
}
