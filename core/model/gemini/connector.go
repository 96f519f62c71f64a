// Package gemini connects bridge sessions to the Gemini Live API.
package gemini

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"

	"github.com/koscakluka/ema-bridge/core/model"
	"github.com/koscakluka/ema-bridge/core/tools"
)

const (
	DefaultModel = "gemini-live-2.5-flash-preview"
	DefaultVoice = "Puck"
)

type ConnectorOption func(*Connector)

// WithAPIKey sets the Gemini API key. Without it the SDK falls back to
// GOOGLE_API_KEY or GEMINI_API_KEY.
func WithAPIKey(key string) ConnectorOption {
	return func(c *Connector) {
		c.clientConfig.APIKey = key
	}
}

// WithVertexAI routes sessions through Vertex AI instead of the Gemini API.
func WithVertexAI(project, location string) ConnectorOption {
	return func(c *Connector) {
		c.clientConfig.Backend = genai.BackendVertexAI
		c.clientConfig.Project = project
		c.clientConfig.Location = location
	}
}

type Connector struct {
	clientConfig genai.ClientConfig

	mu     sync.Mutex
	client *genai.Client
}

func NewConnector(opts ...ConnectorOption) *Connector {
	c := &Connector{clientConfig: genai.ClientConfig{Backend: genai.BackendGeminiAPI}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Connect(ctx context.Context, cfg model.Config) (model.Connection, error) {
	ctx, span := tracer.Start(ctx, "connect gemini live")
	defer span.End()

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = DefaultModel
	}
	span.SetAttributes(attribute.String("model.id", modelID))

	client, err := c.getClient(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	liveConfig, err := buildLiveConfig(cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	session, err := client.Live.Connect(ctx, modelID, liveConfig)
	if err != nil {
		err = fmt.Errorf("failed to open live session: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return newConnection(session), nil
}

// getClient creates the SDK client once; it is shared by all sessions.
func (c *Connector) getClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	clientConfig := c.clientConfig
	client, err := genai.NewClient(ctx, &clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.client = client
	return client, nil
}

func buildLiveConfig(cfg model.Config) (*genai.LiveConnectConfig, error) {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	liveConfig := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if language, ok := cfg.ProviderConfig["language"].(string); ok && language != "" {
		liveConfig.SpeechConfig.LanguageCode = language
	}
	if cfg.SystemPrompt != "" {
		liveConfig.SystemInstruction = genai.NewContentFromText(cfg.SystemPrompt, genai.RoleUser)
	}

	declarations, err := functionDeclarations(cfg.Tools)
	if err != nil {
		return nil, err
	}
	if len(declarations) > 0 {
		liveConfig.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	return liveConfig, nil
}

type functionDeclaration struct {
	Name        string
	Description string
}

func functionDeclarations(specs []tools.Spec) ([]*genai.FunctionDeclaration, error) {
	var copied []functionDeclaration
	if err := copier.Copy(&copied, &specs); err != nil {
		return nil, fmt.Errorf("failed to copy tool declarations: %w", err)
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(copied))
	for i, declaration := range copied {
		fn := &genai.FunctionDeclaration{Name: declaration.Name, Description: declaration.Description}
		if specs[i].Parameters != nil {
			fn.ParametersJsonSchema = specs[i].Parameters
		}
		declarations = append(declarations, fn)
	}
	return declarations, nil
}
