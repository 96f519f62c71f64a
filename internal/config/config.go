// Package config loads the bridge server configuration from a YAML file,
// the environment and command line flags, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/tools"
)

const (
	ProviderGemini   = "gemini"
	ProviderDeepgram = "deepgram"

	ExporterGRPC = "grpc"
	ExporterHTTP = "http"

	DefaultSystemPrompt = "You are a helpful voice assistant. Keep your answers short and conversational."
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Tools     ToolsConfig     `yaml:"tools"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	WSPath     string `yaml:"ws_path"`
	// AllowedOrigins lists accepted WebSocket origins. Empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// RateLimitPerMinute caps WebSocket upgrades per client IP. Zero disables.
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

type ModelConfig struct {
	Provider     string `yaml:"provider"`
	ID           string `yaml:"id"`
	Voice        string `yaml:"voice"`
	SystemPrompt string `yaml:"system_prompt"`
	// APIKeyEnv names the environment variable holding the provider key.
	APIKeyEnv      string         `yaml:"api_key_env"`
	VertexProject  string         `yaml:"vertex_project"`
	VertexLocation string         `yaml:"vertex_location"`
	ProviderConfig map[string]any `yaml:"provider_config"`
}

type ToolsConfig struct {
	Enabled []string `yaml:"enabled"`
}

type SessionConfig struct {
	InboundQueue     int           `yaml:"inbound_queue"`
	SubmitQueue      int           `yaml:"submit_queue"`
	OutputBuffer     int           `yaml:"output_buffer"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	ReadLimit        int64         `yaml:"read_limit"`
	AudioRate        float64       `yaml:"inbound_audio_rate"`
	AudioBurst       int           `yaml:"inbound_audio_burst"`
	AudioBargeIn     bool          `yaml:"audio_barge_in"`
	SpeechThreshold  int           `yaml:"speech_threshold"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:         ":8080",
			WSPath:             "/ws",
			RateLimitPerMinute: 60,
			ShutdownTimeout:    10 * time.Second,
		},
		Model: ModelConfig{
			Provider:     ProviderGemini,
			SystemPrompt: DefaultSystemPrompt,
		},
		Tools: ToolsConfig{
			Enabled: tools.BuiltinNames(),
		},
		Session: SessionConfig{
			InboundQueue:     64,
			SubmitQueue:      256,
			OutputBuffer:     512,
			DrainTimeout:     5 * time.Second,
			WriteTimeout:     10 * time.Second,
			PingInterval:     30 * time.Second,
			ReadLimit:        1 << 20,
			AudioBurst:       50,
			AudioBargeIn:     true,
			SpeechThreshold:  audio.DefaultSpeechThreshold,
			HandshakeTimeout: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "ema-bridge",
			Exporter:     ExporterGRPC,
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Load reads path over the defaults, when path is set, then applies the
// environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// APIKey resolves the provider key from the configured variable or the
// provider's conventional one.
func (m ModelConfig) APIKey() string {
	name := m.APIKeyEnv
	if name == "" {
		switch m.Provider {
		case ProviderDeepgram:
			name = "DEEPGRAM_API_KEY"
		default:
			name = "GEMINI_API_KEY"
		}
	}
	return os.Getenv(name)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must be set"))
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		errs = append(errs, fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("server.rate_limit_per_minute must not be negative"))
	}

	switch c.Model.Provider {
	case ProviderGemini, ProviderDeepgram:
	default:
		errs = append(errs, fmt.Errorf("model.provider must be %q or %q, got %q", ProviderGemini, ProviderDeepgram, c.Model.Provider))
	}
	if (c.Model.VertexProject == "") != (c.Model.VertexLocation == "") {
		errs = append(errs, errors.New("model.vertex_project and model.vertex_location must be set together"))
	}

	for _, name := range c.Tools.Enabled {
		if _, ok := tools.Builtin(name); !ok {
			errs = append(errs, fmt.Errorf("tools.enabled: unknown tool %q", name))
		}
	}

	if c.Session.InboundQueue <= 0 {
		errs = append(errs, errors.New("session.inbound_queue must be positive"))
	}
	if c.Session.SubmitQueue <= 0 {
		errs = append(errs, errors.New("session.submit_queue must be positive"))
	}
	if c.Session.OutputBuffer <= 0 {
		errs = append(errs, errors.New("session.output_buffer must be positive"))
	}
	if c.Session.DrainTimeout <= 0 {
		errs = append(errs, errors.New("session.drain_timeout must be positive"))
	}
	if c.Session.WriteTimeout <= 0 {
		errs = append(errs, errors.New("session.write_timeout must be positive"))
	}
	if c.Session.PingInterval < 0 {
		errs = append(errs, errors.New("session.ping_interval must not be negative"))
	}
	if c.Session.ReadLimit <= 0 {
		errs = append(errs, errors.New("session.read_limit must be positive"))
	}
	if c.Session.AudioRate < 0 {
		errs = append(errs, errors.New("session.inbound_audio_rate must not be negative"))
	}
	if c.Session.SpeechThreshold < 0 {
		errs = append(errs, errors.New("session.speech_threshold must not be negative"))
	}
	if c.Session.AudioRate > 0 && c.Session.AudioBurst <= 0 {
		errs = append(errs, errors.New("session.inbound_audio_burst must be positive when a rate is set"))
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case ExporterGRPC, ExporterHTTP:
		default:
			errs = append(errs, fmt.Errorf("telemetry.exporter must be %q or %q, got %q", ExporterGRPC, ExporterHTTP, c.Telemetry.Exporter))
		}
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint must be set when telemetry is enabled"))
		}
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, errors.New("telemetry.sampling_rate must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
