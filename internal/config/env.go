package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "EMA_BRIDGE_"

// LoadDotEnv loads variables from the given files, ".env" by default, into
// the environment without overriding variables already set. Missing files
// are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	var existing []string
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		existing = append(existing, path)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// applyEnv overrides cfg with EMA_BRIDGE_* variables. Malformed values are
// reported together.
func applyEnv(cfg *Config) error {
	var errs []error

	parseString("LISTEN_ADDR", &cfg.Server.ListenAddr)
	parseString("WS_PATH", &cfg.Server.WSPath)
	parseList("ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)
	errs = append(errs, parseInt("RATE_LIMIT_PER_MINUTE", &cfg.Server.RateLimitPerMinute))

	parseString("MODEL_PROVIDER", &cfg.Model.Provider)
	parseString("MODEL_ID", &cfg.Model.ID)
	parseString("MODEL_VOICE", &cfg.Model.Voice)
	parseString("SYSTEM_PROMPT", &cfg.Model.SystemPrompt)
	parseString("API_KEY_ENV", &cfg.Model.APIKeyEnv)
	parseString("VERTEX_PROJECT", &cfg.Model.VertexProject)
	parseString("VERTEX_LOCATION", &cfg.Model.VertexLocation)

	parseList("TOOLS", &cfg.Tools.Enabled)

	errs = append(errs,
		parseInt("INBOUND_QUEUE", &cfg.Session.InboundQueue),
		parseInt("SUBMIT_QUEUE", &cfg.Session.SubmitQueue),
		parseDuration("DRAIN_TIMEOUT", &cfg.Session.DrainTimeout),
		parseDuration("WRITE_TIMEOUT", &cfg.Session.WriteTimeout),
		parseDuration("PING_INTERVAL", &cfg.Session.PingInterval),
		parseFloat("INBOUND_AUDIO_RATE", &cfg.Session.AudioRate),
		parseBool("AUDIO_BARGE_IN", &cfg.Session.AudioBargeIn),
		parseInt("SPEECH_THRESHOLD", &cfg.Session.SpeechThreshold),
		parseBool("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled),
		parseFloat("TELEMETRY_SAMPLING_RATE", &cfg.Telemetry.SamplingRate),
	)
	parseString("TELEMETRY_EXPORTER", &cfg.Telemetry.Exporter)
	if endpoint, ok := lookup("TELEMETRY_ENDPOINT"); ok {
		cfg.Telemetry.Endpoint = endpoint
	} else if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.Endpoint = endpoint
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	return nil
}

// lookup returns the prefixed variable when it is set and not empty.
func lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func parseString(key string, target *string) {
	if value, ok := lookup(key); ok {
		*target = value
	}
}

func parseList(key string, target *[]string) {
	value, ok := lookup(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*target = items
}

func parseInt(key string, target *int) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*target = parsed
	return nil
}

func parseFloat(key string, target *float64) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*target = parsed
	return nil
}

func parseBool(key string, target *bool) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*target = parsed
	return nil
}

func parseDuration(key string, target *time.Duration) error {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	*target = parsed
	return nil
}
