package bridge

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/koscakluka/ema-bridge/core/model"
	"github.com/koscakluka/ema-bridge/core/tools"
)

const (
	DefaultDrainTimeout     = 5 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultInboundQueueSize = 64
	defaultToolQueueSize    = 32
)

type SessionOption func(*Session)

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithID sets the session id. A random UUID is used otherwise.
func WithID(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithToolRegistry sets the tools the model may call. When the model config
// declares no tools, the registry's specs are declared.
func WithToolRegistry(registry *tools.Registry) SessionOption {
	return func(s *Session) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithDrainTimeout bounds how long an in-flight turn may keep streaming
// after a stop tool ended the session.
func WithDrainTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		if timeout > 0 {
			s.drainTimeout = timeout
		}
	}
}

func WithWriteTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		if timeout > 0 {
			s.writeTimeout = timeout
		}
	}
}

// WithInboundQueueSize bounds the frames read from the client but not yet
// routed. A full queue stops reading from the client.
func WithInboundQueueSize(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.inboundQueueSize = n
		}
	}
}

// WithInboundAudioRate drops inbound audio chunks arriving faster than
// limit. Text is never rate limited.
func WithInboundAudioRate(limit rate.Limit, burst int) SessionOption {
	return func(s *Session) {
		if limit > 0 && burst > 0 {
			s.audioLimiter = rate.NewLimiter(limit, burst)
		}
	}
}

// WithAudioBargeIn controls whether inbound audio interrupts a model turn.
// Text input always does.
func WithAudioBargeIn(enabled bool) SessionOption {
	return func(s *Session) {
		s.audioBargeIn = enabled
	}
}

// WithSpeechThreshold sets the 16-bit peak amplitude inbound audio must
// exceed to interrupt a model turn. Quieter chunks are still forwarded.
func WithSpeechThreshold(threshold int) SessionOption {
	return func(s *Session) {
		if threshold >= 0 {
			s.speechThreshold = threshold
		}
	}
}

func WithModelSessionOptions(opts ...model.SessionOption) SessionOption {
	return func(s *Session) {
		s.modelOptions = append(s.modelOptions, opts...)
	}
}
