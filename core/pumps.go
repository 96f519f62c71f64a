package bridge

import (
	"context"
	"errors"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/codec"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/model"
	"github.com/koscakluka/ema-bridge/core/transport"
	"github.com/koscakluka/ema-bridge/internal/metrics"
)

// pumpInbound decodes client frames and submits them to the model until the
// client leaves or the session drains.
func (s *Session) pumpInbound(ctx context.Context, frames <-chan []byte, readErr func() error, readerDone <-chan struct{}) error {
	for {
		select {
		case <-s.draining:
			return nil
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				<-readerDone
				s.drainOnReadError(readErr())
				return nil
			}
			if s.isDraining() {
				return nil
			}
			s.routeInbound(frame)
		}
	}
}

func (s *Session) drainOnReadError(err error) {
	switch {
	case err == nil, errors.Is(err, transport.ErrClosed):
		s.drain(CauseTransportClosed, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.drain(CauseCanceled, nil)
	default:
		s.drain(CauseTransportError, err)
	}
}

func (s *Session) routeInbound(frame []byte) {
	event, err := codec.Decode(frame)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		s.logger.Warn("dropping undecodable frame", "error", err)
		return
	}
	metrics.RecordEvent(metrics.DirectionInbound, string(event.Kind()))

	switch e := event.(type) {
	case events.AudioInput:
		if s.audioLimiter != nil && !s.audioLimiter.Allow() {
			metrics.RecordDroppedFrame("rate_limited")
			s.logger.Warn("dropping audio chunk over the inbound rate")
			return
		}
		e.EncodingInfo = e.EncodingInfo.WithDefaults(s.config.InputAudio)
		if s.audioBargeIn && !audio.IsSilent(e.Audio, e.EncodingInfo, s.speechThreshold) {
			s.bargeIn()
		}
		if err := s.model.SubmitAudio(e); err != nil {
			s.logger.Debug("failed to submit audio", "error", err)
		}

	case events.TextInput:
		if e.Role == "" {
			e.Role = events.RoleUser
		}
		s.bargeIn()
		if err := s.model.SubmitText(e.Text, e.Role); err != nil {
			s.logger.Debug("failed to submit text", "error", err)
		}

	default:
		s.logger.Warn("ignoring inbound event", "type", event.Kind())
	}
}

// bargeIn interrupts the model turn in progress so new input is heard.
func (s *Session) bargeIn() {
	if !s.model.InTurn() {
		return
	}
	if err := s.model.Interrupt(); err != nil {
		s.logger.Debug("failed to interrupt model turn", "error", err)
		return
	}
	metrics.BargeInsTotal.Inc()
	s.logger.Debug("interrupted model turn on user input")
}

// pumpOutbound forwards model output to the client in order and hands tool
// calls to the tool worker.
func (s *Session) pumpOutbound(ctx context.Context, toolCalls chan<- events.ToolCall) error {
	for event, err := range s.model.Outputs(ctx) {
		if err != nil {
			s.drainOnModelError(err)
			return nil
		}

		if call, ok := event.(events.ToolCall); ok {
			select {
			case toolCalls <- call:
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if err := s.write(event); err != nil {
			s.drain(CauseTransportWrite, err)
			return nil
		}
		if _, ok := event.(events.ResponseComplete); ok && s.isDraining() {
			return nil
		}
	}

	if ctx.Err() == nil {
		s.drain(CauseModelEnded, nil)
	}
	return nil
}

func (s *Session) drainOnModelError(err error) {
	var (
		violation *model.ProtocolViolationError
		kind      events.ErrorKind
		cause     DrainCause
	)
	switch {
	case errors.As(err, &violation):
		kind, cause = events.ErrorKindProtocolViolation, CauseProtocolViolation
	case errors.Is(err, model.ErrOutputsConsumed):
		kind, cause = events.ErrorKindInternal, CauseInternal
	default:
		kind, cause = events.ErrorKindModelStream, CauseModelStream
	}

	s.logger.Error("model stream failed", "error", err)
	if writeErr := s.write(events.NewError(kind, err.Error())); writeErr != nil {
		s.logger.Debug("failed to report model error", "error", writeErr)
	}
	s.drain(cause, err)
}
