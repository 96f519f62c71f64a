package model

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/ema-bridge/core/events"
)

const (
	defaultSubmitQueueSize  = 256
	defaultOutputBufferSize = 512
)

type SessionOption func(*Session)

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSubmitQueueSize bounds queued audio. Once full the oldest queued
// audio chunk is dropped for every new one.
func WithSubmitQueueSize(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.submitQueueSize = n
		}
	}
}

// WithOutputBufferSize bounds how far the backend may run ahead of the
// consumer of Outputs.
func WithOutputBufferSize(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.outputBufferSize = n
		}
	}
}

// Session owns one live connection to a model. Submissions are serialized
// through a single writer so they reach the backend in FIFO order.
type Session struct {
	conn    Connection
	modelID string
	logger  *slog.Logger

	submissions      *eventQueue
	outputs          *eventQueue
	submitQueueSize  int
	outputBufferSize int

	mu         sync.Mutex
	turnActive bool
	responseID string
	discarding bool

	outputsTaken atomic.Bool
	cancel       context.CancelFunc
	closeOnce    sync.Once
	closed       atomic.Bool
	workers      sync.WaitGroup
}

// Open connects to the model. A failed handshake returns *ConnectError.
func Open(ctx context.Context, connector Connector, cfg Config, opts ...SessionOption) (*Session, error) {
	ctx, span := tracer.Start(ctx, "open model session")
	defer span.End()
	span.SetAttributes(attribute.String("model.id", cfg.ModelID))

	conn, err := connector.Connect(ctx, cfg)
	if err != nil {
		err = &ConnectError{Model: cfg.ModelID, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		conn:             conn,
		modelID:          cfg.ModelID,
		logger:           logger,
		submissions:      newEventQueue(),
		outputs:          newEventQueue(),
		submitQueueSize:  defaultSubmitQueueSize,
		outputBufferSize: defaultOutputBufferSize,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.workers.Add(2)
	go s.writeLoop(runCtx)
	go s.readLoop(runCtx)
	return s, nil
}

func (s *Session) ModelID() string {
	return s.modelID
}

// SubmitAudio queues an audio chunk without blocking.
func (s *Session) SubmitAudio(chunk events.AudioInput) error {
	dropped, err := s.submissions.pushBounded(chunk, s.submitQueueSize, isAudioInput)
	if err != nil {
		return err
	}
	if dropped {
		droppedAudioChunks.Add(context.Background(), 1)
		s.logger.Debug("submit queue full, dropped oldest audio chunk", "model", s.modelID)
	}
	return nil
}

// SubmitText queues text input without blocking. Text is never dropped.
func (s *Session) SubmitText(text string, role events.Role) error {
	return s.submissions.push(events.NewTextInput(text, role))
}

// SubmitToolResult queues the answer to a tool call. Results are never
// dropped.
func (s *Session) SubmitToolResult(result events.ToolResult) error {
	return s.submissions.push(result)
}

// InTurn reports whether the model is between ResponseStart and
// ResponseComplete.
func (s *Session) InTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnActive
}

// Interrupt abandons the current turn. When a turn is active, the next
// event from Outputs is ResponseComplete with StopReasonInterrupted and any
// further audio or assistant transcript of that turn is discarded. Without
// an active turn nothing is emitted.
func (s *Session) Interrupt() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	if s.turnActive {
		purged := s.outputs.purge(isTurnOutput)
		if purged > 0 {
			discardedOutputs.Add(context.Background(), int64(purged))
		}
		_ = s.outputs.push(events.NewResponseComplete(s.responseID, events.StopReasonInterrupted))
		s.turnActive = false
		s.discarding = true
		s.logger.Debug("interrupted model turn", "model", s.modelID, "response_id", s.responseID, "discarded", purged)
	}
	s.mu.Unlock()

	return s.submissions.push(interruptRequest{})
}

// Outputs streams model events until the backend closes the stream. A
// clean close ends the sequence without an error. The sequence can only be
// consumed once.
func (s *Session) Outputs(ctx context.Context) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		if !s.outputsTaken.CompareAndSwap(false, true) {
			yield(nil, ErrOutputsConsumed)
			return
		}

		for {
			event, err := s.outputs.next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return
				}
				yield(nil, err)
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}

// Close releases the connection. Only the first call has an effect.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.submissions.close(ErrSessionClosed)
		s.cancel()
		if closeErr := s.conn.Close(); closeErr != nil {
			err = &StreamError{Err: closeErr}
		}
		s.workers.Wait()
		s.outputs.close(nil)
	})
	return err
}

func (s *Session) writeLoop(ctx context.Context) {
	defer s.workers.Done()

	for {
		event, err := s.submissions.next(ctx)
		if err != nil {
			return
		}

		if _, ok := event.(interruptRequest); ok {
			err = s.conn.Interrupt(ctx)
		} else {
			err = s.conn.Send(ctx, event)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("failed to send to model", "model", s.modelID, "event", event.Kind(), "error", err)
			s.outputs.close(&StreamError{Err: err})
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.workers.Done()

	for {
		event, err := s.conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				s.outputs.close(nil)
				return
			}
			var streamErr *StreamError
			if !errors.As(err, &streamErr) {
				err = &StreamError{Err: err}
			}
			s.outputs.close(err)
			return
		}

		if err := s.route(ctx, event); err != nil {
			if ctx.Err() != nil {
				err = nil
			}
			s.outputs.close(err)
			return
		}
	}
}

// route applies turn bookkeeping to a backend event before queueing it.
// Bookkeeping and push happen under one lock so Interrupt can never slip
// between them.
func (s *Session) route(ctx context.Context, event events.Event) error {
	if err := s.outputs.waitRoom(ctx, s.outputBufferSize); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case events.ResponseStart:
		if s.turnActive {
			return &ProtocolViolationError{Reason: "response start while turn " + s.responseID + " is still open"}
		}
		s.turnActive = true
		s.discarding = false
		s.responseID = e.ResponseID

	case events.ResponseComplete:
		switch {
		case s.discarding:
			s.discarding = false
			discardedOutputs.Add(ctx, 1)
			return nil
		case !s.turnActive:
			s.logger.Warn("dropping response complete without open turn", "model", s.modelID)
			return nil
		}
		s.turnActive = false

	default:
		if s.discarding && isTurnOutput(event) {
			discardedOutputs.Add(ctx, 1)
			return nil
		}
	}

	_ = s.outputs.push(event)
	return nil
}

type interruptRequest struct{}

func (interruptRequest) Kind() events.Kind { return "interrupt" }

func isAudioInput(event events.Event) bool {
	_, ok := event.(events.AudioInput)
	return ok
}

func isTurnOutput(event events.Event) bool {
	switch e := event.(type) {
	case events.AudioOutput:
		return true
	case events.TranscriptOutput:
		return e.Role == events.RoleAssistant
	}
	return false
}
