// Package bridge relays events between one client transport and one model
// session. A Session runs the state machine for a single connection and a
// Supervisor owns the sessions of a server.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/codec"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/model"
	"github.com/koscakluka/ema-bridge/core/tools"
	"github.com/koscakluka/ema-bridge/core/transport"
	"github.com/koscakluka/ema-bridge/internal/metrics"
)

// Session bridges one client connection to one model session. It owns both
// for its whole lifetime and closes each exactly once.
type Session struct {
	id        string
	transport transport.Conn
	connector model.Connector
	config    model.Config
	registry  *tools.Registry

	logger           *slog.Logger
	drainTimeout     time.Duration
	writeTimeout     time.Duration
	inboundQueueSize int
	audioLimiter     *rate.Limiter
	audioBargeIn     bool
	speechThreshold  int
	modelOptions     []model.SessionOption

	state atomic.Int32
	model *model.Session

	mu       sync.Mutex
	cause    DrainCause
	causeErr error
	draining chan struct{}

	stopOutbound context.CancelFunc
	drainTimer   *time.Timer

	// writeMu serializes client writes and guards the turn bookkeeping.
	writeMu    sync.Mutex
	writeCtx   context.Context
	turnOpen   bool
	turnID     string
	discarding bool

	ran                atomic.Bool
	transportEnded     atomic.Bool
	modelCloseOnce     sync.Once
	transportCloseOnce sync.Once
	modelCloseErr      error
	transportCloseErr  error
}

func NewSession(conn transport.Conn, connector model.Connector, cfg model.Config, opts ...SessionOption) *Session {
	s := &Session{
		id:               uuid.NewString(),
		transport:        conn,
		connector:        connector,
		config:           cfg,
		logger:           logger,
		drainTimeout:     DefaultDrainTimeout,
		writeTimeout:     DefaultWriteTimeout,
		inboundQueueSize: DefaultInboundQueueSize,
		audioBargeIn:     true,
		speechThreshold:  audio.DefaultSpeechThreshold,
		draining:         make(chan struct{}),
		writeCtx:         context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = tools.NewRegistry(tools.WithLogger(s.logger))
	}
	if len(s.config.Tools) == 0 {
		s.config.Tools = s.registry.Specs()
	}
	s.config.InputAudio = s.config.InputAudio.WithDefaults(audio.GetDefaultEncodingInfo())
	s.logger = s.logger.With("session_id", s.id)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Cause returns why the session left the active state, empty while active.
func (s *Session) Cause() DrainCause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Run drives the session until both directions are closed. It returns the
// error that ended the session, or nil for an orderly end. Run may be called
// once.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.ran.CompareAndSwap(false, true) {
		return errors.New("bridge session already ran")
	}

	ctx, span := tracer.Start(ctx, "bridge session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.id))

	started := time.Now()
	recordEnd := metrics.SessionStarted()
	defer func() {
		recordEnd(string(s.Cause()), time.Since(started).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.writeCtx = context.WithoutCancel(runCtx)

	handshakeCtx, cancelHandshake := context.WithCancel(runCtx)
	defer cancelHandshake()

	frames := make(chan []byte, s.inboundQueueSize)
	var readErr error
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readErr = s.readTransport(runCtx, frames, cancelHandshake)
	}()

	// The reader is the only goroutine left once the session has closed the
	// transport, so joining it is always the last step.
	defer func() {
		cancel()
		<-readerDone
	}()

	if err := s.handshake(handshakeCtx, ctx); err != nil {
		return err
	}
	if s.State() == StateClosed {
		return nil
	}

	stopOnCancel := context.AfterFunc(ctx, func() { s.drain(CauseCanceled, nil) })
	defer stopOnCancel()

	outboundCtx, stopOutbound := context.WithCancel(runCtx)
	s.mu.Lock()
	s.stopOutbound = stopOutbound
	alreadyDraining := s.cause != CauseNone
	s.mu.Unlock()
	if alreadyDraining {
		stopOutbound()
	}

	toolCtx, cancelTools := context.WithCancel(runCtx)
	defer cancelTools()
	toolCalls := make(chan events.ToolCall, defaultToolQueueSize)

	g := new(errgroup.Group)
	g.Go(s.guard(runCtx, "inbound", func(ctx context.Context) error {
		return s.pumpInbound(ctx, frames, func() error { return readErr }, readerDone)
	}))
	g.Go(func() error {
		defer cancelTools()
		defer close(toolCalls)
		return s.guard(outboundCtx, "outbound", func(ctx context.Context) error {
			return s.pumpOutbound(ctx, toolCalls)
		})()
	})
	g.Go(s.guard(toolCtx, "tool", func(ctx context.Context) error {
		return s.runTools(ctx, toolCalls)
	}))
	_ = g.Wait()

	return s.teardown()
}

func (s *Session) readTransport(ctx context.Context, frames chan<- []byte, onClosed func()) error {
	defer close(frames)
	defer onClosed()

	for {
		frame, err := s.transport.Receive(ctx)
		if err != nil {
			s.transportEnded.Store(true)
			return err
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handshake opens the model session. On failure the session goes straight
// to Closed and only an error event is written, if the client is still there.
func (s *Session) handshake(ctx, parent context.Context) error {
	session, err := model.Open(ctx, s.connector, s.config, append([]model.SessionOption{model.WithLogger(s.logger)}, s.modelOptions...)...)
	if err != nil {
		var result error
		switch {
		case s.transportEnded.Load():
			s.setCause(CauseTransportClosed, nil)
			s.logger.Info("client left before the model session opened")
		case parent.Err() != nil:
			s.setCause(CauseCanceled, nil)
		default:
			s.setCause(CauseConnectFailed, err)
			s.logger.Error("failed to open model session", "error", err)
			if writeErr := s.write(events.NewError(events.ErrorKindConnect, err.Error())); writeErr != nil {
				s.logger.Debug("failed to report connect error", "error", writeErr)
			}
			result = err
		}

		s.state.Store(int32(StateClosed))
		if closeErr := s.closeTransport(); closeErr != nil {
			s.logger.Warn("failed to close transport", "error", closeErr)
		}
		return result
	}
	s.model = session
	s.state.Store(int32(StateActive))
	s.logger.Info("bridge session active", "model", session.ModelID())

	if err := s.write(events.NewConnectionStart(s.id, session.ModelID())); err != nil {
		s.drain(CauseTransportWrite, err)
	}
	return nil
}

func (s *Session) setCause(cause DrainCause, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause != CauseNone {
		return false
	}
	s.cause = cause
	s.causeErr = err
	return true
}

// drain moves the session to Draining. Inbound submission stops at once. The
// outbound pump stops at once too, except after a stop tool where it may
// finish the open turn within the drain timeout.
func (s *Session) drain(cause DrainCause, err error) {
	if !s.setCause(cause, err) {
		return
	}
	s.state.CompareAndSwap(int32(StateActive), int32(StateDraining))
	close(s.draining)

	if err != nil {
		s.logger.Info("bridge session draining", "cause", cause, "error", err)
	} else {
		s.logger.Info("bridge session draining", "cause", cause)
	}

	s.mu.Lock()
	stop := s.stopOutbound
	s.mu.Unlock()
	if stop == nil {
		return
	}

	if cause == CauseStopTool && s.isTurnOpen() {
		s.mu.Lock()
		s.drainTimer = time.AfterFunc(s.drainTimeout, stop)
		s.mu.Unlock()
		return
	}
	stop()
}

func (s *Session) isDraining() bool {
	select {
	case <-s.draining:
		return true
	default:
		return false
	}
}

func (s *Session) isTurnOpen() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.turnOpen
}

// write encodes an event and sends it to the client. It keeps the turn
// brackets paired: a complete without an open turn and output of a turn that
// was force-completed are dropped.
func (s *Session) write(event events.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	switch e := event.(type) {
	case events.ResponseStart:
		s.turnOpen = true
		s.turnID = e.ResponseID
		s.discarding = false
	case events.ResponseComplete:
		if !s.turnOpen {
			s.logger.Debug("dropping response complete without an open turn", "response_id", e.ResponseID)
			return nil
		}
		s.turnOpen = false
	case events.AudioOutput:
		if s.discarding {
			return nil
		}
	case events.TranscriptOutput:
		if s.discarding && e.Role == events.RoleAssistant {
			return nil
		}
	}

	return s.send(event)
}

func (s *Session) send(event events.Event) error {
	frame, err := codec.Encode(event)
	if err != nil {
		s.logger.Error("failed to encode event", "type", event.Kind(), "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(s.writeCtx, s.writeTimeout)
	defer cancel()
	if err := s.transport.Send(ctx, frame); err != nil {
		var writeErr *transport.WriteError
		if !errors.As(err, &writeErr) {
			err = &transport.WriteError{Err: err}
		}
		return err
	}
	metrics.RecordEvent(metrics.DirectionOutbound, string(event.Kind()))
	return nil
}

// forceComplete closes the open turn with reason and discards the rest of its
// output.
func (s *Session) forceComplete(reason events.StopReason) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.turnOpen {
		return nil
	}
	s.turnOpen = false
	s.discarding = true
	return s.send(events.NewResponseComplete(s.turnID, reason))
}

func (s *Session) teardown() error {
	s.mu.Lock()
	if s.drainTimer != nil {
		s.drainTimer.Stop()
	}
	cause := s.cause
	causeErr := s.causeErr
	s.mu.Unlock()

	if cause == CauseNone {
		cause = CauseInternal
		s.setCause(cause, nil)
	}
	s.state.Store(int32(StateDraining))

	if cause.transportWritable() {
		reason := events.StopReasonInterrupted
		if cause.failure() {
			reason = events.StopReasonError
		}
		if err := s.forceComplete(reason); err != nil {
			s.logger.Debug("failed to complete open turn", "error", err)
		}
	}

	closeErr := s.closeResources()
	s.state.Store(int32(StateClosed))
	if closeErr != nil {
		s.logger.Warn("failed to release session resources", "error", closeErr)
	}
	s.logger.Info("bridge session closed", "cause", cause)

	if cause.failure() {
		return errors.Join(fmt.Errorf("bridge session ended: %s", cause), causeErr)
	}
	return nil
}

// closeResources closes the model session and the transport, each at most
// once and each regardless of the other's outcome.
func (s *Session) closeResources() error {
	return errors.Join(s.closeModel(), s.closeTransport())
}

func (s *Session) closeModel() error {
	s.modelCloseOnce.Do(func() {
		if s.model == nil {
			return
		}
		if err := s.model.Close(); err != nil {
			s.modelCloseErr = fmt.Errorf("failed to close model session: %w", err)
		}
	})
	return s.modelCloseErr
}

func (s *Session) closeTransport() error {
	s.transportCloseOnce.Do(func() {
		if err := s.transport.Close(); err != nil {
			s.transportCloseErr = fmt.Errorf("failed to close transport: %w", err)
		}
	})
	return s.transportCloseErr
}
