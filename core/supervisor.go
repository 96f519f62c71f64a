package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/koscakluka/ema-bridge/core/model"
	"github.com/koscakluka/ema-bridge/core/transport"
)

var ErrSupervisorClosed = errors.New("supervisor is shut down")

type SupervisorOption func(*Supervisor)

func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionOptions applies opts to every session the supervisor creates.
func WithSessionOptions(opts ...SessionOption) SupervisorOption {
	return func(s *Supervisor) {
		s.sessionOptions = append(s.sessionOptions, opts...)
	}
}

// Supervisor runs one Session per accepted connection and guarantees the
// connection's resources are released however the session ends.
type Supervisor struct {
	connector      model.Connector
	config         model.Config
	sessionOptions []SessionOption
	logger         *slog.Logger

	mu       sync.Mutex
	closed   bool
	sessions map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewSupervisor(connector model.Connector, cfg model.Config, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		connector: connector,
		config:    cfg,
		logger:    logger,
		sessions:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accept runs a session for conn until it ends. Session failures are logged
// and contained. An error is returned only when the supervisor refused the
// connection or the session panicked.
func (s *Supervisor) Accept(ctx context.Context, conn transport.Conn) (err error) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if closeErr := conn.Close(); closeErr != nil {
			s.logger.Debug("failed to close refused connection", "error", closeErr)
		}
		return ErrSupervisorClosed
	}
	s.sessions[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		s.wg.Done()
	}()

	var session *Session
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("bridge session %s panicked: %v", id, recovered)
		s.logger.Error("bridge session panicked", "session_id", id, "error", err)

		var closeErr error
		if session != nil {
			closeErr = session.closeResources()
		} else {
			closeErr = conn.Close()
		}
		if closeErr != nil {
			s.logger.Warn("failed to release resources of panicked session", "session_id", id, "error", closeErr)
		}
	}()

	opts := append(append([]SessionOption{WithLogger(s.logger)}, s.sessionOptions...), WithID(id))
	session = NewSession(conn, s.connector, s.config, opts...)
	if runErr := session.Run(ctx); runErr != nil {
		s.logger.Warn("bridge session ended with an error", "session_id", id, "cause", session.Cause(), "error", runErr)
	}
	return nil
}

// Shutdown refuses new connections, cancels every running session and waits
// for them to finish or for ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, cancel := range s.sessions {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain bridge sessions: %w", ctx.Err())
	}
}

func (s *Supervisor) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
