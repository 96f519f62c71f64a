// Package server exposes the bridge over HTTP: the WebSocket endpoint plus
// health and metrics routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	bridge "github.com/koscakluka/ema-bridge/core"
	"github.com/koscakluka/ema-bridge/core/model"
	"github.com/koscakluka/ema-bridge/core/transport"
	"github.com/koscakluka/ema-bridge/internal/config"
)

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

type Server struct {
	cfg        config.Config
	supervisor *bridge.Supervisor
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	handler    http.Handler
}

func New(cfg config.Config, supervisor *bridge.Supervisor, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		supervisor: supervisor,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	s.handler = otelhttp.NewHandler(s.routes(), "ema-bridge")
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ping", s.handlePing)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if limit := s.cfg.Server.RateLimitPerMinute; limit > 0 {
			r.Use(httprate.Limit(limit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Retry-After", "60")
					writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
				}),
			))
		}
		r.Get(s.cfg.Server.WSPath, s.handleWebSocket)
	})
	return r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.Server.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.Server.AllowedOrigins, origin)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Healthy"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.supervisor.ActiveSessions(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := transport.NewWebSocket(ws,
		transport.WithReadLimit(s.cfg.Session.ReadLimit),
		transport.WithWriteTimeout(s.cfg.Session.WriteTimeout),
		transport.WithPingInterval(s.cfg.Session.PingInterval),
		transport.WithLogger(s.logger),
	)
	s.logger.Info("client connected", "remote_addr", r.RemoteAddr, "request_id", middleware.GetReqID(r.Context()))

	// The request context ends with the handler; the supervisor cancels
	// sessions on shutdown.
	if err := s.supervisor.Accept(context.WithoutCancel(r.Context()), conn); err != nil {
		s.logger.Error("bridge session failed", "remote_addr", r.RemoteAddr, "error", err)
	}
}

// Serve accepts connections on listener until ctx ends, then stops the HTTP
// server and drains the bridge sessions.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("bridge server listening", "addr", listener.Addr().String(), "ws_path", s.cfg.Server.WSPath)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		s.logger.Info("bridge server shutting down", "active_sessions", s.supervisor.ActiveSessions())
		return errors.Join(
			s.supervisor.Shutdown(shutdownCtx),
			httpServer.Shutdown(shutdownCtx),
		)
	})
	return g.Wait()
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.ListenAddr, err)
	}
	return s.Serve(ctx, listener)
}

// SessionOptions maps the session section of cfg onto bridge options.
func SessionOptions(cfg config.SessionConfig) []bridge.SessionOption {
	opts := []bridge.SessionOption{
		bridge.WithDrainTimeout(cfg.DrainTimeout),
		bridge.WithWriteTimeout(cfg.WriteTimeout),
		bridge.WithInboundQueueSize(cfg.InboundQueue),
		bridge.WithAudioBargeIn(cfg.AudioBargeIn),
		bridge.WithSpeechThreshold(cfg.SpeechThreshold),
		bridge.WithModelSessionOptions(
			model.WithSubmitQueueSize(cfg.SubmitQueue),
			model.WithOutputBufferSize(cfg.OutputBuffer),
		),
	}
	if cfg.AudioRate > 0 {
		opts = append(opts, bridge.WithInboundAudioRate(rate.Limit(cfg.AudioRate), cfg.AudioBurst))
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
