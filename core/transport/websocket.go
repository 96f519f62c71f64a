package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultReadLimit    = 1 << 20
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
)

type WebSocketOption func(*WebSocket)

func WithReadLimit(limit int64) WebSocketOption {
	return func(w *WebSocket) {
		if limit > 0 {
			w.readLimit = limit
		}
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(w *WebSocket) {
		if timeout > 0 {
			w.writeTimeout = timeout
		}
	}
}

// WithPingInterval sets how often pings are sent. Zero disables keepalive
// and the read deadline that goes with it.
func WithPingInterval(interval time.Duration) WebSocketOption {
	return func(w *WebSocket) {
		if interval >= 0 {
			w.pingInterval = interval
		}
	}
}

func WithLogger(l *slog.Logger) WebSocketOption {
	return func(w *WebSocket) {
		if l != nil {
			w.logger = l
		}
	}
}

// WebSocket adapts a gorilla connection to Conn. Every frame is one text
// message. Writes, including pings and the close frame, are serialized.
type WebSocket struct {
	conn *websocket.Conn

	readLimit    int64
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger

	connMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closing   chan struct{}
	pingDone  chan struct{}
}

func NewWebSocket(conn *websocket.Conn, opts ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		conn:         conn,
		readLimit:    DefaultReadLimit,
		writeTimeout: DefaultWriteTimeout,
		pingInterval: DefaultPingInterval,
		logger:       logger,
		closing:      make(chan struct{}),
		pingDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	conn.SetReadLimit(w.readLimit)
	if w.pingInterval > 0 {
		pongWait := w.pingInterval * 2
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go w.keepAlive()
	} else {
		close(w.pingDone)
	}
	return w
}

// Dial opens a client connection to a bridge server.
func Dial(ctx context.Context, url string, header http.Header, opts ...WebSocketOption) (*WebSocket, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewWebSocket(conn, opts...), nil
}

func (w *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	// A read cannot be resumed once its deadline fires, so cancellation ends
	// the connection for good.
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, w.readError(err)
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (w *WebSocket) readError(err error) error {
	select {
	case <-w.closing:
		return ErrClosed
	default:
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ErrClosed
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("failed to read frame: %w", err)
}

func (w *WebSocket) Send(ctx context.Context, frame []byte) error {
	select {
	case <-w.closing:
		return &WriteError{Err: ErrClosed}
	default:
	}

	w.connMu.Lock()
	defer w.connMu.Unlock()

	deadline := time.Now().Add(w.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = w.conn.SetWriteDeadline(deadline)
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &WriteError{Err: err}
	}
	return nil
}

func (w *WebSocket) keepAlive() {
	defer close(w.pingDone)

	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closing:
			return
		case <-ticker.C:
			w.connMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout))
			w.connMu.Unlock()
			if err != nil {
				w.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// Close sends a normal close frame and releases the connection. Later calls
// return the first result.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		close(w.closing)
		<-w.pingDone

		w.connMu.Lock()
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := w.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second)); err != nil &&
			!errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
			w.logger.Debug("failed to send close frame", "error", err)
		}
		w.connMu.Unlock()

		if err := w.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			w.closeErr = fmt.Errorf("failed to close websocket: %w", err)
		}
	})
	return w.closeErr
}
