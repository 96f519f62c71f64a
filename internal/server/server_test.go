package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridge "github.com/koscakluka/ema-bridge/core"
	"github.com/koscakluka/ema-bridge/core/codec"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/model"
	"github.com/koscakluka/ema-bridge/core/model/modeltest"
	"github.com/koscakluka/ema-bridge/core/transport"
	"github.com/koscakluka/ema-bridge/internal/config"
)

func echoConnector() model.Connector {
	return model.ConnectorFunc(func(context.Context, model.Config) (model.Connection, error) {
		conn := modeltest.NewConnection()
		conn.OnSend = func(c *modeltest.Connection, event events.Event) error {
			if text, ok := event.(events.TextInput); ok {
				c.Emit(
					events.NewResponseStart("r1"),
					events.NewTranscriptOutput(events.RoleAssistant, "you said "+text.Text, true),
					events.NewResponseComplete("r1", events.StopReasonCompleted),
				)
			}
			return nil
		}
		return conn, nil
	})
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Session.PingInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	supervisor := bridge.NewSupervisor(echoConnector(), model.Config{ModelID: "echo"},
		bridge.WithSessionOptions(SessionOptions(cfg.Session)...))
	srv := New(cfg, supervisor)
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = supervisor.Shutdown(ctx)
		httpServer.Close()
	})
	return srv, httpServer
}

func wsURL(httpServer *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(httpServer.URL, "http") + path
}

func receive(t *testing.T, conn transport.Conn) events.Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame, err := conn.Receive(ctx)
	require.NoError(t, err)
	event, err := codec.Decode(frame)
	require.NoError(t, err)
	return event
}

func TestPing(t *testing.T) {
	_, httpServer := newTestServer(t, nil)

	resp, err := http.Get(httpServer.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Healthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, httpServer := newTestServer(t, nil)

	resp, err := http.Get(httpServer.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ema_bridge_sessions_active")
}

func TestWebSocketBridgesTextTurn(t *testing.T) {
	_, httpServer := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := transport.Dial(ctx, wsURL(httpServer, "/ws"), nil, transport.WithPingInterval(0))
	require.NoError(t, err)
	defer client.Close()

	start, ok := receive(t, client).(events.ConnectionStart)
	require.True(t, ok, "first event must be the connection start")
	assert.Equal(t, "echo", start.Model)
	assert.NotEmpty(t, start.ConnectionID)

	frame, err := codec.Encode(events.NewTextInput("hello", events.RoleUser))
	require.NoError(t, err)
	require.NoError(t, client.Send(ctx, frame))

	assert.Equal(t, events.KindResponseStart, receive(t, client).Kind())
	transcript, ok := receive(t, client).(events.TranscriptOutput)
	require.True(t, ok)
	assert.Equal(t, "you said hello", transcript.Text)
	assert.Equal(t, events.KindResponseComplete, receive(t, client).Kind())
}

func TestHealthReportsActiveSessions(t *testing.T) {
	srv, httpServer := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := transport.Dial(ctx, wsURL(httpServer, "/ws"), nil, transport.WithPingInterval(0))
	require.NoError(t, err)
	defer client.Close()
	receive(t, client)

	resp, err := http.Get(httpServer.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.ActiveSessions)
	assert.Equal(t, 1, srv.supervisor.ActiveSessions())
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, httpServer := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{"https://app.example.com"}
	})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(httpServer, "/ws"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketRateLimitedPerIP(t *testing.T) {
	_, httpServer := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimitPerMinute = 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := transport.Dial(ctx, wsURL(httpServer, "/ws"), nil, transport.WithPingInterval(0))
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL(httpServer, "/ws"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ShutdownTimeout = time.Second
	supervisor := bridge.NewSupervisor(echoConnector(), model.Config{ModelID: "echo"})
	srv := New(cfg, supervisor)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/ping")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancel")
	}

	assert.ErrorIs(t, supervisor.Accept(context.Background(), nopConn{}), bridge.ErrSupervisorClosed)
}

type nopConn struct{}

func (nopConn) Receive(context.Context) ([]byte, error) { return nil, transport.ErrClosed }
func (nopConn) Send(context.Context, []byte) error      { return nil }
func (nopConn) Close() error                            { return nil }

func TestNewDefaultsToPackageLogger(t *testing.T) {
	assert.Same(t, logger, New(config.Default(), nil).logger)

	custom := slog.New(slog.DiscardHandler)
	assert.Same(t, custom, New(config.Default(), nil, WithLogger(custom)).logger)
}
