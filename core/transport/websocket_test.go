package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newEchoServer(t *testing.T, handle func(conn *WebSocket)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		ws := NewWebSocket(conn, WithPingInterval(0))
		defer ws.Close()
		handle(ws)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	url := newEchoServer(t, func(conn *WebSocket) {
		for {
			frame, err := conn.Receive(context.Background())
			if err != nil {
				return
			}
			if err := conn.Send(context.Background(), frame); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, url, nil, WithPingInterval(0))
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	defer client.Close()

	if err := client.Send(ctx, []byte(`{"type":"bidi_text_input","text":"hi"}`)); err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	frame, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("expected echo, got %v", err)
	}
	if string(frame) != `{"type":"bidi_text_input","text":"hi"}` {
		t.Fatalf("unexpected echo %q", frame)
	}
}

func TestWebSocketReceiveReportsOrderlyClose(t *testing.T) {
	url := newEchoServer(t, func(conn *WebSocket) {})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Dial(ctx, url, nil, WithPingInterval(0))
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	defer client.Close()

	if _, err := client.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after server close, got %v", err)
	}
}

func TestWebSocketReceiveHonoursContext(t *testing.T) {
	release := make(chan struct{})
	url := newEchoServer(t, func(conn *WebSocket) { <-release })
	defer close(release)

	client, err := Dial(context.Background(), url, nil, WithPingInterval(0))
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWebSocketSendAfterCloseFails(t *testing.T) {
	url := newEchoServer(t, func(conn *WebSocket) {
		_, _ = conn.Receive(context.Background())
	})

	client, err := Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("expected second close to be a no-op, got %v", err)
	}

	err = client.Send(context.Background(), []byte(`{}`))
	var writeErr *WriteError
	if !errors.As(err, &writeErr) || !errors.Is(err, ErrClosed) {
		t.Fatalf("expected write error wrapping ErrClosed, got %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err == nil {
		t.Fatalf("expected dial to fail against a plain HTTP handler")
	}
}
