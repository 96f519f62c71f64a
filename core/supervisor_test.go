package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/model"
	"github.com/koscakluka/ema-bridge/core/model/modeltest"
	"github.com/koscakluka/ema-bridge/core/transport"
)

func acceptAsync(supervisor *Supervisor, conn transport.Conn) <-chan error {
	done := make(chan error, 1)
	go func() { done <- supervisor.Accept(context.Background(), conn) }()
	return done
}

func awaitAccept(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Accept to return")
		return nil
	}
}

func TestSupervisorTransportDisconnectMidTurn(t *testing.T) {
	conn := modeltest.NewConnection()
	supervisor := NewSupervisor(connectorFor(conn), model.Config{ModelID: testModelID})

	client, server := transport.Pipe()
	done := acceptAsync(supervisor, server)

	conn.Emit(events.NewResponseStart("r1"), speech(1))
	receiveEvents(t, client, 3)
	if active := supervisor.ActiveSessions(); active != 1 {
		t.Fatalf("expected one active session, got %d", active)
	}

	_ = client.Close()
	if err := awaitAccept(t, done); err != nil {
		t.Fatalf("expected Accept to contain the disconnect, got %v", err)
	}
	if calls := conn.CloseCalls(); calls != 1 {
		t.Fatalf("expected model connection to be closed exactly once, got %d", calls)
	}
	if active := supervisor.ActiveSessions(); active != 0 {
		t.Fatalf("expected no active sessions, got %d", active)
	}
}

func TestSupervisorContainsSessionErrors(t *testing.T) {
	connector := model.ConnectorFunc(func(context.Context, model.Config) (model.Connection, error) {
		return nil, errors.New("model unavailable")
	})
	supervisor := NewSupervisor(connector, model.Config{ModelID: testModelID})

	client, server := transport.Pipe()
	defer client.Close()

	if err := awaitAccept(t, acceptAsync(supervisor, server)); err != nil {
		t.Fatalf("expected connect failure to be contained, got %v", err)
	}
}

func TestSupervisorRecoversPanicsAndClosesTransport(t *testing.T) {
	connector := model.ConnectorFunc(func(context.Context, model.Config) (model.Connection, error) {
		panic("connector exploded")
	})
	supervisor := NewSupervisor(connector, model.Config{ModelID: testModelID})

	client, server := transport.Pipe()
	err := awaitAccept(t, acceptAsync(supervisor, server))
	if err == nil {
		t.Fatalf("expected Accept to report the panic")
	}

	if _, err := client.Receive(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected transport to be closed after the panic, got %v", err)
	}
	if active := supervisor.ActiveSessions(); active != 0 {
		t.Fatalf("expected no active sessions, got %d", active)
	}
}

func TestSupervisorShutdownCancelsSessionsAndRefusesNewOnes(t *testing.T) {
	conn := modeltest.NewConnection()
	supervisor := NewSupervisor(connectorFor(conn), model.Config{ModelID: testModelID})

	client, server := transport.Pipe()
	done := acceptAsync(supervisor, server)

	conn.Emit(events.NewResponseStart("r1"))
	receiveEvents(t, client, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := supervisor.Shutdown(ctx); err != nil {
		t.Fatalf("expected shutdown to finish, got %v", err)
	}
	if err := awaitAccept(t, done); err != nil {
		t.Fatalf("expected cancelled session to end cleanly, got %v", err)
	}

	received := expectClosed(t, client)
	if len(received) != 1 {
		t.Fatalf("expected the open turn to be completed, got %v", received)
	}
	if complete, ok := received[0].(events.ResponseComplete); !ok || complete.StopReason != events.StopReasonInterrupted {
		t.Fatalf("expected interrupted complete, got %#v", received[0])
	}

	lateClient, lateServer := transport.Pipe()
	if err := supervisor.Accept(context.Background(), lateServer); !errors.Is(err, ErrSupervisorClosed) {
		t.Fatalf("expected ErrSupervisorClosed, got %v", err)
	}
	if _, err := lateClient.Receive(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected refused connection to be closed, got %v", err)
	}
}
