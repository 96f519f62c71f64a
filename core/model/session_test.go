package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/model/modeltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestSession(t *testing.T, conn *modeltest.Connection, opts ...SessionOption) *Session {
	t.Helper()

	connector := ConnectorFunc(func(context.Context, Config) (Connection, error) { return conn, nil })
	session, err := Open(context.Background(), connector, Config{ModelID: "test-model"}, opts...)
	if err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func collectOutputs(t *testing.T, session *Session, count int) ([]events.Event, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var collected []events.Event
	for event, err := range session.Outputs(ctx) {
		if err != nil {
			return collected, err
		}
		collected = append(collected, event)
		if count > 0 && len(collected) == count {
			break
		}
	}
	return collected, nil
}

func chunk(b byte) events.AudioInput {
	return events.NewAudioInput([]byte{b}, audio.GetDefaultEncodingInfo())
}

func speech(b byte) events.AudioOutput {
	return events.NewAudioOutput([]byte{b}, audio.GetDefaultOutputEncodingInfo())
}

func TestOpenWrapsConnectError(t *testing.T) {
	cause := errors.New("401 unauthorized")
	connector := ConnectorFunc(func(context.Context, Config) (Connection, error) { return nil, cause })

	_, err := Open(context.Background(), connector, Config{ModelID: "test-model"})
	var connectErr *ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected *ConnectError, got %T: %v", err, err)
	}
	if connectErr.Model != "test-model" || !errors.Is(err, cause) {
		t.Fatalf("unexpected connect error %v", err)
	}
}

func TestSessionSubmitsInFIFOOrder(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)

	result := events.NewToolResult("t1", "calculator", 3.0)
	if err := session.SubmitAudio(chunk(1)); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	if err := session.SubmitText("hi", events.RoleUser); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	if err := session.SubmitToolResult(result); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	if err := session.SubmitAudio(chunk(2)); err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}

	waitForCondition(t, time.Second, "all submissions to reach the backend", func() bool {
		return len(conn.Sent()) == 4
	})

	expected := []events.Event{chunk(1), events.NewTextInput("hi", events.RoleUser), result, chunk(2)}
	if diff := cmp.Diff(expected, conn.Sent()); diff != "" {
		t.Fatalf("unexpected submission order (-want +got):\n%s", diff)
	}
}

func TestSessionDropsOldestAudioWhenQueueFull(t *testing.T) {
	gate := make(chan struct{})
	sending := make(chan struct{}, 1)
	conn := modeltest.NewConnection()
	conn.OnSend = func(_ *modeltest.Connection, event events.Event) error {
		if input, ok := event.(events.AudioInput); ok && input.Audio[0] == 1 {
			sending <- struct{}{}
			<-gate
		}
		return nil
	}
	session := openTestSession(t, conn, WithSubmitQueueSize(2))

	_ = session.SubmitAudio(chunk(1))
	<-sending
	_ = session.SubmitAudio(chunk(2))
	_ = session.SubmitAudio(chunk(3))
	_ = session.SubmitAudio(chunk(4))
	_ = session.SubmitText("still here", events.RoleUser)
	close(gate)

	waitForCondition(t, time.Second, "queued submissions to drain", func() bool {
		return len(conn.Sent()) == 4
	})

	expected := []events.Event{chunk(1), chunk(3), chunk(4), events.NewTextInput("still here", events.RoleUser)}
	if diff := cmp.Diff(expected, conn.Sent()); diff != "" {
		t.Fatalf("unexpected submissions (-want +got):\n%s", diff)
	}
}

func TestSessionOutputsEndOnCleanClose(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)

	conn.Emit(
		events.NewResponseStart("r1"),
		events.NewTranscriptOutput(events.RoleAssistant, "hel", false),
		events.NewTranscriptOutput(events.RoleAssistant, "hello", true),
		events.NewResponseComplete("r1", events.StopReasonCompleted),
	)
	conn.End()

	collected, err := collectOutputs(t, session, 0)
	if err != nil {
		t.Fatalf("expected clean end of sequence, got %v", err)
	}
	if len(collected) != 4 {
		t.Fatalf("expected 4 events, got %d: %v", len(collected), collected)
	}
	if session.InTurn() {
		t.Fatalf("expected no open turn after response complete")
	}
}

func TestSessionOutputsYieldStreamError(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)

	cause := errors.New("connection reset")
	conn.Emit(events.NewUsage(1, 2, 3))
	conn.Fail(cause)

	collected, err := collectOutputs(t, session, 0)
	var streamErr *StreamError
	if !errors.As(err, &streamErr) || !errors.Is(err, cause) {
		t.Fatalf("expected *StreamError wrapping cause, got %v", err)
	}
	if len(collected) != 1 {
		t.Fatalf("expected events before the failure to be delivered, got %v", collected)
	}
}

func TestSessionInterruptCompletesTurnAndDiscardsItsOutput(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)

	conn.Emit(events.NewResponseStart("r1"), speech(1), speech(2))
	waitForCondition(t, time.Second, "turn output to be buffered", func() bool {
		return session.outputs.len() == 3
	})

	if !session.InTurn() {
		t.Fatalf("expected session to be mid-turn")
	}
	if err := session.Interrupt(); err != nil {
		t.Fatalf("expected interrupt to succeed, got %v", err)
	}
	if session.InTurn() {
		t.Fatalf("expected interrupt to close the turn")
	}

	conn.Emit(
		speech(3),
		events.NewTranscriptOutput(events.RoleAssistant, "late", true),
		events.NewTranscriptOutput(events.RoleUser, "wait", true),
		events.NewResponseComplete("r1", events.StopReasonCompleted),
		events.NewResponseStart("r2"),
		speech(4),
		events.NewResponseComplete("r2", events.StopReasonCompleted),
	)

	collected, err := collectOutputs(t, session, 6)
	if err != nil {
		t.Fatalf("expected outputs, got %v", err)
	}

	expected := []events.Event{
		events.NewResponseStart("r1"),
		events.NewResponseComplete("r1", events.StopReasonInterrupted),
		events.NewTranscriptOutput(events.RoleUser, "wait", true),
		events.NewResponseStart("r2"),
		speech(4),
		events.NewResponseComplete("r2", events.StopReasonCompleted),
	}
	if diff := cmp.Diff(expected, collected); diff != "" {
		t.Fatalf("unexpected outputs (-want +got):\n%s", diff)
	}

	waitForCondition(t, time.Second, "backend to be told about the interrupt", func() bool {
		return conn.Interrupts() == 1
	})
}

func TestSessionInterruptWithoutTurnIsSilent(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)

	if err := session.Interrupt(); err != nil {
		t.Fatalf("expected interrupt to succeed, got %v", err)
	}
	conn.Emit(events.NewResponseStart("r1"), events.NewResponseComplete("r1", events.StopReasonCompleted))
	conn.End()

	collected, err := collectOutputs(t, session, 0)
	if err != nil {
		t.Fatalf("expected outputs, got %v", err)
	}
	expected := []events.Event{
		events.NewResponseStart("r1"),
		events.NewResponseComplete("r1", events.StopReasonCompleted),
	}
	if diff := cmp.Diff(expected, collected); diff != "" {
		t.Fatalf("unexpected outputs (-want +got):\n%s", diff)
	}
}

func TestSessionRejectsOverlappingTurns(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)

	conn.Emit(events.NewResponseStart("r1"), events.NewResponseStart("r2"))

	collected, err := collectOutputs(t, session, 0)
	var violation *ProtocolViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected *ProtocolViolationError, got %v", err)
	}
	if len(collected) != 1 {
		t.Fatalf("expected only the first response start, got %v", collected)
	}
}

func TestSessionDropsStrayResponseComplete(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)

	conn.Emit(events.NewResponseComplete("r0", events.StopReasonCompleted), events.NewUsage(1, 1, 2))
	conn.End()

	collected, err := collectOutputs(t, session, 0)
	if err != nil {
		t.Fatalf("expected outputs, got %v", err)
	}
	if diff := cmp.Diff([]events.Event{events.NewUsage(1, 1, 2)}, collected); diff != "" {
		t.Fatalf("unexpected outputs (-want +got):\n%s", diff)
	}
}

func TestSessionOutputsCanOnlyBeConsumedOnce(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)
	conn.End()

	if _, err := collectOutputs(t, session, 0); err != nil {
		t.Fatalf("expected first consumption to succeed, got %v", err)
	}
	if _, err := collectOutputs(t, session, 0); !errors.Is(err, ErrOutputsConsumed) {
		t.Fatalf("expected ErrOutputsConsumed, got %v", err)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)

	if err := session.Close(); err != nil {
		t.Fatalf("expected first close to succeed, got %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("expected second close to be a no-op, got %v", err)
	}
	if calls := conn.CloseCalls(); calls != 1 {
		t.Fatalf("expected connection to be closed once, got %d", calls)
	}

	if err := session.SubmitText("late", events.RoleUser); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after close, got %v", err)
	}
	if err := session.SubmitAudio(chunk(1)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after close, got %v", err)
	}
	if err := session.Interrupt(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after close, got %v", err)
	}

	collected, err := collectOutputs(t, session, 0)
	if err != nil || len(collected) != 0 {
		t.Fatalf("expected closed session outputs to end empty, got %v %v", collected, err)
	}
}

func TestSessionCloseUnblocksOutputs(t *testing.T) {
	conn := modeltest.NewConnection()
	session := openTestSession(t, conn)

	done := make(chan error, 1)
	go func() {
		_, err := collectOutputs(t, session, 0)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = session.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected outputs to end cleanly on close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("outputs consumer stayed blocked after close")
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}
