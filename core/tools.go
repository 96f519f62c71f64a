package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/tools"
	"github.com/koscakluka/ema-bridge/internal/metrics"
)

// runTools executes tool calls one at a time in the order the model issued
// them and submits every result back to the model.
func (s *Session) runTools(ctx context.Context, calls <-chan events.ToolCall) error {
	for call := range calls {
		s.callTool(ctx, call)
	}
	return nil
}

func (s *Session) callTool(ctx context.Context, call events.ToolCall) {
	ctx, span := tracer.Start(ctx, "dispatch tool call")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Name), attribute.String("tool.call_id", call.ID))

	_, registered := s.registry.Lookup(call.Name)
	outcome, err := s.registry.Invoke(ctx, call.Name, call.Args)

	var result events.ToolResult
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		metrics.RecordToolCall(call.Name, "unknown", registered)
		s.logger.Warn("model called an unknown tool", "tool", call.Name, "tool_call_id", call.ID)
		result = events.NewToolError(call.ID, call.Name, fmt.Sprintf("unknown tool: %s", call.Name))
	case err != nil:
		metrics.RecordToolCall(call.Name, "error", registered)
		s.logger.Warn("tool call failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
		result = events.NewToolError(call.ID, call.Name, err.Error())
	case outcome.Stop:
		metrics.RecordToolCall(call.Name, "stop", registered)
		result = events.NewToolResult(call.ID, call.Name, outcome.Value)
	default:
		metrics.RecordToolCall(call.Name, "ok", registered)
		result = events.NewToolResult(call.ID, call.Name, outcome.Value)
	}

	// Drain first so nothing the model says after the open turn reaches the
	// client.
	if outcome.Stop {
		s.logger.Info("tool requested the conversation to stop", "tool", call.Name)
		s.drain(CauseStopTool, nil)
	}

	if err := s.model.SubmitToolResult(result); err != nil {
		s.logger.Error("failed to submit tool result", "tool", call.Name, "tool_call_id", call.ID, "error", err)
		if err := s.forceComplete(events.StopReasonError); err != nil {
			s.logger.Debug("failed to complete turn after lost tool result", "error", err)
		}
		if err := s.model.Interrupt(); err != nil {
			s.logger.Debug("failed to interrupt model after lost tool result", "error", err)
		}
	}
}
