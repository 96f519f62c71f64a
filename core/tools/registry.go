package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// ErrUnknownTool is returned by Invoke for names that were never registered.
var ErrUnknownTool = errors.New("unknown tool")

// ExecutionError wraps a failure raised by a tool handler, including panics.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Handler runs a tool with its raw JSON arguments. It may block.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler
}

// Spec is the declaration of a tool handed to model backends.
type Spec struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Outcome is the result of a successful invocation. Stop is set when the
// tool asked for the conversation to end.
type Outcome struct {
	Value any
	Stop  bool
}

// StopRequest can be returned by a handler to end the conversation after
// the result has been delivered.
type StopRequest struct {
	Message string
}

type RegistryOption func(*Registry)

func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry maps tool names to handlers. It is safe for concurrent use and
// meant to be shared between sessions.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:  map[string]Tool{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a handler under name. Registering the same name again
// replaces the previous handler.
func (r *Registry) Register(name, description string, schema *jsonschema.Schema, handler Handler) {
	r.RegisterTool(Tool{Name: name, Description: description, Schema: schema, Handler: handler})
}

func (r *Registry) RegisterTool(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		r.logger.Warn("overwriting registered tool", "tool", tool.Name)
	} else {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Specs returns the declarations of all tools in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		specs = append(specs, Spec{Name: tool.Name, Description: tool.Description, Parameters: tool.Schema})
	}
	return specs
}

// Invoke runs the named tool. Missing tools fail with ErrUnknownTool,
// handler failures with *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (outcome Outcome, err error) {
	ctx, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	tool, ok := r.Lookup(name)
	if !ok || tool.Handler == nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	rawArgs, err := json.Marshal(args)
	if err != nil {
		return Outcome{}, &ExecutionError{Tool: name, Err: fmt.Errorf("failed to encode arguments: %w", err)}
	}
	if args == nil {
		rawArgs = json.RawMessage("{}")
	}

	start := time.Now()
	value, err := r.call(ctx, tool, rawArgs)
	invocationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("tool.name", name), attribute.Bool("tool.failed", err != nil)))
	if err != nil {
		return Outcome{}, &ExecutionError{Tool: name, Err: err}
	}

	if stop, ok := value.(StopRequest); ok {
		span.SetAttributes(attribute.Bool("tool.stop", true))
		return Outcome{Value: stop.Message, Stop: true}, nil
	}
	return Outcome{Value: value}, nil
}

func (r *Registry) call(ctx context.Context, tool Tool, args json.RawMessage) (value any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("tool handler panicked", "tool", tool.Name, "panic", recovered)
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return tool.Handler(ctx, args)
}
