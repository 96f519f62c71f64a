package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRegistryInvokeRunsHandler(t *testing.T) {
	registry := NewRegistry()
	registry.Register("echo", "echo the input", nil, func(_ context.Context, args json.RawMessage) (any, error) {
		return string(args), nil
	})

	outcome, err := registry.Invoke(context.Background(), "echo", map[string]any{"word": "hi"})
	if err != nil {
		t.Fatalf("expected invoke to succeed, got %v", err)
	}
	if outcome.Value != `{"word":"hi"}` {
		t.Fatalf("expected raw args to reach handler, got %v", outcome.Value)
	}
	if outcome.Stop {
		t.Fatalf("expected regular tool not to request stop")
	}
}

func TestRegistryInvokeNilArgsPassesEmptyObject(t *testing.T) {
	registry := NewRegistry()
	registry.Register("echo", "", nil, func(_ context.Context, args json.RawMessage) (any, error) {
		return string(args), nil
	})

	outcome, err := registry.Invoke(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("expected invoke to succeed, got %v", err)
	}
	if outcome.Value != "{}" {
		t.Fatalf("expected empty object, got %v", outcome.Value)
	}
}

func TestRegistryInvokeUnknownTool(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Invoke(context.Background(), "nonexistent", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
	if !strings.Contains(err.Error(), "nonexistent") {
		t.Fatalf("expected error to name the tool, got %q", err.Error())
	}
}

func TestRegistryInvokeWrapsHandlerFailures(t *testing.T) {
	cause := errors.New("backend down")
	testCases := []struct {
		name    string
		handler Handler
		check   func(t *testing.T, err error)
	}{
		{
			name: "returned error",
			handler: func(context.Context, json.RawMessage) (any, error) {
				return nil, cause
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, cause) {
					t.Fatalf("expected cause to be wrapped, got %v", err)
				}
			},
		},
		{
			name: "panic",
			handler: func(context.Context, json.RawMessage) (any, error) {
				panic("boom")
			},
			check: func(t *testing.T, err error) {
				if !strings.Contains(err.Error(), "boom") {
					t.Fatalf("expected panic value in error, got %q", err.Error())
				}
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			registry := NewRegistry(WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
			registry.Register("flaky", "", nil, testCase.handler)

			_, err := registry.Invoke(context.Background(), "flaky", nil)
			var execErr *ExecutionError
			if !errors.As(err, &execErr) {
				t.Fatalf("expected *ExecutionError, got %T: %v", err, err)
			}
			if execErr.Tool != "flaky" {
				t.Fatalf("expected tool name flaky, got %q", execErr.Tool)
			}
			testCase.check(t, err)
		})
	}
}

func TestRegistryRegisterOverwritesWithWarning(t *testing.T) {
	var logs bytes.Buffer
	registry := NewRegistry(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	registry.Register("tool", "first", nil, func(context.Context, json.RawMessage) (any, error) { return "first", nil })
	registry.Register("tool", "second", nil, func(context.Context, json.RawMessage) (any, error) { return "second", nil })

	outcome, err := registry.Invoke(context.Background(), "tool", nil)
	if err != nil {
		t.Fatalf("expected invoke to succeed, got %v", err)
	}
	if outcome.Value != "second" {
		t.Fatalf("expected second handler to win, got %v", outcome.Value)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one registered tool, got %d", registry.Len())
	}
	if !strings.Contains(logs.String(), "overwriting registered tool") {
		t.Fatalf("expected overwrite warning, got logs %q", logs.String())
	}
	if specs := registry.Specs(); len(specs) != 1 || specs[0].Description != "second" {
		t.Fatalf("expected one spec with the latest description, got %+v", specs)
	}
}

func TestRegistrySpecsKeepRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		registry.Register(name, "", nil, func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	}

	specs := registry.Specs()
	var names []string
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	if strings.Join(names, ",") != "b,a,c" {
		t.Fatalf("expected registration order b,a,c, got %v", names)
	}
}

func TestRegistryStopRequest(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterTool(StopConversation())

	outcome, err := registry.Invoke(context.Background(), StopConversationName, nil)
	if err != nil {
		t.Fatalf("expected invoke to succeed, got %v", err)
	}
	if !outcome.Stop {
		t.Fatalf("expected stop_conversation to request stop")
	}
	if outcome.Value != "Ending conversation" {
		t.Fatalf("unexpected stop message %v", outcome.Value)
	}
}

func TestNewToolDecodesTypedParameters(t *testing.T) {
	type greetParameters struct {
		Name string `json:"name" jsonschema:"description=Who to greet"`
	}
	tool := NewTool("greet", "greet someone", func(_ context.Context, parameters greetParameters) (any, error) {
		return "hello " + parameters.Name, nil
	})

	registry := NewRegistry()
	registry.RegisterTool(tool)
	outcome, err := registry.Invoke(context.Background(), "greet", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("expected invoke to succeed, got %v", err)
	}
	if outcome.Value != "hello ada" {
		t.Fatalf("unexpected value %v", outcome.Value)
	}

	if tool.Schema == nil || tool.Schema.Properties == nil {
		t.Fatalf("expected reflected schema with properties")
	}
	if _, ok := tool.Schema.Properties.Get("name"); !ok {
		t.Fatalf("expected schema to declare name")
	}

	_, err = registry.Invoke(context.Background(), "greet", map[string]any{"name": 5})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected invalid arguments to fail as *ExecutionError, got %v", err)
	}
}
