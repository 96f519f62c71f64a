package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// NewTool builds a tool whose input schema is reflected from P and whose
// arguments are decoded into P before fn runs.
func NewTool[P any](name, description string, fn func(ctx context.Context, parameters P) (any, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Schema:      SchemaFor[P](),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var parameters P
			if len(args) > 0 {
				if err := json.Unmarshal(args, &parameters); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			return fn(ctx, parameters)
		},
	}
}

// SchemaFor reflects the JSON schema of P without references so it can be
// embedded in model tool declarations.
func SchemaFor[P any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	schema := reflector.ReflectFromType(reflect.TypeFor[P]())
	schema.Version = ""
	return schema
}
