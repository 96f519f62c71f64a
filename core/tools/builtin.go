package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	CalculatorName       = "calculator"
	HTTPRequestName      = "http_request"
	StopConversationName = "stop_conversation"

	defaultHTTPTimeout      = 30 * time.Second
	defaultHTTPMaxBodyBytes = 64 << 10
)

// BuiltinNames lists the tools Builtin knows about.
func BuiltinNames() []string {
	return []string{CalculatorName, HTTPRequestName, StopConversationName}
}

// Builtin returns a ready to register tool by name.
func Builtin(name string) (Tool, bool) {
	switch name {
	case CalculatorName:
		return Calculator(), true
	case HTTPRequestName:
		return HTTPRequest(), true
	case StopConversationName:
		return StopConversation(), true
	}
	return Tool{}, false
}

type calculatorParameters struct {
	Operation string  `json:"operation" jsonschema:"enum=add,enum=subtract,enum=multiply,enum=divide,enum=power,enum=sqrt,description=Operation to apply"`
	A         float64 `json:"a" jsonschema:"description=First operand"`
	B         float64 `json:"b,omitempty" jsonschema:"description=Second operand (unused by sqrt)"`
}

func Calculator() Tool {
	return NewTool(CalculatorName, "Perform basic arithmetic on two numbers",
		func(_ context.Context, parameters calculatorParameters) (any, error) {
			a, b := parameters.A, parameters.B
			var result float64
			switch parameters.Operation {
			case "add":
				result = a + b
			case "subtract":
				result = a - b
			case "multiply":
				result = a * b
			case "divide":
				if b == 0 {
					return nil, errors.New("division by zero")
				}
				result = a / b
			case "power":
				result = math.Pow(a, b)
			case "sqrt":
				if a < 0 {
					return nil, errors.New("square root of a negative number")
				}
				result = math.Sqrt(a)
			default:
				return nil, fmt.Errorf("unsupported operation %q", parameters.Operation)
			}
			if math.IsNaN(result) || math.IsInf(result, 0) {
				return nil, errors.New("result is not a finite number")
			}
			return result, nil
		})
}

type httpRequestParameters struct {
	Method  string            `json:"method,omitempty" jsonschema:"enum=GET,enum=POST,enum=PUT,enum=DELETE,description=HTTP method (GET when empty)"`
	URL     string            `json:"url" jsonschema:"description=Absolute http or https URL"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=Extra request headers"`
	Body    string            `json:"body,omitempty" jsonschema:"description=Request body"`
}

// HTTPResponse is the value returned by the http_request tool.
type HTTPResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated,omitempty"`
}

type httpRequestConfig struct {
	client       *http.Client
	maxBodyBytes int64
}

type HTTPRequestOption func(*httpRequestConfig)

func WithHTTPClient(client *http.Client) HTTPRequestOption {
	return func(c *httpRequestConfig) {
		if client != nil {
			c.client = client
		}
	}
}

func WithMaxBodyBytes(n int64) HTTPRequestOption {
	return func(c *httpRequestConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

func HTTPRequest(opts ...HTTPRequestOption) Tool {
	config := httpRequestConfig{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultHTTPTimeout,
		},
		maxBodyBytes: defaultHTTPMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&config)
	}

	return NewTool(HTTPRequestName, "Make an HTTP request and return the status and body",
		func(ctx context.Context, parameters httpRequestParameters) (any, error) {
			method := strings.ToUpper(parameters.Method)
			if method == "" {
				method = http.MethodGet
			}
			if !slices.Contains([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}, method) {
				return nil, fmt.Errorf("unsupported method %q", parameters.Method)
			}

			target, err := url.Parse(parameters.URL)
			if err != nil {
				return nil, fmt.Errorf("invalid url: %w", err)
			}
			if target.Scheme != "http" && target.Scheme != "https" {
				return nil, fmt.Errorf("unsupported url scheme %q", target.Scheme)
			}

			var body io.Reader
			if parameters.Body != "" {
				body = bytes.NewBufferString(parameters.Body)
			}
			req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
			if err != nil {
				return nil, fmt.Errorf("failed to create request: %w", err)
			}
			for key, value := range parameters.Headers {
				req.Header.Set(key, value)
			}

			resp, err := config.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(io.LimitReader(resp.Body, config.maxBodyBytes+1))
			if err != nil {
				return nil, fmt.Errorf("failed to read response body: %w", err)
			}
			truncated := int64(len(data)) > config.maxBodyBytes
			if truncated {
				data = data[:config.maxBodyBytes]
			}

			return HTTPResponse{
				Status:      resp.StatusCode,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        string(data),
				Truncated:   truncated,
			}, nil
		})
}

func StopConversation() Tool {
	return NewTool(StopConversationName, "End the conversation when the user asks to stop or says goodbye",
		func(context.Context, struct{}) (any, error) {
			return StopRequest{Message: "Ending conversation"}, nil
		})
}
