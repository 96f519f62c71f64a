package events

import "encoding/json"

const (
	// KindUsage identifies token usage accounting.
	KindUsage Kind = "bidi_usage"
	// KindError identifies an error report.
	KindError Kind = "bidi_error"
)

// Usage reports model token consumption. It is advisory only.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewUsage creates a usage event.
func NewUsage(input, output, total int) Usage {
	return Usage{InputTokens: input, OutputTokens: output, TotalTokens: total}
}

func (Usage) Kind() Kind { return KindUsage }

// ErrorKind classifies an Error event.
type ErrorKind string

const (
	ErrorKindDecode            ErrorKind = "decode"
	ErrorKindConnect           ErrorKind = "connect"
	ErrorKindTool              ErrorKind = "tool"
	ErrorKindTransportWrite    ErrorKind = "transport_write"
	ErrorKindModelStream       ErrorKind = "model_stream"
	ErrorKindProtocolViolation ErrorKind = "protocol_violation"
	ErrorKindInternal          ErrorKind = "internal"
)

// Error reports a failure to the client without closing the transport.
type Error struct {
	Message   string    `json:"message"`
	ErrorKind ErrorKind `json:"kind,omitempty"`
}

// NewError creates an error event.
func NewError(kind ErrorKind, message string) Error {
	return Error{Message: message, ErrorKind: kind}
}

func (Error) Kind() Kind { return KindError }

// Unknown holds a well-formed message with a type this package does not
// declare.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (u Unknown) Kind() Kind { return Kind(u.Type) }
