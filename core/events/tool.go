package events

const (
	// KindToolUseStream identifies informational tool use progress.
	KindToolUseStream Kind = "tool_use_stream"
	// KindToolCall identifies a tool invocation request from the model.
	KindToolCall Kind = "tool_call"
	// KindToolResult identifies the answer to a tool call.
	KindToolResult Kind = "tool_result"
)

// ToolUse describes the tool currently being called. Input may be partial
// JSON while the model is still streaming arguments.
type ToolUse struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Input     string `json:"input,omitempty"`
}

// ToolUseStream tells the client the model is using a tool.
type ToolUseStream struct {
	CurrentToolUse ToolUse `json:"current_tool_use"`
}

// NewToolUseStream creates a tool use stream event.
func NewToolUseStream(id, name, input string) ToolUseStream {
	return ToolUseStream{CurrentToolUse: ToolUse{ToolUseID: id, Name: name, Input: input}}
}

func (ToolUseStream) Kind() Kind { return KindToolUseStream }

// ToolCall asks the bridge to run a tool. Args decoded from the wire hold
// JSON values, so numbers are float64.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// NewToolCall creates a tool call event.
func NewToolCall(id, name string, args map[string]any) ToolCall {
	return ToolCall{ID: id, Name: name, Args: args}
}

func (ToolCall) Kind() Kind { return KindToolCall }

// ToolResult answers the ToolCall with the same ID. Exactly one of Value and
// Error is meaningful. Value crosses the wire as JSON, so an int sent by a
// tool arrives at the client as float64.
type ToolResult struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewToolResult creates a successful tool result.
func NewToolResult(id, name string, value any) ToolResult {
	return ToolResult{ID: id, Name: name, Value: value}
}

// NewToolError creates a failed tool result.
func NewToolError(id, name, message string) ToolResult {
	return ToolResult{ID: id, Name: name, Error: message}
}

func (ToolResult) Kind() Kind { return KindToolResult }

// Failed reports whether the tool did not produce a value.
func (r ToolResult) Failed() bool {
	return r.Error != ""
}
