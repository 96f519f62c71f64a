package events

type Kind string

type Event interface {
	Kind() Kind
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type StopReason string

const (
	StopReasonCompleted   StopReason = "completed"
	StopReasonInterrupted StopReason = "interrupted"
	StopReasonError       StopReason = "error"
)

// Valid reports whether r is one of the declared stop reasons.
func (r StopReason) Valid() bool {
	switch r {
	case StopReasonCompleted, StopReasonInterrupted, StopReasonError:
		return true
	}
	return false
}
