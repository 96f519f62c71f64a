package bridge

// State is the lifecycle position of a Session.
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// DrainCause records why a session stopped being active. The first cause
// wins.
type DrainCause string

const (
	CauseNone              DrainCause = ""
	CauseConnectFailed     DrainCause = "connect_failed"
	CauseTransportClosed   DrainCause = "transport_closed"
	CauseTransportError    DrainCause = "transport_error"
	CauseTransportWrite    DrainCause = "transport_write"
	CauseModelEnded        DrainCause = "model_ended"
	CauseModelStream       DrainCause = "model_stream"
	CauseProtocolViolation DrainCause = "protocol_violation"
	CauseStopTool          DrainCause = "stop_tool"
	CauseCanceled          DrainCause = "canceled"
	CauseInternal          DrainCause = "internal"
)

// failure reports whether the cause is an error rather than an orderly end.
func (c DrainCause) failure() bool {
	switch c {
	case CauseConnectFailed, CauseTransportError, CauseTransportWrite,
		CauseModelStream, CauseProtocolViolation, CauseInternal:
		return true
	}
	return false
}

// transportWritable reports whether the client can still be written to
// after the session drained for this cause.
func (c DrainCause) transportWritable() bool {
	switch c {
	case CauseTransportClosed, CauseTransportError, CauseTransportWrite:
		return false
	}
	return true
}
