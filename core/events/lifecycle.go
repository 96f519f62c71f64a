package events

const (
	// KindConnectionStart identifies a completed model handshake.
	KindConnectionStart Kind = "bidi_connection_start"
	// KindResponseStart identifies the start of a model turn.
	KindResponseStart Kind = "bidi_response_start"
	// KindResponseComplete identifies the end of a model turn.
	KindResponseComplete Kind = "bidi_response_complete"
)

// ConnectionStart is sent once per session after the model connected.
type ConnectionStart struct {
	ConnectionID string `json:"connection_id"`
	Model        string `json:"model"`
}

// NewConnectionStart creates a connection start event.
func NewConnectionStart(connectionID, model string) ConnectionStart {
	return ConnectionStart{ConnectionID: connectionID, Model: model}
}

func (ConnectionStart) Kind() Kind { return KindConnectionStart }

// ResponseStart opens a turn.
type ResponseStart struct {
	ResponseID string `json:"response_id,omitempty"`
}

// NewResponseStart creates a response start event.
func NewResponseStart(responseID string) ResponseStart {
	return ResponseStart{ResponseID: responseID}
}

func (ResponseStart) Kind() Kind { return KindResponseStart }

// ResponseComplete closes the turn opened by the ResponseStart with the same
// ResponseID.
type ResponseComplete struct {
	ResponseID string     `json:"response_id,omitempty"`
	StopReason StopReason `json:"stop_reason"`
}

// NewResponseComplete creates a response complete event.
func NewResponseComplete(responseID string, reason StopReason) ResponseComplete {
	return ResponseComplete{ResponseID: responseID, StopReason: reason}
}

func (ResponseComplete) Kind() Kind { return KindResponseComplete }
