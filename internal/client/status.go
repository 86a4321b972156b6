package client

// Status is the engine's connection state as seen by observers.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// StatusDetail carries extra context on error transitions.
type StatusDetail struct {
	// MaxAttemptsReached is set when the reconnection budget ran out.
	MaxAttemptsReached bool
	// CanRetry is set when Retry would start a fresh attempt cycle.
	CanRetry bool
}

// StatusHandler observes connection state transitions.
type StatusHandler func(status Status, detail StatusDetail)

// MessageHandler observes inbound frames of a subscribed type. The raw
// payload is handed over untouched so each caller decodes its own shape.
type MessageHandler func(payload []byte)
