package session

// Status is the externally visible connection state of one session. It is
// derived from the manager's internal flags on every read rather than being
// stored as its own mutable field.
type Status string

const (
	// StatusDisconnected means no transport exists and no connect is in flight
	StatusDisconnected Status = "disconnected"
	// StatusConnecting means a connect or reconnect attempt is in flight
	StatusConnecting Status = "connecting"
	// StatusConnected means a live transport exists
	StatusConnected Status = "connected"
	// StatusError means the bounded reconnect policy has been exhausted
	StatusError Status = "error"
)
