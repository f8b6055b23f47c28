package transport

import (
	"context"
	"encoding/json"
)

// Envelope is a single wire event: a name and its raw JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CloseCause classifies why a channel's transport ended.
type CloseCause int

const (
	// CloseCauseClient means the local side called Close
	CloseCauseClient CloseCause = iota
	// CloseCauseServer means the peer terminated the connection
	CloseCauseServer
	// CloseCauseNetwork means the connection dropped without a close frame
	CloseCauseNetwork
)

func (c CloseCause) String() string {
	switch c {
	case CloseCauseClient:
		return "client"
	case CloseCauseServer:
		return "server"
	default:
		return "network"
	}
}

// CloseInfo reports the cause of a channel teardown to its owner.
type CloseInfo struct {
	Cause CloseCause
	Err   error
}

// Channel is a namespaced, authenticated, bidirectional event connection.
// A Channel is single-use: Connect may be called once; reconnecting means
// building a fresh Channel from the factory so the prior transport is fully
// torn down first.
type Channel interface {
	// Connect dials the transport. It blocks until the connection is
	// established, the context is done, or the dial fails.
	Connect(ctx context.Context) error

	// Send writes one event to the peer.
	Send(ctx context.Context, env *Envelope) error

	// Events returns the inbound event stream. The channel is closed when
	// the connection ends.
	Events() <-chan *Envelope

	// Closed delivers exactly one CloseInfo when the connection ends.
	Closed() <-chan CloseInfo

	// Close tears down the transport. Safe to call at any time, any number
	// of times; a teardown initiated here is classified as client-caused.
	Close() error

	// Namespace returns the logical namespace this channel is bound to.
	Namespace() string
}
