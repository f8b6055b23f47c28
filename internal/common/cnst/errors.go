package cnst

import "errors"

var (
	// ErrInvalidBaseURL is returned when the configured base URL cannot be parsed
	ErrInvalidBaseURL = errors.New("invalid base url")
	// ErrConnectTimeout is returned when a connect attempt neither succeeds nor fails in time
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrReconnectExhausted is returned when the bounded reconnect policy gives up
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrNotConnected is returned when an operation requires a live transport
	ErrNotConnected = errors.New("session not connected")
	// ErrChannelClosed is returned when sending on a channel that has been torn down
	ErrChannelClosed = errors.New("channel closed")
	// ErrNoCredential is returned when the credential provider yields an empty token
	ErrNoCredential = errors.New("no credential available")
	// ErrMalformedEvent is returned when a push payload fails shape validation
	ErrMalformedEvent = errors.New("malformed push event")
	// ErrUnknownStream is returned when a stream name has no configured feed
	ErrUnknownStream = errors.New("unknown stream")
	// ErrUnknownNamespace is returned when a namespace has no configured session
	ErrUnknownNamespace = errors.New("unknown namespace")
)
