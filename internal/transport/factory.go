package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumimeds/realtime/internal/common/cnst"
)

// Factory builds unconnected websocket channels against one base URL.
// Construction is pure: no network activity happens until Channel.Connect.
type Factory struct {
	baseURL *url.URL
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewFactory validates the base URL and prepares a dialer. An error here is
// a configuration fault, not a runtime one.
func NewFactory(baseURL string, logger *zap.Logger) (*Factory, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cnst.ErrInvalidBaseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", cnst.ErrInvalidBaseURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", cnst.ErrInvalidBaseURL)
	}

	return &Factory{
		baseURL: u,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.Named("transport"),
	}, nil
}

// Channel constructs a new unconnected channel for the given namespace,
// authenticated with the given bearer credential. Channels for different
// namespaces and credentials are fully independent.
func (f *Factory) Channel(namespace, credential string) Channel {
	u := *f.baseURL
	u.Path = "/ws/" + namespace

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	return newWSChannel(u.String(), namespace, header, f.dialer, f.logger)
}
