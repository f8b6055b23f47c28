package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumimeds/realtime/internal/common/cnst"
)

// wsChannel implements Channel over a gorilla websocket connection.
type wsChannel struct {
	id        string
	url       string
	namespace string
	header    http.Header
	dialer    *websocket.Dialer
	logger    *zap.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	clientClose bool

	events    chan *Envelope
	closed    chan CloseInfo
	closeOnce sync.Once
}

var _ Channel = (*wsChannel)(nil)

func newWSChannel(url, namespace string, header http.Header, dialer *websocket.Dialer, logger *zap.Logger) *wsChannel {
	id := uuid.NewString()
	return &wsChannel{
		id:        id,
		url:       url,
		namespace: namespace,
		header:    header,
		dialer:    dialer,
		logger:    logger.Named("channel").With(zap.String("namespace", namespace), zap.String("channel_id", id)),
		events:    make(chan *Envelope, 64),
		closed:    make(chan CloseInfo, 1),
	}
}

// Connect implements Channel.Connect
func (c *wsChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.clientClose {
		c.mu.Unlock()
		return cnst.ErrChannelClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", cnst.ErrConnectTimeout, c.url)
		}
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.clientClose {
		// Close raced the dial; drop the fresh connection.
		c.mu.Unlock()
		_ = conn.Close()
		return cnst.ErrChannelClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)

	c.logger.Debug("channel connected", zap.String("url", c.url))
	return nil
}

// Send implements Channel.Send
func (c *wsChannel) Send(ctx context.Context, env *Envelope) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return cnst.ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Event, err)
	}
	return nil
}

// Events implements Channel.Events
func (c *wsChannel) Events() <-chan *Envelope {
	return c.events
}

// Closed implements Channel.Closed
func (c *wsChannel) Closed() <-chan CloseInfo {
	return c.closed
}

// Close implements Channel.Close
func (c *wsChannel) Close() error {
	c.mu.Lock()
	c.clientClose = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		// readLoop observes the closed connection and finishes teardown.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	} else {
		// Never connected; surface the close directly.
		c.finish(CloseInfo{Cause: CloseCauseClient})
	}
	return nil
}

// Namespace implements Channel.Namespace
func (c *wsChannel) Namespace() string {
	return c.namespace
}

// readLoop pumps inbound frames into the events channel until the
// connection ends, then classifies and reports the close cause.
func (c *wsChannel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.finish(CloseInfo{Cause: c.classify(err), Err: err})
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Warn("dropping unparseable frame", zap.Error(err))
			continue
		}

		select {
		case c.events <- &env:
		default:
			// Slow consumer: drop rather than stall the read loop.
			c.logger.Warn("event buffer full, dropping event", zap.String("event", env.Event))
		}
	}
}

// classify maps a read error to a close cause. A close frame from the peer
// is server-initiated; an explicit local Close is client-initiated;
// everything else is a network fault.
func (c *wsChannel) classify(err error) CloseCause {
	c.mu.Lock()
	clientClose := c.clientClose
	c.mu.Unlock()
	if clientClose {
		return CloseCauseClient
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseServiceRestart,
			websocket.CloseTryAgainLater,
			websocket.ClosePolicyViolation:
			return CloseCauseServer
		}
	}
	return CloseCauseNetwork
}

// finish delivers the close notification exactly once.
func (c *wsChannel) finish(info CloseInfo) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
		c.closed <- info
		close(c.events)
		c.logger.Debug("channel closed",
			zap.String("cause", info.Cause.String()),
			zap.Error(info.Err))
	})
}
