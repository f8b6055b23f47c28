package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lumimeds/realtime/internal/common/cnst"
	"github.com/lumimeds/realtime/internal/common/config"
	"github.com/lumimeds/realtime/internal/transport"
	"github.com/lumimeds/realtime/pkg/metrics"
)

// ChannelFactory builds unconnected channels. Satisfied by transport.Factory.
type ChannelFactory interface {
	Channel(namespace, credential string) transport.Channel
}

// Sink receives every inbound event of a session, across reconnects.
type Sink = func(env *transport.Envelope)

// Manager owns the lifecycle of one namespace's channel: connect,
// authenticate, classify disconnects, and drive bounded auto-reconnect.
// Reconnecting always tears down the prior transport and builds a fresh
// channel from the factory, so at most one live transport exists per
// session at any time.
type Manager struct {
	namespace string
	factory   ChannelFactory
	creds     CredentialProvider
	cfg       config.SessionConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu                sync.Mutex
	ch                transport.Channel
	isConnecting      bool
	connected         bool
	reconnectAttempts int
	exhausted         bool
	stopped           bool
	gen               int
	sink              Sink
	statusSubs        []func(Status)
}

// NewManager constructs a session for one namespace. The session does not
// connect until Connect is called.
func NewManager(namespace string, factory ChannelFactory, creds CredentialProvider, cfg config.SessionConfig, logger *zap.Logger, m *metrics.Metrics) *Manager {
	cfg.SetDefaults()
	return &Manager{
		namespace: namespace,
		factory:   factory,
		creds:     creds,
		cfg:       cfg,
		logger:    logger.Named("session").With(zap.String("namespace", namespace)),
		metrics:   m,
	}
}

// Connect establishes the channel. It is idempotent: when already connected
// or a connect is in flight it returns immediately without creating a
// second transport. The attempt is bounded by the configured connect
// timeout so the in-flight guard can never be left stuck.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connected || m.isConnecting {
		m.mu.Unlock()
		return nil
	}
	m.isConnecting = true
	m.exhausted = false
	m.stopped = false
	m.mu.Unlock()
	m.notifyStatus(StatusConnecting)

	if err := m.dial(ctx); err != nil {
		m.metrics.ConnectDone(m.namespace, "error")
		m.notifyStatus(StatusDisconnected)
		return err
	}
	m.metrics.ConnectDone(m.namespace, "ok")
	return nil
}

// dial performs one connect attempt: fetch a credential, build a fresh
// channel, connect under the timeout, and hand the channel to a supervisor.
// The isConnecting guard is cleared on every exit path.
func (m *Manager) dial(ctx context.Context) error {
	token, err := m.creds.Token(ctx)
	if err != nil {
		m.clearConnecting()
		return err
	}

	ch := m.factory.Channel(m.namespace, token)

	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	if err := ch.Connect(cctx); err != nil {
		m.clearConnecting()
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, cnst.ErrConnectTimeout) {
			return cnst.ErrConnectTimeout
		}
		return err
	}

	m.mu.Lock()
	if m.stopped || m.connected {
		// Disconnect or a competing connect raced the dial; drop the
		// fresh channel so only one live transport ever exists.
		m.isConnecting = false
		m.mu.Unlock()
		_ = ch.Close()
		return cnst.ErrChannelClosed
	}
	m.ch = ch
	m.connected = true
	m.isConnecting = false
	m.reconnectAttempts = 0
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.notifyStatus(StatusConnected)
	m.logger.Info("session connected")
	go m.supervise(ch, gen)
	return nil
}

// supervise pumps one channel's events into the sink, waits for the close
// notification, and decides whether the disconnect warrants auto-recovery.
func (m *Manager) supervise(ch transport.Channel, gen int) {
	go func() {
		for env := range ch.Events() {
			m.dispatch(env)
		}
	}()

	info := <-ch.Closed()

	m.mu.Lock()
	if m.gen != gen || m.stopped {
		// A newer connect or an explicit Disconnect already took over.
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.ch = nil
	m.mu.Unlock()
	m.notifyStatus(StatusDisconnected)

	m.logger.Warn("session disconnected",
		zap.String("cause", info.Cause.String()),
		zap.Error(info.Err))

	// Only server-initiated terminations are auto-recovered; explicit
	// disconnects and network faults surface to the owner instead.
	if info.Cause != transport.CloseCauseServer {
		return
	}
	m.reconnectLoop(gen)
}

// reconnectLoop retries the connect up to the configured bound with a
// monotonically non-decreasing backoff (exponential, randomization
// disabled). Exhausting the bound parks the session in StatusError until
// the owner forces a fresh Connect. gen is the generation of the channel
// whose loss is being recovered: the loop yields as soon as an explicit
// Connect has taken over, because the session reports disconnected during
// the backoff sleeps and the owner may legitimately reconnect by hand.
func (m *Manager) reconnectLoop(gen int) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.BackoffInterval
	b.RandomizationFactor = 0
	b.Multiplier = 1.5
	b.MaxInterval = m.cfg.MaxBackoffInterval
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		m.mu.Lock()
		if m.stopped || m.connected || m.isConnecting || m.gen != gen {
			m.mu.Unlock()
			return
		}
		if m.reconnectAttempts >= m.cfg.MaxReconnectAttempts {
			m.exhausted = true
			m.mu.Unlock()
			m.logger.Error("giving up on session",
				zap.Int("attempts", m.cfg.MaxReconnectAttempts),
				zap.Error(cnst.ErrReconnectExhausted))
			m.notifyStatus(StatusError)
			return
		}
		m.reconnectAttempts++
		attempt := m.reconnectAttempts
		m.mu.Unlock()

		delay := b.NextBackOff()
		m.metrics.ReconnectAttempt(m.namespace)
		m.logger.Info("scheduling reconnect",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		time.Sleep(delay)

		m.mu.Lock()
		if m.stopped || m.connected || m.isConnecting || m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.isConnecting = true
		m.mu.Unlock()
		m.notifyStatus(StatusConnecting)

		if err := m.dial(context.Background()); err != nil {
			m.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		return
	}
}

// Disconnect tears down the transport unconditionally and resets all retry
// state. It is idempotent and never triggers auto-reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	ch := m.ch
	m.ch = nil
	m.stopped = true
	m.connected = false
	m.isConnecting = false
	m.reconnectAttempts = 0
	m.exhausted = false
	m.gen++
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	m.notifyStatus(StatusDisconnected)
	m.logger.Info("session disconnected by client")
}

// Status derives the connection state from the internal flags.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.connected:
		return StatusConnected
	case m.isConnecting:
		return StatusConnecting
	case m.exhausted:
		return StatusError
	default:
		return StatusDisconnected
	}
}

// Connected reports whether a live transport exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Namespace returns the namespace this session is bound to.
func (m *Manager) Namespace() string {
	return m.namespace
}

// Send writes one event to the peer. Returns cnst.ErrNotConnected when no
// live transport exists; nothing is queued for later delivery.
func (m *Manager) Send(ctx context.Context, env *transport.Envelope) error {
	m.mu.Lock()
	ch := m.ch
	connected := m.connected
	m.mu.Unlock()

	if !connected || ch == nil {
		return cnst.ErrNotConnected
	}
	return ch.Send(ctx, env)
}

// SetSink installs the single inbound event consumer, normally the router.
func (m *Manager) SetSink(sink Sink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// OnStatusChange registers an observer invoked on every status transition.
func (m *Manager) OnStatusChange(fn func(Status)) {
	m.mu.Lock()
	m.statusSubs = append(m.statusSubs, fn)
	m.mu.Unlock()
}

func (m *Manager) dispatch(env *transport.Envelope) {
	m.metrics.EventReceived(m.namespace, env.Event)
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		return
	}
	sink(env)
}

func (m *Manager) clearConnecting() {
	m.mu.Lock()
	m.isConnecting = false
	m.mu.Unlock()
}

func (m *Manager) notifyStatus(s Status) {
	m.mu.Lock()
	subs := make([]func(Status), len(m.statusSubs))
	copy(subs, m.statusSubs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
