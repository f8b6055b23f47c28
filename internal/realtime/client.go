package realtime

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lumimeds/realtime/internal/common/cnst"
	"github.com/lumimeds/realtime/internal/common/config"
	"github.com/lumimeds/realtime/internal/feed"
	"github.com/lumimeds/realtime/internal/router"
	"github.com/lumimeds/realtime/internal/session"
	"github.com/lumimeds/realtime/internal/transport"
	"github.com/lumimeds/realtime/internal/urlcache"
	"github.com/lumimeds/realtime/pkg/metrics"
)

// binding ties a namespace to the stream its push events reconcile into.
type binding struct {
	stream string
	events []string
}

var namespaceBindings = map[string]binding{
	cnst.NamespaceNotifications: {cnst.StreamNotifications, []string{cnst.EventNotificationNew, cnst.EventNotificationRead}},
	cnst.NamespaceDashboard:     {cnst.StreamDashboard, []string{cnst.EventDashboardUpdate}},
	cnst.NamespaceChat:          {cnst.StreamMessages, []string{cnst.EventMessageNew}},
}

// Client is the assembled realtime layer: one session and router per
// configured namespace, one reconciling stream per bound feed, and the
// shared signed-URL resolver. Clients are constructed explicitly and torn
// down with Close; there are no package-level singletons, so independent
// clients can coexist (and be tested) side by side.
type Client struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	sessions map[string]*session.Manager
	routers  map[string]*router.Router
	feeds    map[string]*feed.Stream
	resolver *urlcache.Resolver
}

// New wires the client from configuration. Nothing connects until Connect.
func New(cfg *config.Config, creds session.CredentialProvider, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	cfg.Realtime.SetDefaults()
	cfg.Cache.SetDefaults()

	factory, err := transport.NewFactory(cfg.Realtime.BaseURL, logger)
	if err != nil {
		return nil, err
	}
	history, err := feed.NewRESTClient(cfg.Realtime.BaseURL, creds)
	if err != nil {
		return nil, err
	}
	fetch, err := urlcache.NewHTTPFetch(cfg.Realtime.BaseURL, creds)
	if err != nil {
		return nil, err
	}

	namespaces := cfg.Realtime.Namespaces
	if len(namespaces) == 0 {
		namespaces = []string{cnst.NamespaceNotifications, cnst.NamespaceDashboard, cnst.NamespaceChat}
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger.Named("realtime"),
		metrics:  m,
		sessions: make(map[string]*session.Manager),
		routers:  make(map[string]*router.Router),
		feeds:    make(map[string]*feed.Stream),
		resolver: urlcache.NewResolver(fetch, cfg.Cache, logger, m),
	}

	for _, ns := range namespaces {
		sess := session.NewManager(ns, factory, creds, cfg.Realtime.Session, logger, m)
		rt := router.New(sess, logger)
		c.sessions[ns] = sess
		c.routers[ns] = rt

		b, ok := namespaceBindings[ns]
		if !ok {
			c.logger.Debug("namespace has no feed binding", zap.String("namespace", ns))
			continue
		}
		st := feed.NewStream(b.stream, history, cfg.Realtime.PageLimit, logger, m)
		c.feeds[b.stream] = st
		for _, ev := range b.events {
			rt.On(ev, st.ApplyPush)
		}
	}

	return c, nil
}

// Connect opens every configured session. Errors are joined; sessions that
// connected stay connected.
func (c *Client) Connect(ctx context.Context) error {
	var errs []error
	for ns, sess := range c.sessions {
		if err := sess.Connect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("connect %s: %w", ns, err))
		}
	}
	return errors.Join(errs...)
}

// ConnectNamespace opens one session.
func (c *Client) ConnectNamespace(ctx context.Context, namespace string) error {
	sess, ok := c.sessions[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", cnst.ErrUnknownNamespace, namespace)
	}
	return sess.Connect(ctx)
}

// Status reports one session's derived connection state.
func (c *Client) Status(namespace string) (session.Status, error) {
	sess, ok := c.sessions[namespace]
	if !ok {
		return "", fmt.Errorf("%w: %s", cnst.ErrUnknownNamespace, namespace)
	}
	return sess.Status(), nil
}

// OnStatusChange registers a status observer on one session.
func (c *Client) OnStatusChange(namespace string, fn func(session.Status)) error {
	sess, ok := c.sessions[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", cnst.ErrUnknownNamespace, namespace)
	}
	sess.OnStatusChange(fn)
	return nil
}

// Subscribe registers a typed handler for one event on one namespace.
func (c *Client) Subscribe(namespace, event string, fn router.Handler) error {
	rt, ok := c.routers[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", cnst.ErrUnknownNamespace, namespace)
	}
	rt.On(event, fn)
	return nil
}

// Unsubscribe removes a handler; a nil handler removes every handler for
// the event.
func (c *Client) Unsubscribe(namespace, event string, fn router.Handler) error {
	rt, ok := c.routers[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", cnst.ErrUnknownNamespace, namespace)
	}
	rt.Off(event, fn)
	return nil
}

// Emit sends one event on a namespace; dropped silently when disconnected.
func (c *Client) Emit(ctx context.Context, namespace, event string, payload any) error {
	rt, ok := c.routers[namespace]
	if !ok {
		return fmt.Errorf("%w: %s", cnst.ErrUnknownNamespace, namespace)
	}
	return rt.Emit(ctx, event, payload)
}

// Feed returns the reconciling stream for one feed name.
func (c *Client) Feed(stream string) (*feed.Stream, error) {
	st, ok := c.feeds[stream]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cnst.ErrUnknownStream, stream)
	}
	return st, nil
}

// Resolve returns a usable URL for an attachment key via the shared cache.
func (c *Client) Resolve(ctx context.Context, key string, forceRefresh bool) (string, error) {
	return c.resolver.Resolve(ctx, key, forceRefresh)
}

// InvalidateURL drops one cached URL after a consumer reported it broken.
func (c *Client) InvalidateURL(key string) {
	c.resolver.Invalidate(key)
}

// Close tears the client down in order: sessions first so no push events
// arrive mid-teardown, then the resolver's timers.
func (c *Client) Close() {
	for _, sess := range c.sessions {
		sess.Disconnect()
	}
	c.resolver.Close()
	c.logger.Info("realtime client closed")
}
