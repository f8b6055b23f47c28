package urlcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lumimeds/realtime/internal/common/config"
	"github.com/lumimeds/realtime/pkg/metrics"
)

// FetchFunc resolves a resource key to a time-limited URL.
type FetchFunc func(ctx context.Context, key string) (string, error)

type entry struct {
	url       string
	expiresAt time.Time
	timer     *time.Timer
}

// Resolver memoizes signed-URL resolution by resource key with a fixed
// client-side TTL. Concurrent resolutions of the same cold key are
// coalesced into a single in-flight fetch, and every entry is refreshed in
// the background shortly before it expires so consumers rarely observe a
// cold fetch. Fetch failures leave the key uncached: there is no negative
// caching.
type Resolver struct {
	fetch   FetchFunc
	ttl     time.Duration
	margin  float64
	logger  *zap.Logger
	metrics *metrics.Metrics

	sf singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewResolver builds a resolver around one fetch function.
func NewResolver(fetch FetchFunc, cfg config.CacheConfig, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	cfg.SetDefaults()
	return &Resolver{
		fetch:   fetch,
		ttl:     cfg.TTL,
		margin:  cfg.RefreshMargin,
		logger:  logger.Named("urlcache"),
		metrics: m,
		entries: make(map[string]*entry),
	}
}

// Resolve returns the cached URL when it is still fresh and forceRefresh is
// not set; otherwise it performs exactly one fetch per key, with concurrent
// callers for the same key awaiting that single in-flight fetch.
func (r *Resolver) Resolve(ctx context.Context, key string, forceRefresh bool) (string, error) {
	if !forceRefresh {
		r.mu.Lock()
		if e, ok := r.entries[key]; ok && time.Now().Before(e.expiresAt) {
			url := e.url
			r.mu.Unlock()
			r.metrics.CacheResolution("hit")
			return url, nil
		}
		r.mu.Unlock()
	}
	r.metrics.CacheResolution("miss")

	v, err, _ := r.sf.Do(key, func() (any, error) {
		return r.doFetch(ctx, key)
	})
	if err != nil {
		r.metrics.CacheResolution("error")
		return "", err
	}
	return v.(string), nil
}

// doFetch performs the network fetch and stores the fresh entry. On failure
// the key is evicted so the next Resolve retries from scratch.
func (r *Resolver) doFetch(ctx context.Context, key string) (string, error) {
	url, err := r.fetch(ctx, key)
	if err != nil {
		r.evict(key)
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return url, nil
	}
	if prev, ok := r.entries[key]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	e := &entry{
		url:       url,
		expiresAt: time.Now().Add(r.ttl),
	}
	refreshIn := time.Duration(float64(r.ttl) * r.margin)
	e.timer = time.AfterFunc(refreshIn, func() { r.refresh(key) })
	r.entries[key] = e
	r.mu.Unlock()

	return url, nil
}

// refresh re-fetches one key in the background before its entry expires.
// A failed refresh evicts the entry; the next consumer pays the cold fetch.
func (r *Resolver) refresh(key string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err, _ := r.sf.Do(key, func() (any, error) {
		return r.doFetch(ctx, key)
	})
	if err != nil {
		r.logger.Warn("background refresh failed, evicting",
			zap.String("key", key),
			zap.Error(err))
	}
}

// Invalidate drops one entry, typically after a consumer reports the
// resolved URL broken. The next Resolve refetches.
func (r *Resolver) Invalidate(key string) {
	r.evict(key)
}

func (r *Resolver) evict(key string) {
	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(r.entries, key)
	}
	r.mu.Unlock()
}

// Close stops all background refresh timers. The resolver must not be used
// afterwards.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	for key, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(r.entries, key)
	}
	r.mu.Unlock()
}
