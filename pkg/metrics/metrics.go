package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumimeds/realtime/internal/common/cnst"
	"github.com/lumimeds/realtime/internal/common/config"
)

// Metrics holds the prometheus instruments for the realtime layer.
// All methods are nil-safe so the library can run without metrics wired.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	connectCnt   *prometheus.CounterVec
	reconnectCnt *prometheus.CounterVec
	eventCnt     *prometheus.CounterVec
	droppedCnt   *prometheus.CounterVec
	cacheCnt     *prometheus.CounterVec
	fetchDur     *prometheus.HistogramVec
	httpReqCnt   *prometheus.CounterVec
	httpDur      *prometheus.HistogramVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = strings.ReplaceAll(cnst.AppName, "-", "_")
	}
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	connectCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "session_connects_total"}, []string{"namespace", "status"})
	reconnectCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "session_reconnect_attempts_total"}, []string{"namespace"})
	r.MustRegister(connectCnt, reconnectCnt)

	eventCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "push_events_received_total"}, []string{"namespace", "event"})
	droppedCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "push_events_dropped_total"}, []string{"reason"})
	r.MustRegister(eventCnt, droppedCnt)

	cacheCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "urlcache_resolutions_total"}, []string{"result"})
	fetchDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "history_fetch_duration_seconds", Buckets: cfg.Buckets}, []string{"stream", "status"})
	r.MustRegister(cacheCnt, fetchDur)

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	r.MustRegister(httpReqCnt, httpDur)

	return &Metrics{
		registry:     r,
		namespace:    ns,
		connectCnt:   connectCnt,
		reconnectCnt: reconnectCnt,
		eventCnt:     eventCnt,
		droppedCnt:   droppedCnt,
		cacheCnt:     cacheCnt,
		fetchDur:     fetchDur,
		httpReqCnt:   httpReqCnt,
		httpDur:      httpDur,
	}
}

// ConnectDone records the outcome of a connect attempt.
func (m *Metrics) ConnectDone(namespace, status string) {
	if m == nil {
		return
	}
	m.connectCnt.WithLabelValues(namespace, status).Inc()
}

// ReconnectAttempt records one scheduled reconnect attempt.
func (m *Metrics) ReconnectAttempt(namespace string) {
	if m == nil {
		return
	}
	m.reconnectCnt.WithLabelValues(namespace).Inc()
}

// EventReceived records a push event delivered to the router.
func (m *Metrics) EventReceived(namespace, event string) {
	if m == nil {
		return
	}
	m.eventCnt.WithLabelValues(namespace, event).Inc()
}

// EventDropped records a push event that was not applied.
func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedCnt.WithLabelValues(reason).Inc()
}

// CacheResolution records a signed-URL cache lookup outcome: hit, miss or error.
func (m *Metrics) CacheResolution(result string) {
	if m == nil {
		return
	}
	m.cacheCnt.WithLabelValues(result).Inc()
}

// FetchDone records the duration and outcome of a history page fetch.
func (m *Metrics) FetchDone(stream, status string, since time.Time) {
	if m == nil {
		return
	}
	m.fetchDur.WithLabelValues(stream, status).Observe(time.Since(since).Seconds())
}

// Middleware instruments the mock server's HTTP surface.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
