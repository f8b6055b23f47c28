package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumimeds/realtime/internal/common/cnst"
	"github.com/lumimeds/realtime/internal/common/config"
	"github.com/lumimeds/realtime/internal/feed"
	"github.com/lumimeds/realtime/pkg/metrics"
)

// streamEvents maps a stream to the namespace and event its new items are
// pushed on.
var streamEvents = map[string]struct {
	namespace string
	event     string
}{
	cnst.StreamNotifications: {cnst.NamespaceNotifications, cnst.EventNotificationNew},
	cnst.StreamDashboard:     {cnst.NamespaceDashboard, cnst.EventDashboardUpdate},
	cnst.StreamMessages:      {cnst.NamespaceChat, cnst.EventMessageNew},
}

var validNamespaces = map[string]struct{}{
	cnst.NamespaceNotifications: {},
	cnst.NamespaceDashboard:     {},
	cnst.NamespaceChat:          {},
}

// Server is a compliant push/REST server for local development: paginated
// history, the bulk read mutation, signed attachment URLs and one websocket
// endpoint per namespace.
type Server struct {
	cfg      *config.MockPushConfig
	logger   *zap.Logger
	store    *Store
	bus      *Bus
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(cfg *config.MockPushConfig, logger *zap.Logger) *Server {
	store := NewStore()
	store.Seed(cnst.StreamNotifications, 40)
	store.Seed(cnst.StreamDashboard, 10)
	store.Seed(cnst.StreamMessages, 25)

	s := &Server{
		cfg:    cfg,
		logger: logger.Named("mock-push"),
		store:  store,
		bus:    NewBus(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.Metrics.Enabled {
		m := metrics.New(cfg.Metrics)
		engine.Use(m.Middleware())
		engine.GET("/metrics", gin.WrapH(m.Handler()))
	}

	engine.POST("/api/v1/auth/token", s.handleToken)

	authed := engine.Group("/", s.auth())
	authed.GET("/api/v1/streams/:stream", s.handleList)
	authed.POST("/api/v1/streams/:stream/read-all", s.handleReadAll)
	authed.POST("/api/v1/streams/:stream/simulate", s.handleSimulate)
	authed.GET("/api/v1/attachments/:id/url", s.handleSignedURL)
	authed.GET("/ws/:namespace", s.handleWS)

	s.engine = engine
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Redis.Enabled {
		if err := s.bus.EnableRedis(ctx, s.cfg.Redis); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mock push server listening", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.bus.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.bus.Close()
	return err
}

// auth verifies the HS256 bearer token on every protected route.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// handleToken mints a short-lived development token.
func (s *Server) handleToken(c *gin.Context) {
	var req struct {
		Subject string `json:"sub"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sub is required"})
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   req.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed})
}

func (s *Server) handleList(c *gin.Context) {
	stream := c.Param("stream")
	if _, ok := streamEvents[stream]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	c.JSON(http.StatusOK, s.store.Page(stream, page, limit))
}

func (s *Server) handleReadAll(c *gin.Context) {
	stream := c.Param("stream")
	if _, ok := streamEvents[stream]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream"})
		return
	}
	n := s.store.MarkAllRead(stream)
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// handleSimulate injects a new item into a stream and pushes it, which is
// how local development exercises the client's reconciliation path.
func (s *Server) handleSimulate(c *gin.Context) {
	stream := c.Param("stream")
	se, ok := streamEvents[stream]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream"})
		return
	}

	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	_ = c.ShouldBindJSON(&req)

	it := feed.Item{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Kind:      "simulated",
		Title:     req.Title,
		Body:      req.Body,
	}
	s.store.Add(stream, it)
	s.push(c.Request.Context(), se.namespace, se.event, it)
	c.JSON(http.StatusCreated, it)
}

func (s *Server) handleSignedURL(c *gin.Context) {
	id := c.Param("id")
	url := fmt.Sprintf("https://cdn.lumimeds.dev/attachments/%s?sig=%s&exp=%d",
		id, uuid.NewString(), time.Now().Add(10*time.Minute).Unix())
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// handleWS upgrades one client connection for a namespace and pumps bus
// events to it; inbound chat sends are stored and fanned back out.
func (s *Server) handleWS(c *gin.Context) {
	namespace := c.Param("namespace")
	if _, ok := validNamespaces[namespace]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown namespace"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	events, unsub := s.bus.Subscribe(namespace)

	go func() {
		defer unsub()
		for ev := range events {
			frame := struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}{Event: ev.Event, Data: ev.Data}
			if err := conn.WriteJSON(frame); err != nil {
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer func() {
			unsub()
			_ = conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if namespace == cnst.NamespaceChat && frame.Event == cnst.EventMessageSend {
				s.receiveMessage(frame.Data)
			}
		}
	}()
}

// receiveMessage persists an inbound chat message and pushes it to every
// chat subscriber as a new-message event.
func (s *Server) receiveMessage(data json.RawMessage) {
	var req struct {
		Body     string `json:"body"`
		SenderID string `json:"senderId"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	it := feed.Item{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Kind:      "message",
		Body:      req.Body,
		SenderID:  req.SenderID,
	}
	s.store.Add(cnst.StreamMessages, it)
	s.push(context.Background(), cnst.NamespaceChat, cnst.EventMessageNew, it)
}

func (s *Server) push(ctx context.Context, namespace, event string, it feed.Item) {
	payload, err := json.Marshal(it)
	if err != nil {
		s.logger.Error("failed to marshal push payload", zap.Error(err))
		return
	}
	s.bus.Publish(ctx, Event{Namespace: namespace, Event: event, Data: payload})
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
