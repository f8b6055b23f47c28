package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumimeds/realtime/internal/common/config"
)

// Event is one push delivery: the namespace it belongs to, the wire event
// name and the JSON payload.
type Event struct {
	Namespace string          `json:"namespace"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// Bus fans events out to the websocket clients of this instance and,
// when redis is enabled, to every other mock-push instance through a
// redis stream. Remote instances re-deliver locally; the origin id keeps
// an instance from echoing its own publishes twice.
type Bus struct {
	logger *zap.Logger
	id     string

	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}

	redis  redis.UniversalClient
	stream string
	cancel context.CancelFunc
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger.Named("bus"),
		id:     uuid.NewString(),
		subs:   make(map[string]map[chan Event]struct{}),
	}
}

// EnableRedis connects the fanout stream and starts consuming remote
// publishes.
func (b *Bus) EnableRedis(ctx context.Context, cfg config.RedisConfig) error {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	b.redis = client
	b.stream = cfg.Stream
	if b.stream == "" {
		b.stream = "lumimeds:push:events"
	}

	wctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.watch(wctx)

	b.logger.Info("redis fanout enabled", zap.String("stream", b.stream))
	return nil
}

// Subscribe registers one websocket client for a namespace. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(namespace string) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	if b.subs[namespace] == nil {
		b.subs[namespace] = make(map[chan Event]struct{})
	}
	b.subs[namespace][ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if _, ok := b.subs[namespace][ch]; ok {
			delete(b.subs[namespace], ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

// Publish delivers an event to local subscribers and, when enabled, to the
// redis stream for the other instances.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.deliver(ev)

	if b.redis == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	if err := b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: 1024,
		Approx: true,
		Values: map[string]any{"origin": b.id, "event": string(payload)},
	}).Err(); err != nil {
		b.logger.Error("failed to publish to stream", zap.Error(err))
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.Namespace] {
		select {
		case ch <- ev:
		default:
			// Slow consumer: drop rather than stall the bus.
		}
	}
}

// watch consumes the redis stream and re-delivers events published by
// other instances to local subscribers.
func (b *Bus) watch(ctx context.Context) {
	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := b.redis.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   16,
				Block:   1 * time.Second,
			}).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
					b.logger.Error("failed to read from stream", zap.Error(err))
				}
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					lastID = message.ID

					origin, _ := message.Values["origin"].(string)
					if origin == b.id {
						continue
					}
					raw, ok := message.Values["event"].(string)
					if !ok {
						continue
					}
					var ev Event
					if err := json.Unmarshal([]byte(raw), &ev); err != nil {
						b.logger.Error("failed to unmarshal event", zap.Error(err))
						continue
					}
					b.deliver(ev)
				}
			}
		}
	}
}

// Close stops the redis consumer and closes every subscriber channel.
func (b *Bus) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}

	b.mu.Lock()
	for ns, chans := range b.subs {
		for ch := range chans {
			close(ch)
		}
		delete(b.subs, ns)
	}
	b.mu.Unlock()
}
