package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	publishTimeout = 5 * time.Second
	mirrorBuffer   = 1024
)

// redisPayload is the message published to Redis for external observers.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisMirror publishes every broadcast to a Redis channel. Events are queued and
// published by a single goroutine so observers see them in broadcast order.
type RedisMirror struct {
	client  *redis.Client
	channel string
	events  chan redisPayload
	logger  *zap.Logger
}

// NewRedisMirror creates a mirror for channel. Call Run to start publishing.
func NewRedisMirror(client *redis.Client, channel string, logger *zap.Logger) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisMirror{
		client:  client,
		channel: channel,
		events:  make(chan redisPayload, mirrorBuffer),
		logger:  logger,
	}
}

// Mirror queues an event for publishing. It never blocks; events are dropped when the buffer is full.
func (r *RedisMirror) Mirror(event string, payload []byte) {
	select {
	case r.events <- redisPayload{Event: event, Data: payload, At: time.Now().Unix()}:
	default:
		r.logger.Warn("redis mirror buffer full, dropping event", zap.String("event", event))
	}
}

// Run publishes queued events until ctx is done.
func (r *RedisMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-r.events:
			if err := r.publish(ctx, p); err != nil {
				r.logger.Warn("redis mirror publish failed", zap.String("event", p.Event), zap.Error(err))
			}
		}
	}
}

func (r *RedisMirror) publish(ctx context.Context, p redisPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, r.channel, body).Err()
}

// Subscribe listens on the mirror channel and calls handler for each event.
// Returns a cancel function to stop the subscription.
func (r *RedisMirror) Subscribe(ctx context.Context, handler func(event string, payload []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				handler(p.Event, p.Data)
			}
		}
	}()
	return cancelCtx, nil
}
