package realtime

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	redis "github.com/redis/go-redis/v9"

	"guardwatch/internal/logging"
)

// RedisRelay fans frames out to every instance through Redis Pub/Sub.
// Each instance delivers what it receives to its local rooms.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
}

type routedFrame struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewRedisRelay connects to url and relays into hub.
func NewRedisRelay(url, channel string, hub *Hub) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if channel == "" {
		channel = "guardwatch:frames"
	}
	return &RedisRelay{rdb: redis.NewClient(opt), channel: channel, hub: hub}, nil
}

// Ping checks the Redis connection.
func (r *RedisRelay) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

// Publish sends a routed frame to all instances.
func (r *RedisRelay) Publish(ctx context.Context, room, event string, payload []byte) error {
	data, err := json.Marshal(routedFrame{Room: room, Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, data).Err()
}

// Serve subscribes to the relay channel and delivers frames until ctx is done.
func (r *RedisRelay) Serve(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription %s closed", r.channel)
			}
			var rf routedFrame
			if err := json.Unmarshal([]byte(msg.Payload), &rf); err != nil {
				logging.Warn().Err(err).Msg("drop malformed relay frame")
				continue
			}
			r.hub.Deliver(rf.Room, rf.Event, rf.Payload)
		}
	}
}

// Close releases the Redis client.
func (r *RedisRelay) Close() error { return r.rdb.Close() }

func (r *RedisRelay) String() string { return "redis-relay" }
