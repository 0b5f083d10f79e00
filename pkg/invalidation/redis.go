package invalidation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans invalidation events out to other nodes over a Redis
// Pub/Sub channel — the "extern events (cross-node)" transport named in
// §4.9, mirroring the client construction pattern the teacher's token-bucket
// store uses for the Redis-backed rate limiter.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(addr, password string, db int, channel string) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("invalidation: encoding event failed: %w", err)
	}
	if err := p.client.Publish(context.Background(), p.channel, raw).Err(); err != nil {
		return fmt.Errorf("invalidation: redis publish failed: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }

// RedisSubscriber consumes events published by a RedisPublisher on another
// node and replays them onto a local Bus, making invalidations at-least-once
// across the cluster; the Bus's own sequence-number check discards
// duplicates (§4.9).
type RedisSubscriber struct {
	client  *redis.Client
	channel string
}

func NewRedisSubscriber(addr, password string, db int, channel string) *RedisSubscriber {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSubscriber{client: client, channel: channel}
}

// Run subscribes and delivers decoded events to bus until ctx is cancelled.
func (s *RedisSubscriber) Run(ctx context.Context, bus *Bus) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			bus.applyLocal(ev)
		}
	}
}

func (s *RedisSubscriber) Close() error { return s.client.Close() }

var _ RemotePublisher = (*RedisPublisher)(nil)
