package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/decision"
)

// RedisTier is the cross-node decision cache tier (§4.8): a write-through
// companion to the in-process shards, so a fresh node or a cold shard
// still serves a cache hit for a fingerprint another node already
// computed. Decisions are stored as JSON with Redis's own key TTL doing
// expiry, mirroring the teacher's token-bucket store's use of EXPIRE to
// self-clean.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier connects to addr and returns a RedisTier. db selects the
// Redis logical database; password may be empty.
func NewRedisTier(addr, password string, db int) *RedisTier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisTier{client: client, prefix: "decision:"}
}

func (t *RedisTier) key(fp Fingerprint) string { return t.prefix + string(fp) }

func (t *RedisTier) Get(ctx context.Context, fp Fingerprint) (decision.Decision, bool, error) {
	raw, err := t.client.Get(ctx, t.key(fp)).Bytes()
	if err == redis.Nil {
		return decision.Decision{}, false, nil
	}
	if err != nil {
		return decision.Decision{}, false, fmt.Errorf("cache: redis get failed: %w", err)
	}

	var d decision.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return decision.Decision{}, false, fmt.Errorf("cache: redis entry for %s failed to decode: %w", fp, err)
	}
	return d, true, nil
}

func (t *RedisTier) Set(ctx context.Context, fp Fingerprint, d decision.Decision, ttl time.Duration) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("cache: decision for %s failed to encode: %w", fp, err)
	}
	if err := t.client.Set(ctx, t.key(fp), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set failed: %w", err)
	}
	return nil
}

func (t *RedisTier) Close() error { return t.client.Close() }

var _ RemoteTier = (*RedisTier)(nil)
