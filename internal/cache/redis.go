package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisOpTimeout bounds individual Redis operations so a stalled store
// cannot hold up the request path; a slow tier counts as a miss.
const redisOpTimeout = 500 * time.Millisecond

// redisTier stores entries as JSON values with a native Redis TTL, so
// expiry is enforced server-side even if this process never reads the key
// again.
type redisTier struct {
	client *redis.Client
}

// NewRedisTier wraps client as the shared key/value tier.
func NewRedisTier(client *redis.Client) *redisTier {
	return &redisTier{client: client}
}

func (t *redisTier) get(ctx context.Context, key string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := t.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Entry{}, false
	}
	if err != nil {
		slog.Debug("cache: redis get failed", "key", key, "err", err)
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		slog.Warn("cache: redis entry corrupt", "key", key, "err", err)
		return Entry{}, false
	}
	return e, true
}

func (t *redisTier) set(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	remaining := e.TTL - time.Since(e.InsertedAt)
	if remaining <= 0 {
		return
	}
	if err := t.client.Set(ctx, e.Key, data, remaining).Err(); err != nil {
		slog.Debug("cache: redis set failed", "key", e.Key, "err", err)
	}
}

func (t *redisTier) invalidatePrefix(ctx context.Context, prefix string) error {
	iter := t.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return t.client.Del(ctx, keys...).Err()
}
