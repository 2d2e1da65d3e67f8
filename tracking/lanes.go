package tracking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sourcingflow/profile"
)

// NormCache holds observed lane norms between database reads. Entries are
// safe to lose.
type NormCache interface {
	Load(ctx context.Context, key string) (map[profile.EventType]time.Duration, bool, error)
	Store(ctx context.Context, key string, norms map[profile.EventType]time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// presenceField marks a cached lane with no observed history yet.
const presenceField = "_"

// RedisNormCache keeps one hash per lane, field = step, value = seconds.
type RedisNormCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisNormCache returns a cache backed by rdb. A zero ttl defaults to
// ten minutes.
func NewRedisNormCache(rdb *redis.Client, ttl time.Duration) *RedisNormCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisNormCache{rdb: rdb, ttl: ttl}
}

// LaneKey names the cache entry of one lane.
func LaneKey(tenantID, vertical, lane string) string {
	return fmt.Sprintf("sourcingflow:lane:%s:%s:%s", tenantID, vertical, lane)
}

func (c *RedisNormCache) Load(ctx context.Context, key string) (map[profile.EventType]time.Duration, bool, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("tracking: load lane cache: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	norms, err := decodeNorms(fields)
	if err != nil {
		return nil, false, err
	}
	return norms, true, nil
}

func (c *RedisNormCache) Store(ctx context.Context, key string, norms map[profile.EventType]time.Duration) error {
	values := encodeNorms(norms)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("tracking: store lane cache: %w", err)
	}
	return nil
}

func (c *RedisNormCache) Invalidate(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("tracking: invalidate lane cache: %w", err)
	}
	return nil
}

func encodeNorms(norms map[profile.EventType]time.Duration) map[string]any {
	values := make(map[string]any, len(norms)+1)
	values[presenceField] = "1"
	for step, d := range norms {
		values[string(step)] = strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	}
	return values
}

func decodeNorms(fields map[string]string) (map[profile.EventType]time.Duration, error) {
	norms := make(map[profile.EventType]time.Duration, len(fields))
	for step, raw := range fields {
		if step == presenceField {
			continue
		}
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("tracking: decode lane cache field %q: %w", step, err)
		}
		norms[profile.EventType(step)] = time.Duration(seconds * float64(time.Second))
	}
	return norms, nil
}

// mergeNorms overlays observed norms on the profile defaults.
func mergeNorms(defaults, observed map[profile.EventType]time.Duration) map[profile.EventType]time.Duration {
	out := make(map[profile.EventType]time.Duration, len(defaults)+len(observed))
	for step, d := range defaults {
		out[step] = d
	}
	for step, d := range observed {
		if d > 0 {
			out[step] = d
		}
	}
	return out
}
