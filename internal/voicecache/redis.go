package voicecache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces voice cache entries in a shared Redis instance.
const keyPrefix = "voice:"

// Redis hash field names for one cache entry.
const (
	fieldAudio      = "audio"
	fieldCompressed = "compressed"
	fieldCreatedAt  = "created_at"
	fieldHits       = "hits"
)

// RedisBackend is a [Backend] over a Redis instance, for deployments where
// multiple voicecore replicas share one synthesis cache. TTL expiry is
// native Redis key expiry; capacity is left to Redis maxmemory eviction.
type RedisBackend struct {
	client *redis.Client
	now    func() time.Time
}

// RedisOption configures a [RedisBackend].
type RedisOption func(*RedisBackend)

// WithRedisClock injects a time source for CreatedAt stamps in tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(b *RedisBackend) { b.now = now }
}

// NewRedisBackend creates a backend over the given Redis address.
// The connection is verified with a PING before use.
func NewRedisBackend(ctx context.Context, addr string, opts ...RedisOption) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("voicecache: redis ping %s: %w", addr, err)
	}
	b := &RedisBackend{client: client, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// NewRedisBackendFromClient wraps an existing client. Used by tests with
// miniredis and by callers that manage their own connection pool.
func NewRedisBackendFromClient(client *redis.Client, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{client: client, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Compile-time assertion that RedisBackend satisfies Backend.
var _ Backend = (*RedisBackend)(nil)

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) (*Entry, bool, error) {
	rkey := keyPrefix + key
	fields, err := b.client.HGetAll(ctx, rkey).Result()
	if err != nil {
		return nil, false, fmt.Errorf("voicecache: redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	audio, ok := fields[fieldAudio]
	if !ok {
		return nil, false, fmt.Errorf("voicecache: redis entry %s missing audio field", key)
	}

	hits, err := b.client.HIncrBy(ctx, rkey, fieldHits, 1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("voicecache: redis hincrby: %w", err)
	}

	entry := &Entry{
		Audio:      []byte(audio),
		Compressed: fields[fieldCompressed] == "1",
		HitCount:   hits,
	}
	if raw, ok := fields[fieldCreatedAt]; ok {
		if nanos, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			entry.CreatedAt = time.Unix(0, nanos).UTC()
		}
	}
	if ttl, terr := b.client.PTTL(ctx, rkey).Result(); terr == nil && ttl > 0 {
		entry.ExpiresAt = b.now().Add(ttl)
	}
	return entry, true, nil
}

// Set implements Backend. The hash write and the expiry are pipelined so a
// crash between them cannot leave an immortal entry.
func (b *RedisBackend) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	rkey := keyPrefix + key
	compressed := "0"
	if entry.Compressed {
		compressed = "1"
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = b.now()
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, rkey, map[string]any{
		fieldAudio:      entry.Audio,
		fieldCompressed: compressed,
		fieldCreatedAt:  strconv.FormatInt(createdAt.UnixNano(), 10),
		fieldHits:       entry.HitCount,
	})
	pipe.Expire(ctx, rkey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("voicecache: redis set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("voicecache: redis del: %w", err)
	}
	return nil
}

// Touch implements Backend.
func (b *RedisBackend) Touch(ctx context.Context, key string, ttl time.Duration) error {
	// Expire on a missing key is a no-op, matching the Backend contract.
	if err := b.client.Expire(ctx, keyPrefix+key, ttl).Err(); err != nil {
		return fmt.Errorf("voicecache: redis expire: %w", err)
	}
	return nil
}

// Stats implements Backend. It scans the key namespace, so cost grows with
// entry count; the operational stats endpoint calls it sparingly.
func (b *RedisBackend) Stats(ctx context.Context) (BackendStats, error) {
	var stats BackendStats
	iter := b.client.Scan(ctx, 0, keyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		stats.Entries++
		size, err := b.client.HStrLen(ctx, iter.Val(), fieldAudio).Result()
		if err != nil {
			return BackendStats{}, fmt.Errorf("voicecache: redis hstrlen: %w", err)
		}
		stats.SizeBytes += size
	}
	if err := iter.Err(); err != nil {
		return BackendStats{}, fmt.Errorf("voicecache: redis scan: %w", err)
	}
	return stats, nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
