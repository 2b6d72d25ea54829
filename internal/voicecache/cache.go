// Package voicecache caches synthesized audio keyed by the deterministic
// request hash from [types.VoiceRequest.CacheKey].
//
// The cache sits between the session layer and the provider gateway: a hit
// skips the vendor call entirely, and concurrent misses for the same key are
// collapsed into one upstream computation. Storage is pluggable through
// [Backend] — an in-process LRU ([MemoryBackend]) or a shared Redis instance
// ([RedisBackend]). Payloads above a size threshold are gzip-compressed
// transparently; callers always see the original audio bytes.
//
// The cache degrades rather than fails: a broken backend turns reads into
// misses and makes writes best-effort, so synthesis keeps working without it.
package voicecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/singleflight"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Cache tuning defaults.
const (
	// DefaultTTL is how long an entry lives without being re-read.
	DefaultTTL = 24 * time.Hour

	// defaultCompressMin is the payload size above which compression is
	// attempted. Small payloads rarely shrink enough to pay for the CPU.
	defaultCompressMin = 4 << 10
)

// ComputeFunc produces the audio for a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Stats is a point-in-time view of cache effectiveness and footprint.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Entries   int64   `json:"entries"`
	SizeBytes int64   `json:"size_bytes"`
}

// Cache is the synthesis result cache. It is safe for concurrent use.
type Cache struct {
	backend     Backend
	group       singleflight.Group
	ttl         time.Duration
	compressMin int
	logger      *slog.Logger
	onLookup    func(hit bool)

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithTTL overrides the entry lifetime. Default is [DefaultTTL]; a hit
// refreshes the remaining lifetime back to the full TTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithCompressMin sets the minimum payload size for compression.
// A negative value disables compression entirely.
func WithCompressMin(bytes int) CacheOption {
	return func(c *Cache) { c.compressMin = bytes }
}

// WithLogger sets the logger for degraded-mode warnings.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// WithObserver registers a callback invoked once per lookup with its result.
// Used to feed the metrics layer; fn must be cheap and concurrency-safe.
func WithObserver(fn func(hit bool)) CacheOption {
	return func(c *Cache) { c.onLookup = fn }
}

// New creates a Cache over the given backend.
func New(backend Backend, opts ...CacheOption) *Cache {
	c := &Cache{
		backend:     backend,
		ttl:         DefaultTTL,
		compressMin: defaultCompressMin,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached audio for req, or found=false on a miss. Backend
// failures are logged and reported as misses so callers fall through to
// synthesis. A hit refreshes the entry's TTL.
func (c *Cache) Get(ctx context.Context, req types.VoiceRequest) ([]byte, bool) {
	audio, ok := c.lookup(ctx, req.CacheKey())
	if ok {
		c.recordHit()
	} else {
		c.recordMiss()
	}
	return audio, ok
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	if c.onLookup != nil {
		c.onLookup(true)
	}
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	if c.onLookup != nil {
		c.onLookup(false)
	}
}

// lookup reads and decodes one entry without touching the hit/miss counters.
func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	entry, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("voice cache read failed, treating as miss",
			slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !found {
		return nil, false
	}

	audio, err := c.decode(entry)
	if err != nil {
		// Corrupt payload. Drop it so the next miss repopulates cleanly.
		c.logger.Warn("voice cache entry corrupt, dropping",
			slog.String("key", key), slog.String("error", err.Error()))
		if derr := c.backend.Delete(ctx, key); derr != nil {
			c.logger.Warn("voice cache delete failed", slog.String("key", key),
				slog.String("error", derr.Error()))
		}
		return nil, false
	}

	if err := c.backend.Touch(ctx, key, c.ttl); err != nil {
		c.logger.Warn("voice cache ttl refresh failed", slog.String("key", key),
			slog.String("error", err.Error()))
	}
	return audio, true
}

// Put stores audio for req. The write is best-effort: failures are logged
// and returned, but the caller already has the audio and can proceed.
func (c *Cache) Put(ctx context.Context, req types.VoiceRequest, audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("voicecache: refusing to store empty audio")
	}
	key := req.CacheKey()
	entry := c.encode(audio)
	if err := c.backend.Set(ctx, key, entry, c.ttl); err != nil {
		c.logger.Warn("voice cache write failed", slog.String("key", key),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Invalidate removes the entry for req, if any.
func (c *Cache) Invalidate(ctx context.Context, req types.VoiceRequest) error {
	return c.backend.Delete(ctx, req.CacheKey())
}

// GetOrCompute returns the cached audio for req, computing and storing it on
// a miss. Concurrent calls for the same key share a single computation: one
// caller runs compute, the rest wait for its result, and every caller
// receives identical bytes.
//
// The shared computation runs detached from any one caller's context, so a
// waiter cancelling (or timing out) does not abort the synthesis other
// waiters depend on. The cancelled caller itself returns its context error
// immediately.
func (c *Cache) GetOrCompute(ctx context.Context, req types.VoiceRequest, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	key := req.CacheKey()

	if audio, ok := c.lookup(ctx, key); ok {
		c.recordHit()
		return audio, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Survive the initiating caller's cancellation; later waiters may
		// still need the result.
		dctx := context.WithoutCancel(ctx)

		// A competing flight may have populated the key between the miss
		// above and this closure running.
		if audio, ok := c.lookup(dctx, key); ok {
			return audio, nil
		}

		audio, err := compute(dctx)
		if err != nil {
			return nil, err
		}
		if len(audio) == 0 {
			return nil, fmt.Errorf("voicecache: compute returned empty audio")
		}
		if err := c.backend.Set(dctx, key, c.encode(audio), c.ttl); err != nil {
			c.logger.Warn("voice cache write failed", slog.String("key", key),
				slog.String("error", err.Error()))
		}
		return audio, nil
	})

	select {
	case <-ctx.Done():
		c.recordMiss()
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.recordMiss()
			return nil, res.Err
		}
		c.recordMiss()
		shared := res.Val.([]byte)
		// Waiters share one flight result; hand each caller its own copy.
		audio := make([]byte, len(shared))
		copy(audio, shared)
		return audio, nil
	}
}

// Stats reports hit/miss counters and the backend footprint. Backend stats
// failures leave the footprint fields zero rather than failing the call.
func (c *Cache) Stats(ctx context.Context) Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}

	bs, err := c.backend.Stats(ctx)
	if err != nil {
		c.logger.Warn("voice cache stats failed", slog.String("error", err.Error()))
		return s
	}
	s.Entries = bs.Entries
	s.SizeBytes = bs.SizeBytes
	return s
}

// Ping probes the backend with a stats round-trip. Used by readiness checks;
// a degraded backend returns the underlying error here even though reads and
// writes degrade silently.
func (c *Cache) Ping(ctx context.Context) error {
	_, err := c.backend.Stats(ctx)
	return err
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// encode wraps audio in an Entry, compressing when the payload is large
// enough and compression actually shrinks it.
func (c *Cache) encode(audio []byte) *Entry {
	entry := &Entry{Audio: audio, CreatedAt: time.Now().UTC()}
	if c.compressMin < 0 || len(audio) < c.compressMin {
		return entry
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(audio); err != nil {
		return entry
	}
	if err := zw.Close(); err != nil {
		return entry
	}
	if buf.Len() >= len(audio) {
		return entry
	}
	entry.Audio = buf.Bytes()
	entry.Compressed = true
	return entry
}

// decode returns the original audio bytes for a stored entry.
func (c *Cache) decode(entry *Entry) ([]byte, error) {
	if !entry.Compressed {
		return entry.Audio, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(entry.Audio))
	if err != nil {
		return nil, fmt.Errorf("voicecache: gzip open: %w", err)
	}
	defer zr.Close()
	audio, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("voicecache: gzip read: %w", err)
	}
	return audio, nil
}
