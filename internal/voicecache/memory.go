package voicecache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Default memory backend tuning.
const (
	defaultCapacityBytes = 256 << 20 // 256 MiB of stored audio
	defaultSweepInterval = 5 * time.Minute
)

// memoryEntry is the LRU bookkeeping wrapper around a stored [Entry].
type memoryEntry struct {
	key   string
	entry Entry
}

// MemoryBackend is an in-process [Backend]: a capacity-bounded LRU map with
// lazy TTL checks on read and a periodic sweep for entries nothing reads.
// It is safe for concurrent use.
type MemoryBackend struct {
	mu        sync.Mutex
	items     map[string]*list.Element
	lru       *list.List // front = most recently used
	sizeBytes int64

	capacityBytes int64
	now           func() time.Time

	sweepStop chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a [MemoryBackend].
type MemoryOption func(*MemoryBackend)

// WithCapacity bounds the total stored payload bytes. Inserting past the
// bound evicts least-recently-used entries first. Default 256 MiB.
func WithCapacity(bytes int64) MemoryOption {
	return func(b *MemoryBackend) { b.capacityBytes = bytes }
}

// WithClock injects a time source. Tests use this to step TTLs without
// sleeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = now }
}

// WithSweepInterval sets the janitor period for expired-entry removal.
// A non-positive value disables the janitor (lazy expiry still applies).
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(b *MemoryBackend) {
		if b.sweepStop != nil {
			close(b.sweepStop)
			b.sweepStop = nil
		}
		if d > 0 {
			b.startJanitor(d)
		}
	}
}

// NewMemoryBackend creates an in-process backend with the default janitor.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		items:         make(map[string]*list.Element),
		lru:           list.New(),
		capacityBytes: defaultCapacityBytes,
		now:           time.Now,
	}
	b.startJanitor(defaultSweepInterval)
	for _, o := range opts {
		o(b)
	}
	return b
}

// Compile-time assertion that MemoryBackend satisfies Backend.
var _ Backend = (*MemoryBackend)(nil)

func (b *MemoryBackend) startJanitor(interval time.Duration) {
	stop := make(chan struct{})
	b.sweepStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.Sweep()
			}
		}
	}()
}

// Get implements Backend. Expired entries are removed on sight.
func (b *MemoryBackend) Get(_ context.Context, key string) (*Entry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.items[key]
	if !ok {
		return nil, false, nil
	}
	me := el.Value.(*memoryEntry)
	if !b.now().Before(me.entry.ExpiresAt) {
		b.removeLocked(el)
		return nil, false, nil
	}

	me.entry.HitCount++
	b.lru.MoveToFront(el)

	out := me.entry
	out.Audio = make([]byte, len(me.entry.Audio))
	copy(out.Audio, me.entry.Audio)
	return &out, true, nil
}

// Set implements Backend. Inserting past capacity evicts LRU entries until
// the new entry fits.
func (b *MemoryBackend) Set(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	stored := *entry
	stored.Audio = make([]byte, len(entry.Audio))
	copy(stored.Audio, entry.Audio)
	stored.ExpiresAt = b.now().Add(ttl)

	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.items[key]; ok {
		b.removeLocked(el)
	}

	// Evict LRU entries until the payload fits. An entry bigger than the
	// whole capacity is stored alone rather than rejected.
	for b.sizeBytes+int64(len(stored.Audio)) > b.capacityBytes && b.lru.Len() > 0 {
		b.removeLocked(b.lru.Back())
	}

	el := b.lru.PushFront(&memoryEntry{key: key, entry: stored})
	b.items[key] = el
	b.sizeBytes += int64(len(stored.Audio))
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.items[key]; ok {
		b.removeLocked(el)
	}
	return nil
}

// Touch implements Backend.
func (b *MemoryBackend) Touch(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.items[key]; ok {
		me := el.Value.(*memoryEntry)
		if b.now().Before(me.entry.ExpiresAt) {
			me.entry.ExpiresAt = b.now().Add(ttl)
		}
	}
	return nil
}

// Stats implements Backend.
func (b *MemoryBackend) Stats(_ context.Context) (BackendStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BackendStats{
		Entries:   int64(b.lru.Len()),
		SizeBytes: b.sizeBytes,
	}, nil
}

// Sweep removes all expired entries. Called periodically by the janitor;
// exported so tests and operators can force a pass.
func (b *MemoryBackend) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	now := b.now()
	for el := b.lru.Back(); el != nil; {
		prev := el.Prev()
		me := el.Value.(*memoryEntry)
		if !now.Before(me.entry.ExpiresAt) {
			b.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Close stops the janitor.
func (b *MemoryBackend) Close() error {
	b.closeOnce.Do(func() {
		if b.sweepStop != nil {
			close(b.sweepStop)
		}
	})
	return nil
}

// removeLocked unlinks el from both indexes. Caller holds b.mu.
func (b *MemoryBackend) removeLocked(el *list.Element) {
	me := el.Value.(*memoryEntry)
	delete(b.items, me.key)
	b.lru.Remove(el)
	b.sizeBytes -= int64(len(me.entry.Audio))
}
