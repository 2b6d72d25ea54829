package voicecache

import (
	"context"
	"time"
)

// Entry is one cached synthesis result as stored by a [Backend].
// Audio holds the payload exactly as stored — possibly compressed; the
// Cache handles transparent decompression, so backends never inspect it.
type Entry struct {
	// Audio is the stored payload (compressed when Compressed is set).
	Audio []byte

	// Compressed records whether Audio is gzip-compressed.
	Compressed bool

	// CreatedAt is when the entry was first stored.
	CreatedAt time.Time

	// ExpiresAt is when the entry stops being served. Backends must never
	// return an entry past this instant.
	ExpiresAt time.Time

	// HitCount is the number of reads served from this entry.
	HitCount int64
}

// BackendStats reports the storage footprint of a backend.
type BackendStats struct {
	// Entries is the number of live cache entries.
	Entries int64

	// SizeBytes is the total stored payload size (compressed sizes for
	// compressed entries).
	SizeBytes int64
}

// Backend is the pluggable key-value store behind the voice cache. All
// implementations enforce TTL expiry themselves: a Get past the entry's
// ExpiresAt reports a miss. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the entry for key, or found=false on miss or expiry.
	// A successful Get increments the entry's hit count.
	Get(ctx context.Context, key string) (entry *Entry, found bool, err error)

	// Set stores the entry under key with the given TTL, replacing any
	// previous value.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Touch extends the TTL of an existing entry. Touching an absent key is
	// not an error.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// Stats reports the backend's current footprint.
	Stats(ctx context.Context) (BackendStats, error)

	// Close releases backend resources (connections, janitor goroutines).
	Close() error
}
