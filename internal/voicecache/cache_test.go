package voicecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

func testRequest(text string) types.VoiceRequest {
	return types.VoiceRequest{
		Text:     text,
		Agent:    "mitra",
		Language: "hi-IN",
		Quality:  types.QualityGood,
		Format:   types.FormatMP3,
	}
}

func newTestCache(t *testing.T, opts ...CacheOption) *Cache {
	t.Helper()
	opts = append([]CacheOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	c := New(newTestBackend(t), opts...)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_PutGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	req := testRequest("नमस्ते")
	audio := []byte("mp3-payload")

	if _, ok := c.Get(ctx, req); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := c.Put(ctx, req, audio); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := c.Get(ctx, req)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("audio = %q, want %q", got, audio)
	}

	stats := c.Stats(ctx)
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %d hits / %d misses, want 1/1", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", stats.HitRate)
	}
}

func TestCache_KeyedByRequestFields(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	base := testRequest("hello")
	c.Put(ctx, base, []byte("base"))

	variants := []types.VoiceRequest{
		{Text: "hello", Agent: "guru", Language: "hi-IN", Quality: types.QualityGood, Format: types.FormatMP3},
		{Text: "hello", Agent: "mitra", Language: "en-IN", Quality: types.QualityGood, Format: types.FormatMP3},
		{Text: "hello", Agent: "mitra", Language: "hi-IN", Quality: types.QualityHigh, Format: types.FormatMP3},
		{Text: "goodbye", Agent: "mitra", Language: "hi-IN", Quality: types.QualityGood, Format: types.FormatMP3},
	}
	for i, v := range variants {
		if _, ok := c.Get(ctx, v); ok {
			t.Errorf("variant %d should not share the base entry", i)
		}
	}

	// Case and surrounding whitespace do not change the key.
	if got, ok := c.Get(ctx, testRequest("  HELLO ")); !ok || !bytes.Equal(got, []byte("base")) {
		t.Error("normalised text variant should hit the same entry")
	}
}

func TestCache_CompressionRoundTrip(t *testing.T) {
	c := newTestCache(t, WithCompressMin(16))
	ctx := context.Background()
	req := testRequest("long")

	// Repetitive payload compresses well.
	audio := bytes.Repeat([]byte("sarathi"), 4096)
	if err := c.Put(ctx, req, audio); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := c.Get(ctx, req)
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got, audio) {
		t.Error("decompressed audio differs from original")
	}

	// The stored footprint is the compressed size.
	stats := c.Stats(ctx)
	if stats.SizeBytes >= int64(len(audio)) {
		t.Errorf("stored size %d not smaller than raw %d", stats.SizeBytes, len(audio))
	}
}

func TestCache_IncompressiblePayloadStoredRaw(t *testing.T) {
	c := newTestCache(t, WithCompressMin(4))
	ctx := context.Background()
	req := testRequest("tiny")

	audio := []byte{0x9f, 0x3c, 0x51, 0xe2, 0x07, 0xbb, 0x68, 0x14}
	c.Put(ctx, req, audio)
	if got, ok := c.Get(ctx, req); !ok || !bytes.Equal(got, audio) {
		t.Error("incompressible payload should round-trip unchanged")
	}
}

func TestCache_GetOrCompute_SingleFlight(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	req := testRequest("collapse me")

	var computations atomic.Int64
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		computations.Add(1)
		<-release
		return []byte("shared-result"), nil
	}

	const callers = 16
	results := make([][]byte, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(ctx, req, compute)
		}()
	}

	// Give every goroutine time to join the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := computations.Load(); n != 1 {
		t.Errorf("%d concurrent callers triggered %d computations, want 1", callers, n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], []byte("shared-result")) {
			t.Errorf("caller %d got %q, want identical shared result", i, results[i])
		}
	}

	// The flight's result was stored; the next read is a plain hit.
	if _, ok := c.Get(ctx, req); !ok {
		t.Error("computed result was not cached")
	}
}

func TestCache_GetOrCompute_ErrorNotCached(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	req := testRequest("flaky")

	wantErr := errors.New("vendor down")
	calls := 0
	if _, err := c.GetOrCompute(ctx, req, func(context.Context) ([]byte, error) {
		calls++
		return nil, wantErr
	}); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	// A later call retries instead of serving the failure.
	got, err := c.GetOrCompute(ctx, req, func(context.Context) ([]byte, error) {
		calls++
		return []byte("recovered"), nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !bytes.Equal(got, []byte("recovered")) || calls != 2 {
		t.Errorf("got %q after %d calls, want recovery on second call", got, calls)
	}
}

func TestCache_GetOrCompute_CallerCancellation(t *testing.T) {
	c := newTestCache(t)
	req := testRequest("slow")

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, error) {
		close(started)
		select {
		case <-release:
			return []byte("eventually"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(cancelCtx, req, compute)
		errCh <- err
	}()

	<-started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller got %v, want context.Canceled", err)
	}

	// The computation outlives the cancelled caller and populates the cache.
	close(release)
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := c.Get(context.Background(), req); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("detached computation never populated the cache")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	req := testRequest("stale")

	c.Put(ctx, req, []byte("old"))
	if err := c.Invalidate(ctx, req); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := c.Get(ctx, req); ok {
		t.Error("entry survived invalidation")
	}
}

// failingBackend errors on every operation, standing in for a lost Redis
// connection.
type failingBackend struct{}

func (failingBackend) Get(context.Context, string) (*Entry, bool, error) {
	return nil, false, fmt.Errorf("connection refused")
}
func (failingBackend) Set(context.Context, string, *Entry, time.Duration) error {
	return fmt.Errorf("connection refused")
}
func (failingBackend) Delete(context.Context, string) error { return fmt.Errorf("connection refused") }
func (failingBackend) Touch(context.Context, string, time.Duration) error {
	return fmt.Errorf("connection refused")
}
func (failingBackend) Stats(context.Context) (BackendStats, error) {
	return BackendStats{}, fmt.Errorf("connection refused")
}
func (failingBackend) Close() error { return nil }

func TestCache_DegradesWhenBackendFails(t *testing.T) {
	c := New(failingBackend{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := context.Background()
	req := testRequest("degraded")

	if _, ok := c.Get(ctx, req); ok {
		t.Error("failing backend should read as a miss")
	}

	// Synthesis still works; the write failure is reported but the audio
	// comes back.
	got, err := c.GetOrCompute(ctx, req, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("compute through failing backend: %v", err)
	}
	if !bytes.Equal(got, []byte("fresh")) {
		t.Errorf("got %q, want computed audio despite backend failure", got)
	}

	stats := c.Stats(ctx)
	if stats.Entries != 0 || stats.SizeBytes != 0 {
		t.Errorf("footprint from failing backend = %+v, want zeros", stats)
	}
}

func TestCache_RejectsEmptyAudio(t *testing.T) {
	c := newTestCache(t)
	if err := c.Put(context.Background(), testRequest("x"), nil); err == nil {
		t.Error("expected error storing empty audio")
	}
}

func TestCache_ObserverSeesHitsAndMisses(t *testing.T) {
	var hits, misses atomic.Int64
	c := newTestCache(t, WithObserver(func(hit bool) {
		if hit {
			hits.Add(1)
		} else {
			misses.Add(1)
		}
	}))
	ctx := context.Background()
	req := testRequest("observed")

	c.Get(ctx, req)
	if err := c.Put(ctx, req, []byte("audio")); err != nil {
		t.Fatalf("put: %v", err)
	}
	c.Get(ctx, req)

	if got := misses.Load(); got != 1 {
		t.Errorf("observed misses = %d, want 1", got)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("observed hits = %d, want 1", got)
	}
}

func TestCache_Ping(t *testing.T) {
	c := newTestCache(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("healthy backend ping: %v", err)
	}

	broken := New(failingBackend{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := broken.Ping(context.Background()); err == nil {
		t.Error("failing backend ping should surface the error")
	}
}
