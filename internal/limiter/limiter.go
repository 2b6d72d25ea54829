// Package limiter bounds concurrent provider calls for the whole process.
//
// Every text-to-speech and speech-to-text call acquires a slot from the
// [Limiter] before reaching a vendor; there is no bypass path. When all
// slots are busy, callers wait in a priority queue where interactive session
// traffic outranks background work, with FIFO ordering inside a class. Queue
// waits are bounded: a request that cannot be admitted in time fails with
// [ErrBackpressure] instead of blocking its session indefinitely.
//
// Independently of slot admission, a sliding-window counter per identity
// caps how many calls of each kind an identity may make per window. A
// violation fails fast with [*RateLimitError] carrying the wait until the
// budget frees up.
package limiter

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// Defaults applied by [New] when the corresponding option is not given.
const (
	DefaultMaxConcurrent = 10
	DefaultQueueTimeout  = 5 * time.Second
	DefaultWindow        = time.Hour
	DefaultTTSPerWindow  = 100
	DefaultSTTPerWindow  = 200
)

// ErrBackpressure is returned when a request's queue wait exceeds the
// configured timeout.
var ErrBackpressure = errors.New("limiter: queue wait exceeded, system under load")

// RateLimitError reports an exhausted per-identity call budget.
type RateLimitError struct {
	// Identity is the rate-limited caller.
	Identity string

	// Kind is the call direction whose budget is exhausted.
	Kind types.CallKind

	// Limit is the per-window call budget.
	Limit int

	// RetryAfter is how long until the oldest counted call leaves the
	// window and one slot of budget frees up.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("limiter: %s rate limit reached for %s (%d per window), retry after %s",
		e.Kind, e.Identity, e.Limit, e.RetryAfter.Round(time.Second))
}

// Request describes one admission attempt.
type Request struct {
	// Identity is the rate-limit subject, typically the session's user ID.
	Identity string

	// Kind is the call direction (tts or stt).
	Kind types.CallKind

	// Priority orders the request against other queued work.
	Priority types.Priority
}

// Stats is a point-in-time view of limiter load.
type Stats struct {
	// InFlight is the number of slots currently held.
	InFlight int

	// Queued is the number of requests waiting for a slot.
	Queued int

	// Rejected counts lifetime backpressure and rate-limit rejections.
	Rejected int64
}

// Limiter bounds concurrent provider calls. It is safe for concurrent use.
type Limiter struct {
	maxConcurrent int
	queueTimeout  time.Duration
	window        *slidingWindow
	logger        *slog.Logger

	onReject func(reason string, kind types.CallKind)

	mu       sync.Mutex
	inFlight int
	pending  waiterHeap
	seq      uint64
	rejected int64
}

// Option configures a [Limiter].
type Option func(*settings)

type settings struct {
	maxConcurrent int
	queueTimeout  time.Duration
	window        time.Duration
	limits        map[types.CallKind]int
	now           func() time.Time
	logger        *slog.Logger
	onReject      func(reason string, kind types.CallKind)
}

// WithMaxConcurrent sets the slot count. Default 10.
func WithMaxConcurrent(n int) Option {
	return func(s *settings) { s.maxConcurrent = n }
}

// WithQueueTimeout bounds how long a request may wait for a slot.
func WithQueueTimeout(d time.Duration) Option {
	return func(s *settings) { s.queueTimeout = d }
}

// WithRateLimit sets the per-identity call budget for one call kind.
// A non-positive limit disables rate limiting for that kind.
func WithRateLimit(kind types.CallKind, perWindow int) Option {
	return func(s *settings) { s.limits[kind] = perWindow }
}

// WithWindow sets the sliding-window length for rate limiting.
func WithWindow(d time.Duration) Option {
	return func(s *settings) { s.window = d }
}

// WithClock injects a time source for the rate-limit window. Tests use this
// to step the window without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithLogger sets the logger for rejection events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithRejectionHook registers a callback invoked once per rejection with the
// reason ("backpressure" or "rate_limit") and call kind. Used to feed the
// metrics layer; fn must be cheap and concurrency-safe.
func WithRejectionHook(fn func(reason string, kind types.CallKind)) Option {
	return func(s *settings) { s.onReject = fn }
}

// New creates a Limiter with the given options.
func New(opts ...Option) *Limiter {
	s := settings{
		maxConcurrent: DefaultMaxConcurrent,
		queueTimeout:  DefaultQueueTimeout,
		window:        DefaultWindow,
		limits: map[types.CallKind]int{
			types.CallTTS: DefaultTTSPerWindow,
			types.CallSTT: DefaultSTTPerWindow,
		},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(&s)
	}
	return &Limiter{
		maxConcurrent: s.maxConcurrent,
		queueTimeout:  s.queueTimeout,
		window:        newSlidingWindow(s.window, s.limits, s.now),
		logger:        s.logger,
		onReject:      s.onReject,
	}
}

// Acquire admits one provider call, blocking in the priority queue while all
// slots are busy. On success it returns a release function that must be
// called exactly once when the provider call finishes. On failure it returns
// [ErrBackpressure], [*RateLimitError], or the context error.
//
// Budget is reserved atomically up front so concurrent callers cannot
// over-admit past an identity's cap; a reservation whose request is later
// rejected (backpressure or cancellation) is refunded.
func (l *Limiter) Acquire(ctx context.Context, req Request) (release func(), err error) {
	if retryAfter, ok := l.window.reserve(req.Identity, req.Kind); !ok {
		l.reject("rate_limit", req.Kind)
		limit := l.window.limitFor(req.Kind)
		l.logger.Warn("provider call rate limited",
			slog.String("identity", req.Identity),
			slog.String("kind", string(req.Kind)),
			slog.Duration("retry_after", retryAfter))
		return nil, &RateLimitError{
			Identity:   req.Identity,
			Kind:       req.Kind,
			Limit:      limit,
			RetryAfter: retryAfter,
		}
	}

	l.mu.Lock()
	if l.inFlight < l.maxConcurrent {
		l.inFlight++
		l.mu.Unlock()
		return l.releaseFunc(), nil
	}

	w := &waiter{
		ready:    make(chan struct{}),
		priority: req.Priority,
		seq:      l.seq,
	}
	l.seq++
	heap.Push(&l.pending, w)
	l.mu.Unlock()

	timer := time.NewTimer(l.queueTimeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return l.releaseFunc(), nil

	case <-timer.C:
		if l.abandon(w) {
			l.window.unreserve(req.Identity, req.Kind)
			l.reject("backpressure", req.Kind)
			l.logger.Warn("provider call rejected under backpressure",
				slog.String("identity", req.Identity),
				slog.String("kind", string(req.Kind)),
				slog.String("priority", req.Priority.String()))
			return nil, ErrBackpressure
		}
		// Lost the race: a slot was granted while the timer fired.
		return l.releaseFunc(), nil

	case <-ctx.Done():
		if l.abandon(w) {
			l.window.unreserve(req.Identity, req.Kind)
			return nil, ctx.Err()
		}
		// Granted concurrently with cancellation; hand the slot back.
		// The call never runs, so the reservation is refunded too.
		l.releaseSlot()
		l.window.unreserve(req.Identity, req.Kind)
		return nil, ctx.Err()
	}
}

// releaseFunc wraps releaseSlot so double-release from a confused caller is
// harmless.
func (l *Limiter) releaseFunc() func() {
	var once sync.Once
	return func() { once.Do(l.releaseSlot) }
}

// releaseSlot frees one slot, handing it directly to the highest-priority
// live waiter if any.
func (l *Limiter) releaseSlot() {
	l.mu.Lock()
	for l.pending.Len() > 0 {
		w := heap.Pop(&l.pending).(*waiter)
		if w.abandoned {
			continue
		}
		w.granted = true
		l.mu.Unlock()
		// The slot transfers to the waiter; inFlight is unchanged. The
		// waiter's budget was already reserved when it joined the queue.
		close(w.ready)
		return
	}
	l.inFlight--
	l.mu.Unlock()
}

// abandon marks w as no longer waiting. It reports false when the slot was
// already granted, in which case the caller owns a slot it must deal with.
func (l *Limiter) abandon(w *waiter) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.granted {
		return false
	}
	w.abandoned = true
	return true
}

func (l *Limiter) reject(reason string, kind types.CallKind) {
	l.mu.Lock()
	l.rejected++
	l.mu.Unlock()
	if l.onReject != nil {
		l.onReject(reason, kind)
	}
}

// SetRateLimit replaces the per-identity budget for kind at runtime.
// Calls already counted in the window keep counting against the new budget.
func (l *Limiter) SetRateLimit(kind types.CallKind, perWindow int) {
	l.window.setLimit(kind, perWindow)
}

// Stats reports current limiter load.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	queued := 0
	for _, w := range l.pending {
		if !w.abandoned {
			queued++
		}
	}
	return Stats{InFlight: l.inFlight, Queued: queued, Rejected: l.rejected}
}
