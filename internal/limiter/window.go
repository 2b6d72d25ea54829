package limiter

import (
	"sync"
	"time"

	"github.com/sarathi-ai/voicecore/pkg/types"
)

// windowKey identifies one rate-limit bucket.
type windowKey struct {
	identity string
	kind     types.CallKind
}

// slidingWindow counts provider calls per identity and call kind over a
// rolling interval. It is safe for concurrent use.
type slidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	limits map[types.CallKind]int
	events map[windowKey][]time.Time
	now    func() time.Time
}

func newSlidingWindow(window time.Duration, limits map[types.CallKind]int, now func() time.Time) *slidingWindow {
	return &slidingWindow{
		window: window,
		limits: limits,
		events: make(map[windowKey][]time.Time),
		now:    now,
	}
}

// reserve atomically checks identity's budget for kind and, when within it,
// counts the call. Check and count share one critical section so racing
// callers at the boundary cannot both slip under the cap. When the limit is
// exhausted it returns ok=false and the wait until the oldest counted call
// leaves the window.
func (w *slidingWindow) reserve(identity string, kind types.CallKind) (retryAfter time.Duration, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	limit, limited := w.limits[kind]
	if !limited || limit <= 0 {
		return 0, true
	}

	key := windowKey{identity: identity, kind: kind}
	events := w.pruneLocked(key)
	if len(events) >= limit {
		return events[0].Add(w.window).Sub(w.now()), false
	}
	w.events[key] = append(events, w.now())
	return 0, true
}

// unreserve refunds the newest counted call for identity. Called when an
// admission that already reserved budget is rejected before reaching the
// vendor, so the caller's budget only pays for calls that actually ran.
func (w *slidingWindow) unreserve(identity string, kind types.CallKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if limit, limited := w.limits[kind]; !limited || limit <= 0 {
		return
	}
	key := windowKey{identity: identity, kind: kind}
	events := w.events[key]
	if len(events) == 0 {
		return
	}
	events = events[:len(events)-1]
	if len(events) == 0 {
		delete(w.events, key)
		return
	}
	w.events[key] = events
}

// setLimit replaces the per-window budget for one call kind. Counted events
// stay in the window, so a lowered limit takes effect immediately.
func (w *slidingWindow) setLimit(kind types.CallKind, perWindow int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.limits[kind] = perWindow
}

// limitFor returns the configured budget for one call kind.
func (w *slidingWindow) limitFor(kind types.CallKind) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limits[kind]
}

// pruneLocked drops events older than the window and returns the remainder.
// Caller holds w.mu.
func (w *slidingWindow) pruneLocked(key windowKey) []time.Time {
	events := w.events[key]
	cutoff := w.now().Add(-w.window)

	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		events = append(events[:0:0], events[i:]...)
		if len(events) == 0 {
			delete(w.events, key)
			return nil
		}
		w.events[key] = events
	}
	return events
}
