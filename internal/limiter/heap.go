package limiter

import "github.com/sarathi-ai/voicecore/pkg/types"

// waiter is one queued admission request. The seq field provides FIFO
// ordering within the same priority class.
type waiter struct {
	ready     chan struct{}
	priority  types.Priority
	seq       uint64 // monotonic insertion order for FIFO tie-breaking
	granted   bool
	abandoned bool
}

// waiterHeap implements [container/heap.Interface] as a max-heap ordered by
// priority (descending), with FIFO tie-breaking on seq (ascending).
type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

// Less reports whether element i should be dequeued before element j.
// Higher priority wins; equal priority falls back to insertion order.
func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *waiterHeap) Push(x any) {
	*h = append(*h, x.(*waiter))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return w
}
