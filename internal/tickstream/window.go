package tickstream

import (
	"github.com/apexalgo/ticktrader/internal/types"
)

const (
	// DefaultWindowCapacity is used when no capacity is configured.
	DefaultWindowCapacity = 1000
	// MaxWindowCapacity bounds memory per stream.
	MaxWindowCapacity = 2000
	// MinWindowCapacity is the smallest window a policy can be served from.
	MinWindowCapacity = 100
)

// Window is a fixed-size circular buffer of ticks. Oldest entries are
// evicted on overflow; iteration order always matches arrival order.
// It is not safe for concurrent use; the Stream serializes access.
type Window struct {
	data     []types.Tick
	capacity int
	index    int // next write position
	size     int // current number of elements
}

// NewWindow creates a window with a fixed capacity, clamped to the
// supported range.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}

	if capacity < MinWindowCapacity {
		capacity = MinWindowCapacity
	}

	if capacity > MaxWindowCapacity {
		capacity = MaxWindowCapacity
	}

	return &Window{
		data:     make([]types.Tick, capacity),
		capacity: capacity,
		index:    0,
		size:     0,
	}
}

// newWindowExact is used by tests that need tiny capacities.
func newWindowExact(capacity int) *Window {
	return &Window{
		data:     make([]types.Tick, capacity),
		capacity: capacity,
		index:    0,
		size:     0,
	}
}

// Push appends a tick, evicting the oldest when full.
func (w *Window) Push(tick types.Tick) {
	w.data[w.index] = tick
	w.index = (w.index + 1) % w.capacity

	if w.size < w.capacity {
		w.size++
	}
}

// Snapshot returns the last n ticks in arrival order, or fewer if the
// window holds less.
func (w *Window) Snapshot(n int) []types.Tick {
	if w.size == 0 || n <= 0 {
		return []types.Tick{}
	}

	count := n
	if count > w.size {
		count = w.size
	}

	result := make([]types.Tick, count)
	startIdx := (w.index - count + w.capacity) % w.capacity

	for i := 0; i < count; i++ {
		result[i] = w.data[(startIdx+i)%w.capacity]
	}

	return result
}

// Len returns the current number of ticks held.
func (w *Window) Len() int {
	return w.size
}

// Cap returns the fixed capacity.
func (w *Window) Cap() int {
	return w.capacity
}

// Clear resets the window.
func (w *Window) Clear() {
	w.index = 0
	w.size = 0
}
