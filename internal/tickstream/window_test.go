package tickstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexalgo/ticktrader/internal/types"
)

func TestWindowRoundTrip(t *testing.T) {
	// 10 ticks into a capacity-5 window: snapshot(5) is the last 5 pushed,
	// in arrival order.
	w := newWindowExact(5)

	pushed := make([]types.Tick, 0, 10)
	for i := 0; i < 10; i++ {
		tick := types.NewTick(float64(i)+0.1, int64(i))
		w.Push(tick)
		pushed = append(pushed, tick)
	}

	snap := w.Snapshot(5)
	require.Len(t, snap, 5)
	assert.Equal(t, pushed[5:], snap)
	assert.Equal(t, 5, w.Len())
}

func TestWindowSnapshotShorterThanRequested(t *testing.T) {
	w := newWindowExact(5)
	w.Push(types.NewTick(1.1, 1))
	w.Push(types.NewTick(2.2, 2))

	snap := w.Snapshot(5)
	require.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap[0].Epoch)
	assert.Equal(t, int64(2), snap[1].Epoch)
}

func TestWindowSnapshotEmpty(t *testing.T) {
	w := newWindowExact(3)
	assert.Empty(t, w.Snapshot(3))
	assert.Empty(t, w.Snapshot(0))
}

func TestWindowCapacityClamped(t *testing.T) {
	assert.Equal(t, MinWindowCapacity, NewWindow(1).Cap())
	assert.Equal(t, MaxWindowCapacity, NewWindow(999999).Cap())
	assert.Equal(t, DefaultWindowCapacity, NewWindow(0).Cap())
	assert.Equal(t, 500, NewWindow(500).Cap())
}

func TestWindowClear(t *testing.T) {
	w := newWindowExact(3)
	w.Push(types.NewTick(1.1, 1))
	w.Clear()
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Snapshot(3))
}
