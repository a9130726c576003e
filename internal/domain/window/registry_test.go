package window

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

func TestRegister(t *testing.T) {
	r := NewRegistry()

	w, err := r.Register(2, "system/gui_app", 10, 20, 300, 200, types.DefaultWindowFlags)
	require.NoError(t, err)
	assert.Equal(t, 1, w.ZOrder)
	assert.Equal(t, 300, w.Width)

	w2, err := r.Register(3, "default/shell", 0, 0, 10, 5, types.DefaultWindowFlags)
	require.NoError(t, err)
	assert.Equal(t, 2, w2.ZOrder)
	assert.Equal(t, MinWidth, w2.Width, "width clamped to floor")
	assert.Equal(t, MinHeight, w2.Height, "height clamped to floor")

	_, err = r.Register(2, "dup", 0, 0, 100, 100, 0)
	assert.ErrorIs(t, err, types.ErrDuplicatePid)
	assert.Equal(t, 2, r.Len())
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(2, "a", 0, 0, 100, 100, 0)
	require.NoError(t, err)
	r.Cache().Refresh()

	r.Unregister(9)
	assert.False(t, r.Cache().Dirty())
	assert.Equal(t, 1, r.Len())

	r.Unregister(2)
	assert.True(t, r.Cache().Dirty())
	assert.Equal(t, 0, r.Len())
}

func TestMoveResizeUnknown(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Move(5, 1, 1))
	assert.False(t, r.Resize(5, 100, 100))
	assert.False(t, r.BringToFront(5))
}

func TestResizeClamps(t *testing.T) {
	r := NewRegistry(WithMinSize(80, 60))
	_, err := r.Register(2, "a", 0, 0, 200, 200, 0)
	require.NoError(t, err)

	require.True(t, r.Resize(2, 10, -40))
	w, _ := r.Get(2)
	assert.Equal(t, 80, w.Width)
	assert.Equal(t, 60, w.Height)
}

func TestBringToFront(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register(2, "w1", 0, 0, 100, 100, 0)
	_, _ = r.Register(3, "w2", 50, 50, 100, 100, 0)

	require.True(t, r.BringToFront(3))
	w, _ := r.Get(3)
	assert.Equal(t, 3, w.ZOrder)

	require.True(t, r.BringToFront(2))
	w, _ = r.Get(2)
	assert.Equal(t, 4, w.ZOrder)
}

func TestSnapshotOrderedByZ(t *testing.T) {
	r := NewRegistry()
	for pid := types.ProcessID(2); pid < 6; pid++ {
		_, err := r.Register(pid, "w", 0, 0, 100, 100, 0)
		require.NoError(t, err)
	}
	r.BringToFront(2)
	r.BringToFront(4)

	snap := r.Snapshot()
	require.Len(t, snap, 4)
	for i := 1; i < len(snap); i++ {
		assert.Less(t, snap[i-1].ZOrder, snap[i].ZOrder)
	}
	assert.Equal(t, types.ProcessID(4), snap[len(snap)-1].PID)
}

func TestZOrderStaysDistinct(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := NewRegistry()

	for step := 0; step < 2000; step++ {
		pid := types.ProcessID(2 + rng.Intn(8))
		switch rng.Intn(5) {
		case 0:
			_, _ = r.Register(pid, "w", rng.Intn(400), rng.Intn(300), rng.Intn(200), rng.Intn(200), types.DefaultWindowFlags)
		case 1:
			r.Unregister(pid)
		case 2:
			r.Move(pid, rng.Intn(400)-50, rng.Intn(300)-50)
		case 3:
			r.Resize(pid, rng.Intn(300)-20, rng.Intn(300)-20)
		case 4:
			r.BringToFront(pid)
		}

		seen := make(map[int]types.ProcessID)
		for _, w := range r.Snapshot() {
			other, dup := seen[w.ZOrder]
			require.False(t, dup, "step %d: pids %d and %d share z %d", step, other, w.PID, w.ZOrder)
			seen[w.ZOrder] = w.PID
			require.GreaterOrEqual(t, w.Width, MinWidth)
			require.GreaterOrEqual(t, w.Height, MinHeight)
		}
	}
}

func TestCacheInvalidation(t *testing.T) {
	r := NewRegistry()
	c := r.Cache()
	assert.True(t, c.Dirty())

	_, _ = r.Register(2, "a", 0, 0, 100, 100, 0)
	assert.Len(t, c.Windows(), 1)
	assert.False(t, c.Dirty())
	assert.Equal(t, uint64(1), c.Refreshes())

	c.Windows()
	assert.Equal(t, uint64(1), c.Refreshes(), "clean reads do not rebuild")

	mutations := []func(){
		func() { r.Move(2, 5, 5) },
		func() { r.Resize(2, 120, 120) },
		func() { r.BringToFront(2) },
		func() { _, _ = r.Register(3, "b", 0, 0, 100, 100, 0) },
		func() { r.Unregister(3) },
	}
	for _, mutate := range mutations {
		c.Refresh()
		mutate()
		assert.True(t, c.Dirty())
	}
}

func TestHitTest(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register(2, "w1", 0, 0, 100, 100, 0)
	_, _ = r.Register(3, "w2", 50, 50, 100, 100, 0)
	c := r.Cache()

	tests := []struct {
		name  string
		x, y  int
		want  types.ProcessID
		found bool
	}{
		{"overlap picks front-most", 60, 60, 3, true},
		{"only w1", 10, 10, 2, true},
		{"only w2", 140, 140, 3, true},
		{"right edge exclusive", 150, 60, 0, false},
		{"left edge inclusive", 50, 99, 3, true},
		{"outside", 500, 500, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, ok := c.HitTest(tt.x, tt.y)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, w.PID)
			}
		})
	}
}
