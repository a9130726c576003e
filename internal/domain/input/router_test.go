package input

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-mruby/fmruby-core/internal/domain/window"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

type sent struct {
	dst     types.ProcessID
	payload []byte
}

type recordingBus struct {
	sent []sent
}

func (b *recordingBus) Send(dst types.ProcessID, msgType types.MsgType, payload []byte) bool {
	b.sent = append(b.sent, sent{dst: dst, payload: payload})
	return true
}

func (b *recordingBus) last() sent {
	return b.sent[len(b.sent)-1]
}

const (
	w1 types.ProcessID = 2
	w2 types.ProcessID = 3
)

// twoWindows sets up W1(z=1, 0,0,100,100) and W2(z=2, 50,50,100,100)
func twoWindows(t *testing.T) (*Router, *window.Registry, *recordingBus) {
	t.Helper()
	reg := window.NewRegistry()
	_, err := reg.Register(w1, "w1", 0, 0, 100, 100, types.DefaultWindowFlags)
	require.NoError(t, err)
	_, err = reg.Register(w2, "w2", 50, 50, 100, 100, types.DefaultWindowFlags)
	require.NoError(t, err)

	bus := &recordingBus{}
	return NewRouter(reg, bus), reg, bus
}

func press(x, y int) types.HIDEvent   { return types.PointerEvent(types.HIDButtonDown, 1, x, y) }
func drag(x, y int) types.HIDEvent    { return types.PointerEvent(types.HIDMouseMove, 1, x, y) }
func release(x, y int) types.HIDEvent { return types.PointerEvent(types.HIDButtonUp, 1, x, y) }

func TestPressSelectsFrontMost(t *testing.T) {
	r, reg, bus := twoWindows(t)

	r.Handle(press(60, 60))

	w, _ := reg.Get(w2)
	assert.Equal(t, 3, w.ZOrder)
	assert.Equal(t, w2, r.Focus())
	assert.Equal(t, w2, r.MouseOwner())
	require.Len(t, bus.sent, 1)
	assert.Equal(t, w2, bus.last().dst)
	assert.Equal(t, press(60, 60).Bytes(), bus.last().payload)
}

func TestTitleBarDrag(t *testing.T) {
	r, reg, bus := twoWindows(t)

	r.Handle(press(5, 5))
	c := r.Capture()
	assert.Equal(t, ModeDrag, c.Mode)
	assert.Equal(t, w1, c.Target)
	assert.Equal(t, 5, c.OffsetX)
	assert.Equal(t, 5, c.OffsetY)

	r.Handle(drag(15, 15))
	w, _ := reg.Get(w1)
	assert.Equal(t, 10, w.X)
	assert.Equal(t, 10, w.Y)
	assert.Equal(t, w1, bus.last().dst)

	r.Handle(release(15, 15))
	assert.Equal(t, ModeNone, r.Capture().Mode)
	assert.Equal(t, types.NoPID, r.Capture().Target)
	assert.Equal(t, w1, bus.last().dst)
	assert.Len(t, bus.sent, 3)
}

func TestCornerResize(t *testing.T) {
	r, reg, _ := twoWindows(t)

	r.Handle(press(145, 145))
	c := r.Capture()
	require.Equal(t, ModeResize, c.Mode)
	assert.Equal(t, w2, c.Target)
	assert.Equal(t, 100, c.StartWidth)
	assert.Equal(t, 145, c.AnchorX)

	r.Handle(drag(175, 165))
	w, _ := reg.Get(w2)
	assert.Equal(t, 130, w.Width)
	assert.Equal(t, 120, w.Height)

	r.Handle(drag(0, 0))
	w, _ = reg.Get(w2)
	assert.Equal(t, window.MinWidth, w.Width, "resize clamps to the floor")
	assert.Equal(t, window.MinHeight, w.Height)

	r.Handle(release(0, 0))
	assert.False(t, r.Capture().Active())
}

func TestResizeCheckedBeforeTitleBar(t *testing.T) {
	reg := window.NewRegistry()
	_, err := reg.Register(w1, "small", 0, 0, 50, 50, types.DefaultWindowFlags)
	require.NoError(t, err)
	r := NewRouter(reg, &recordingBus{}, WithHotZones(46, 10))

	// (45, 45) is inside both the corner handle and the tall title bar
	r.Handle(press(45, 45))
	assert.Equal(t, ModeResize, r.Capture().Mode)
}

func TestFlagsGateCapture(t *testing.T) {
	reg := window.NewRegistry()
	_, err := reg.Register(w1, "fixed", 0, 0, 100, 100, 0)
	require.NoError(t, err)
	r := NewRouter(reg, &recordingBus{})

	r.Handle(press(5, 5))
	assert.Equal(t, ModeNone, r.Capture().Mode)
	r.Handle(release(5, 5))

	r.Handle(press(95, 95))
	assert.Equal(t, ModeNone, r.Capture().Mode)
	assert.Equal(t, w1, r.Focus())
}

func TestBodyPressStaysIdle(t *testing.T) {
	r, _, bus := twoWindows(t)

	r.Handle(press(20, 40))
	assert.Equal(t, ModeNone, r.Capture().Mode)
	assert.Equal(t, w1, r.Focus())
	assert.Equal(t, w1, bus.last().dst)
}

func TestPressOutsideIgnored(t *testing.T) {
	r, reg, bus := twoWindows(t)
	r.SetFocus(w1)

	r.Handle(press(400, 400))

	assert.Empty(t, bus.sent)
	assert.Equal(t, w1, r.Focus())
	w, _ := reg.Get(w2)
	assert.Equal(t, 2, w.ZOrder)
}

func TestMoveRouting(t *testing.T) {
	r, _, bus := twoWindows(t)

	r.Handle(drag(10, 10))
	assert.Empty(t, bus.sent, "no focus, no capture: dropped")

	r.SetFocus(w2)
	r.Handle(drag(10, 10))
	require.Len(t, bus.sent, 1)
	assert.Equal(t, w2, bus.last().dst)
}

func TestUpRoutesToMouseOwner(t *testing.T) {
	r, _, bus := twoWindows(t)

	r.Handle(press(20, 40))
	r.SetFocus(w2)
	r.Handle(release(200, 200))

	assert.Equal(t, w1, bus.last().dst)
	assert.Equal(t, types.NoPID, r.MouseOwner())
}

func TestCaptureAbortsWhenWindowGone(t *testing.T) {
	r, reg, bus := twoWindows(t)
	r.Handle(press(5, 5))
	require.Equal(t, ModeDrag, r.Capture().Mode)

	reg.Unregister(w1)
	r.Handle(drag(30, 30))

	assert.False(t, r.Capture().Active())
	assert.Equal(t, w1, bus.last().dst, "falls back to focus target")
}

func TestStaleCaptureOverwrittenByPress(t *testing.T) {
	r, _, _ := twoWindows(t)

	r.Handle(press(5, 5))
	require.Equal(t, ModeDrag, r.Capture().Mode)

	r.Handle(press(145, 145))
	c := r.Capture()
	assert.Equal(t, ModeResize, c.Mode)
	assert.Equal(t, w2, c.Target)
	assert.Zero(t, c.OffsetX)
}

func TestKeysFollowFocus(t *testing.T) {
	r, _, bus := twoWindows(t)
	key := types.KeyEvent(types.HIDKeyDown, 0x41, 4, 0)

	r.Handle(key)
	assert.Empty(t, bus.sent)

	r.SetFocus(w1)
	r.Handle(key)
	require.Len(t, bus.sent, 1)
	assert.Equal(t, w1, bus.last().dst)
	assert.Equal(t, key.Bytes(), bus.last().payload)
}

func TestShortFrameDroppedWithoutRefresh(t *testing.T) {
	r, reg, bus := twoWindows(t)
	before := reg.Cache().Refreshes()
	require.True(t, reg.Cache().Dirty())

	assert.False(t, r.HandleRaw([]byte{4, 1, 60, 0}))

	assert.Equal(t, before, reg.Cache().Refreshes())
	assert.True(t, reg.Cache().Dirty())
	assert.Empty(t, bus.sent)
}

func TestRelease(t *testing.T) {
	r, _, _ := twoWindows(t)
	r.Handle(press(5, 5))

	r.Release(w2)
	assert.Equal(t, w1, r.Focus())
	assert.True(t, r.Capture().Active())

	r.Release(w1)
	assert.Equal(t, types.NoPID, r.Focus())
	assert.False(t, r.Capture().Active())
	assert.Equal(t, types.NoPID, r.MouseOwner())
}

func TestSnapshot(t *testing.T) {
	r, _, _ := twoWindows(t)
	r.Handle(press(5, 5))

	s := r.Snapshot()
	assert.Equal(t, "drag", s.Mode)
	assert.Equal(t, w1, s.Target)
	assert.Equal(t, w1, s.FocusedPID)
}

func TestCaptureInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	reg := window.NewRegistry()
	for i := 0; i < 4; i++ {
		_, err := reg.Register(types.ProcessID(2+i), "w", rng.Intn(200), rng.Intn(150), 60+rng.Intn(100), 60+rng.Intn(100), types.DefaultWindowFlags)
		require.NoError(t, err)
	}
	r := NewRouter(reg, &recordingBus{})

	for step := 0; step < 3000; step++ {
		x, y := rng.Intn(320), rng.Intn(240)
		switch rng.Intn(3) {
		case 0:
			r.Handle(press(x, y))
		case 1:
			r.Handle(drag(x, y))
		case 2:
			r.Handle(release(x, y))
			require.Equal(t, ModeNone, r.Capture().Mode, "step %d", step)
		}

		c := r.Capture()
		require.Equal(t, c.Mode == ModeNone, c.Target == types.NoPID, "step %d", step)

		zs := make(map[int]bool)
		for _, w := range reg.Snapshot() {
			require.False(t, zs[w.ZOrder], "step %d: duplicate z", step)
			zs[w.ZOrder] = true
		}
	}
}

func TestHitTestDeterministic(t *testing.T) {
	r, reg, _ := twoWindows(t)

	for i := 0; i < 5; i++ {
		r.Handle(press(60, 60))
		r.Handle(release(60, 60))
		top := reg.Snapshot()
		assert.Equal(t, w2, top[len(top)-1].PID)
	}
}
