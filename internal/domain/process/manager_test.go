package process

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/family-mruby/fmruby-core/internal/domain/window"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

type mockHost struct {
	mock.Mock
}

func (m *mockHost) Spawn(ctx context.Context, pid types.ProcessID, gen uint32, path string) (types.AppInfo, error) {
	args := m.Called(pid, path)
	return args.Get(0).(types.AppInfo), args.Error(1)
}

func (m *mockHost) Terminate(ctx context.Context, pid types.ProcessID) error {
	return m.Called(pid).Error(0)
}

type pausingHost struct {
	mockHost
}

func (m *pausingHost) Suspend(ctx context.Context, pid types.ProcessID) error {
	return m.Called(pid).Error(0)
}

func (m *pausingHost) Resume(ctx context.Context, pid types.ProcessID) error {
	return m.Called(pid).Error(0)
}

type recordingFocus struct {
	focused  types.ProcessID
	released []types.ProcessID
}

func (f *recordingFocus) SetFocus(pid types.ProcessID) { f.focused = pid }
func (f *recordingFocus) Release(pid types.ProcessID) {
	f.released = append(f.released, pid)
	if f.focused == pid {
		f.focused = types.NoPID
	}
}

func windowed(name string) types.AppInfo {
	return types.AppInfo{Name: name, Type: types.AppTypeUser, Width: 120, Height: 90, Flags: types.DefaultWindowFlags}
}

func newTestManager(t *testing.T, host Host, opts ...Option) (*Manager, *window.Registry, *recordingFocus) {
	t.Helper()
	reg := window.NewRegistry()
	m := NewManager(host, reg, opts...)
	focus := &recordingFocus{focused: types.NoPID}
	m.SetFocusController(focus)
	return m, reg, focus
}

func TestSpawn(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", types.FirstAppPID, "default/shell").Return(windowed("shell"), nil)
	m, reg, focus := newTestManager(t, host)

	pid, err := m.Spawn(context.Background(), "default/shell", true)
	require.NoError(t, err)
	assert.Equal(t, types.FirstAppPID, pid)
	assert.Equal(t, pid, focus.focused)

	w, ok := reg.Get(pid)
	require.True(t, ok)
	assert.Equal(t, "shell", w.AppName)
	assert.Equal(t, 120, w.Width)

	info, ok := m.Get(pid)
	require.True(t, ok)
	assert.Equal(t, types.StateRunning, info.State)
	assert.Equal(t, "default/shell", info.Path)
	assert.Equal(t, uint32(1), info.Gen)
}

func TestSpawnWithoutFocus(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", mock.Anything, mock.Anything).Return(windowed("a"), nil)
	m, _, focus := newTestManager(t, host)

	_, err := m.Spawn(context.Background(), "a", false)
	require.NoError(t, err)
	assert.Equal(t, types.NoPID, focus.focused)
}

func TestSpawnHeadless(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", mock.Anything, "svc").Return(types.AppInfo{Name: "svc", Headless: true}, nil)
	m, reg, _ := newTestManager(t, host)

	pid, err := m.Spawn(context.Background(), "svc", true)
	require.NoError(t, err)
	assert.True(t, m.Alive(pid))
	assert.Zero(t, reg.Len())
}

func TestSpawnHostFailureRecordsNothing(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", types.FirstAppPID, "bad/path").Return(types.AppInfo{}, errors.New("no such app"))
	m, reg, focus := newTestManager(t, host)
	reg.Cache().Refresh()

	pid, err := m.Spawn(context.Background(), "bad/path", true)
	assert.Equal(t, types.NoPID, pid)
	assert.ErrorIs(t, err, types.ErrHostFailure)
	assert.Zero(t, m.Len())
	assert.Zero(t, reg.Len())
	assert.False(t, reg.Cache().Dirty())
	assert.Equal(t, types.NoPID, focus.focused)
}

func TestSpawnLowestFreeSlot(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", mock.Anything, mock.Anything).Return(windowed("a"), nil)
	host.On("Terminate", mock.Anything).Return(nil)
	m, _, _ := newTestManager(t, host)
	ctx := context.Background()

	p1, _ := m.Spawn(ctx, "a", true)
	p2, _ := m.Spawn(ctx, "b", true)
	p3, _ := m.Spawn(ctx, "c", true)
	assert.Equal(t, []types.ProcessID{2, 3, 4}, []types.ProcessID{p1, p2, p3})

	require.NoError(t, m.Kill(ctx, p2))
	again, err := m.Spawn(ctx, "d", true)
	require.NoError(t, err)
	assert.Equal(t, p2, again)

	info, _ := m.Get(again)
	assert.Equal(t, uint32(2), info.Gen, "slot generation bumps on reuse")
}

func TestSpawnTableFull(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", mock.Anything, mock.Anything).Return(windowed("a"), nil)
	m, _, _ := newTestManager(t, host, WithMaxApps(2))
	ctx := context.Background()

	_, err := m.Spawn(ctx, "a", true)
	require.NoError(t, err)
	_, err = m.Spawn(ctx, "b", true)
	require.NoError(t, err)

	pid, err := m.Spawn(ctx, "c", true)
	assert.Equal(t, types.NoPID, pid)
	assert.ErrorIs(t, err, types.ErrTableFull)
	assert.ErrorIs(t, err, types.ErrHostFailure)
	host.AssertNumberOfCalls(t, "Spawn", 2)
}

func TestPlacementCascades(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", mock.Anything, mock.Anything).Return(types.AppInfo{Name: "a", Flags: types.DefaultWindowFlags}, nil)
	m, reg, _ := newTestManager(t, host, WithGeometry(Geometry{X: 10, Y: 10, Width: 100, Height: 80, Cascade: 5}))
	ctx := context.Background()

	p1, _ := m.Spawn(ctx, "a", true)
	p2, _ := m.Spawn(ctx, "b", true)

	w1, _ := reg.Get(p1)
	w2, _ := reg.Get(p2)
	assert.Equal(t, 10, w1.X)
	assert.Equal(t, 15, w2.X)
	assert.Equal(t, 100, w2.Width)
}

func TestPlacementHonorsOrigin(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", types.FirstAppPID, "a").Return(types.AppInfo{Name: "a", Flags: types.DefaultWindowFlags}, nil)
	host.On("Spawn", types.FirstAppPID+1, "desk").Return(types.AppInfo{Name: "desk", Placed: true, Width: 50, Height: 40, Flags: types.DefaultWindowFlags}, nil)
	m, reg, _ := newTestManager(t, host, WithGeometry(Geometry{X: 10, Y: 10, Width: 100, Height: 80, Cascade: 5}))
	ctx := context.Background()

	_, err := m.Spawn(ctx, "a", true)
	require.NoError(t, err)
	desk, err := m.Spawn(ctx, "desk", true)
	require.NoError(t, err)

	w, _ := reg.Get(desk)
	assert.Equal(t, 0, w.X)
	assert.Equal(t, 0, w.Y)
	assert.Equal(t, 50, w.Width)
}

// Kill, Suspend and Resume have a partial contract: they keep the tables
// consistent and release focus but do not hide windows or hand focus over.
func TestKill(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", mock.Anything, mock.Anything).Return(windowed("a"), nil)
	host.On("Terminate", types.FirstAppPID).Return(errors.New("already gone"))
	m, reg, focus := newTestManager(t, host)
	ctx := context.Background()

	pid, _ := m.Spawn(ctx, "a", true)
	require.NoError(t, m.Kill(ctx, pid))

	assert.False(t, m.Alive(pid))
	assert.Zero(t, reg.Len())
	assert.Equal(t, types.NoPID, focus.focused)
	assert.Contains(t, focus.released, pid)

	assert.ErrorIs(t, m.Kill(ctx, pid), types.ErrUnknownPid)
}

func TestSuspendResume(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", mock.Anything, mock.Anything).Return(windowed("a"), nil)
	m, reg, focus := newTestManager(t, host)
	ctx := context.Background()

	pid, _ := m.Spawn(ctx, "a", true)

	require.NoError(t, m.Suspend(ctx, pid))
	info, _ := m.Get(pid)
	assert.Equal(t, types.StateSuspended, info.State)
	assert.Equal(t, 1, reg.Len(), "suspend keeps the window")
	assert.Equal(t, types.NoPID, focus.focused)

	require.NoError(t, m.Suspend(ctx, pid), "suspending twice is a no-op")

	require.NoError(t, m.Resume(ctx, pid))
	info, _ = m.Get(pid)
	assert.Equal(t, types.StateRunning, info.State)

	assert.ErrorIs(t, m.Suspend(ctx, 9), types.ErrUnknownPid)
	assert.ErrorIs(t, m.Resume(ctx, 9), types.ErrUnknownPid)

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalProcesses)
	assert.Equal(t, 1, stats.RunningProcesses)
}

func TestSuspendUsesPauser(t *testing.T) {
	host := &pausingHost{}
	host.On("Spawn", mock.Anything, mock.Anything).Return(windowed("a"), nil)
	host.On("Suspend", types.FirstAppPID).Return(nil).Once()
	host.On("Resume", types.FirstAppPID).Return(errors.New("stuck")).Once()
	m, _, _ := newTestManager(t, host)
	ctx := context.Background()

	pid, _ := m.Spawn(ctx, "a", true)
	require.NoError(t, m.Suspend(ctx, pid))

	err := m.Resume(ctx, pid)
	assert.ErrorIs(t, err, types.ErrHostFailure)
	info, _ := m.Get(pid)
	assert.Equal(t, types.StateSuspended, info.State, "state unchanged when the host refuses")
	host.AssertExpectations(t)
}

func TestList(t *testing.T) {
	host := &mockHost{}
	host.On("Spawn", mock.Anything, mock.Anything).Return(windowed("a"), nil)
	m, _, _ := newTestManager(t, host)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		_, err := m.Spawn(ctx, p, false)
		require.NoError(t, err)
	}

	list := m.List()
	require.Len(t, list, 3)
	for i, info := range list {
		assert.Equal(t, types.FirstAppPID+types.ProcessID(i), info.PID)
	}
}
