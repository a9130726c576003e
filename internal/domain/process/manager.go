package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/domain/window"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/monitoring"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// DefaultMaxApps matches the size of the original task table
const DefaultMaxApps = 14

// Host instantiates and tears down isolated applications
type Host interface {
	Spawn(ctx context.Context, pid types.ProcessID, gen uint32, path string) (types.AppInfo, error)
	Terminate(ctx context.Context, pid types.ProcessID) error
}

// Pauser is implemented by hosts that can pause an application
type Pauser interface {
	Suspend(ctx context.Context, pid types.ProcessID) error
	Resume(ctx context.Context, pid types.ProcessID) error
}

// FocusController owns focus and capture. The input router implements it.
type FocusController interface {
	SetFocus(pid types.ProcessID)
	Release(pid types.ProcessID)
}

// Geometry is the placement used when an app does not ask for one
type Geometry struct {
	X, Y          int
	Width, Height int
	Cascade       int // offset applied per existing window
}

// DefaultGeometry returns the fallback window placement
func DefaultGeometry() Geometry {
	return Geometry{X: 20, Y: 20, Width: 200, Height: 150, Cascade: 16}
}

type entry struct {
	info types.ProcessInfo
}

// Manager is the process table. It is owned by the kernel goroutine.
type Manager struct {
	host     Host
	windows  *window.Registry
	focus    FocusController
	maxApps  int
	geometry Geometry
	procs    map[types.ProcessID]*entry
	gens     map[types.ProcessID]uint32
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithMaxApps limits the number of application slots
func WithMaxApps(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxApps = n
		}
	}
}

// WithGeometry sets the fallback window placement
func WithGeometry(g Geometry) Option {
	return func(m *Manager) { m.geometry = g }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics adds metrics tracking to the manager
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a process table backed by host and windows
func NewManager(host Host, windows *window.Registry, opts ...Option) *Manager {
	m := &Manager{
		host:     host,
		windows:  windows,
		maxApps:  DefaultMaxApps,
		geometry: DefaultGeometry(),
		procs:    make(map[types.ProcessID]*entry),
		gens:     make(map[types.ProcessID]uint32),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetFocusController installs the focus owner notified on spawn and release
func (m *Manager) SetFocusController(f FocusController) {
	m.focus = f
}

// Spawn asks the host to start appPath in the lowest free slot. Nothing is
// recorded when the host fails. New apps take focus unless focus is false.
func (m *Manager) Spawn(ctx context.Context, appPath string, focus bool) (types.ProcessID, error) {
	pid, ok := m.reserve()
	if !ok {
		m.metrics.RecordSpawn("table_full")
		return types.NoPID, fmt.Errorf("spawn %s: %w", appPath, types.ErrTableFull)
	}

	gen := m.gens[pid] + 1
	info, err := m.host.Spawn(ctx, pid, gen, appPath)
	if err != nil {
		m.metrics.RecordSpawn("host_failure")
		if !errors.Is(err, types.ErrHostFailure) {
			err = fmt.Errorf("%w: %v", types.ErrHostFailure, err)
		}
		return types.NoPID, fmt.Errorf("spawn %s: %w", appPath, err)
	}

	if !info.Headless {
		g := m.placement(info)
		if _, err := m.windows.Register(pid, info.Name, g.X, g.Y, g.Width, g.Height, info.Flags); err != nil {
			m.metrics.RecordSpawn("window_failure")
			if terr := m.host.Terminate(ctx, pid); terr != nil {
				m.logger.Warn("Terminate after window failure", zap.Int32("pid", int32(pid)), zap.Error(terr))
			}
			return types.NoPID, fmt.Errorf("spawn %s: %w", appPath, err)
		}
	}

	m.gens[pid] = gen
	m.procs[pid] = &entry{info: types.ProcessInfo{
		PID:       pid,
		Name:      info.Name,
		Path:      appPath,
		Type:      info.Type,
		State:     types.StateRunning,
		Headless:  info.Headless,
		Gen:       gen,
		StartedAt: m.now(),
	}}

	if focus && m.focus != nil {
		m.focus.SetFocus(pid)
	}

	m.metrics.RecordSpawn("ok")
	m.metrics.SetLive(len(m.procs), m.windows.Len())
	m.logger.Info("Spawned app",
		zap.Int32("pid", int32(pid)),
		zap.String("app", info.Name),
		zap.String("path", appPath),
		zap.Bool("headless", info.Headless),
	)
	return pid, nil
}

// Kill terminates pid, removes its window and frees the slot. Host errors
// are logged; the table entry is removed regardless.
func (m *Manager) Kill(ctx context.Context, pid types.ProcessID) error {
	e, ok := m.procs[pid]
	if !ok {
		return fmt.Errorf("kill %d: %w", pid, types.ErrUnknownPid)
	}

	if err := m.host.Terminate(ctx, pid); err != nil {
		m.logger.Warn("Host terminate failed",
			zap.Int32("pid", int32(pid)),
			zap.Error(err),
		)
	}

	m.windows.Unregister(pid)
	delete(m.procs, pid)
	if m.focus != nil {
		m.focus.Release(pid)
	}

	m.metrics.SetLive(len(m.procs), m.windows.Len())
	m.logger.Info("Killed app",
		zap.Int32("pid", int32(pid)),
		zap.String("app", e.info.Name),
	)
	return nil
}

// Suspend marks pid suspended and pauses it when the host supports that.
// The window stays registered.
func (m *Manager) Suspend(ctx context.Context, pid types.ProcessID) error {
	return m.setState(ctx, pid, types.StateSuspended)
}

// Resume marks pid running again
func (m *Manager) Resume(ctx context.Context, pid types.ProcessID) error {
	return m.setState(ctx, pid, types.StateRunning)
}

func (m *Manager) setState(ctx context.Context, pid types.ProcessID, state types.State) error {
	e, ok := m.procs[pid]
	if !ok {
		return fmt.Errorf("%s %d: %w", state, pid, types.ErrUnknownPid)
	}

	if e.info.State != state {
		if p, ok := m.host.(Pauser); ok {
			var err error
			if state == types.StateSuspended {
				err = p.Suspend(ctx, pid)
			} else {
				err = p.Resume(ctx, pid)
			}
			if err != nil {
				return fmt.Errorf("%s %d: %w: %v", state, pid, types.ErrHostFailure, err)
			}
		}
		e.info.State = state
	}

	if m.focus != nil {
		m.focus.Release(pid)
	}
	m.logger.Debug("App state changed",
		zap.Int32("pid", int32(pid)),
		zap.String("state", string(state)),
	)
	return nil
}

// Get returns the table entry for pid
func (m *Manager) Get(pid types.ProcessID) (types.ProcessInfo, bool) {
	e, ok := m.procs[pid]
	if !ok {
		return types.ProcessInfo{}, false
	}
	return e.info, true
}

// Alive reports whether pid is a live application
func (m *Manager) Alive(pid types.ProcessID) bool {
	_, ok := m.procs[pid]
	return ok
}

// Len returns the number of live applications
func (m *Manager) Len() int {
	return len(m.procs)
}

// List returns all entries ordered by pid
func (m *Manager) List() []types.ProcessInfo {
	out := make([]types.ProcessInfo, 0, len(m.procs))
	for _, e := range m.procs {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Stats returns process table statistics
func (m *Manager) Stats() types.Stats {
	s := types.Stats{
		TotalProcesses: len(m.procs),
		Windows:        m.windows.Len(),
		FocusedPID:     types.NoPID,
	}
	for _, e := range m.procs {
		switch e.info.State {
		case types.StateRunning:
			s.RunningProcesses++
		case types.StateSuspended:
			s.SuspendedProcesses++
		}
	}
	return s
}

// reserve returns the lowest free application slot
func (m *Manager) reserve() (types.ProcessID, bool) {
	for i := 0; i < m.maxApps; i++ {
		pid := types.FirstAppPID + types.ProcessID(i)
		if _, used := m.procs[pid]; !used {
			return pid, true
		}
	}
	return types.NoPID, false
}

func (m *Manager) placement(info types.AppInfo) Geometry {
	g := m.geometry
	step := m.windows.Len() * g.Cascade
	x, y := g.X+step, g.Y+step
	if info.Placed {
		x, y = info.X, info.Y
	}
	w, h := g.Width, g.Height
	if info.Width > 0 {
		w = info.Width
	}
	if info.Height > 0 {
		h = info.Height
	}
	return Geometry{X: x, Y: y, Width: w, Height: h}
}
