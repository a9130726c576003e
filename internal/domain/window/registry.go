// Package window holds the authoritative table of on-screen windows.
//
// The registry is owned by the kernel goroutine and is not safe for
// concurrent use. Every mutation marks the attached list cache dirty.
package window

import (
	"fmt"
	"sort"

	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// Default minimum window size
const (
	MinWidth  = 50
	MinHeight = 50
)

// Registry maps pids to windows and keeps z-order unique
type Registry struct {
	windows   map[types.ProcessID]*types.Window
	minWidth  int
	minHeight int
	cache     *ListCache
}

// Option configures a Registry
type Option func(*Registry)

// WithMinSize overrides the geometry floor
func WithMinSize(w, h int) Option {
	return func(r *Registry) {
		if w > 0 {
			r.minWidth = w
		}
		if h > 0 {
			r.minHeight = h
		}
	}
}

// NewRegistry creates an empty registry with its list cache
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		windows:   make(map[types.ProcessID]*types.Window),
		minWidth:  MinWidth,
		minHeight: MinHeight,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = newListCache(r)
	return r
}

// Cache returns the list cache bound to this registry
func (r *Registry) Cache() *ListCache {
	return r.cache
}

// Register creates the window for pid on top of the stack
func (r *Registry) Register(pid types.ProcessID, appName string, x, y, width, height int, flags types.WindowFlags) (types.Window, error) {
	if _, exists := r.windows[pid]; exists {
		return types.Window{}, fmt.Errorf("%w: %d", types.ErrDuplicatePid, pid)
	}

	w := &types.Window{
		PID:     pid,
		AppName: appName,
		X:       x,
		Y:       y,
		Width:   r.clampWidth(width),
		Height:  r.clampHeight(height),
		ZOrder:  r.nextZ(),
		Flags:   flags,
	}
	r.windows[pid] = w
	r.cache.Invalidate()
	return *w, nil
}

// Unregister removes the window for pid. Unknown pids are ignored.
func (r *Registry) Unregister(pid types.ProcessID) {
	if _, exists := r.windows[pid]; !exists {
		return
	}
	delete(r.windows, pid)
	r.cache.Invalidate()
}

// Move sets the top-left corner
func (r *Registry) Move(pid types.ProcessID, x, y int) bool {
	w, ok := r.windows[pid]
	if !ok {
		return false
	}
	w.X, w.Y = x, y
	r.cache.Invalidate()
	return true
}

// Resize sets the size, clamped to the floor
func (r *Registry) Resize(pid types.ProcessID, width, height int) bool {
	w, ok := r.windows[pid]
	if !ok {
		return false
	}
	w.Width = r.clampWidth(width)
	w.Height = r.clampHeight(height)
	r.cache.Invalidate()
	return true
}

// BringToFront raises pid above every other window
func (r *Registry) BringToFront(pid types.ProcessID) bool {
	w, ok := r.windows[pid]
	if !ok {
		return false
	}
	w.ZOrder = r.nextZ()
	r.cache.Invalidate()
	return true
}

// Get returns a copy of the window for pid
func (r *Registry) Get(pid types.ProcessID) (types.Window, bool) {
	w, ok := r.windows[pid]
	if !ok {
		return types.Window{}, false
	}
	return *w, true
}

// Len returns the number of windows
func (r *Registry) Len() int {
	return len(r.windows)
}

// Snapshot returns copies of all windows ordered by ascending z
func (r *Registry) Snapshot() []types.Window {
	out := make([]types.Window, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ZOrder < out[j].ZOrder
	})
	return out
}

// MinSize returns the geometry floor
func (r *Registry) MinSize() (int, int) {
	return r.minWidth, r.minHeight
}

// nextZ is the current maximum plus one, 1 when empty
func (r *Registry) nextZ() int {
	top := 0
	for _, w := range r.windows {
		top = max(top, w.ZOrder)
	}
	return top + 1
}

func (r *Registry) clampWidth(w int) int {
	return max(w, r.minWidth)
}

func (r *Registry) clampHeight(h int) int {
	return max(h, r.minHeight)
}
