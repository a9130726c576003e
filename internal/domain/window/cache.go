package window

import "github.com/family-mruby/fmruby-core/internal/shared/types"

// ListCache is a dirty-flagged snapshot of a Registry used for hit-testing.
// Registry mutations invalidate it; readers refresh on demand.
type ListCache struct {
	reg       *Registry
	windows   []types.Window
	dirty     bool
	refreshes uint64
}

func newListCache(reg *Registry) *ListCache {
	return &ListCache{reg: reg, dirty: true}
}

// Invalidate marks the snapshot stale
func (c *ListCache) Invalidate() {
	c.dirty = true
}

// Dirty reports whether the next read will refresh
func (c *ListCache) Dirty() bool {
	return c.dirty
}

// Refresh rebuilds the snapshot if it is stale
func (c *ListCache) Refresh() {
	if !c.dirty {
		return
	}
	c.windows = c.reg.Snapshot()
	c.dirty = false
	c.refreshes++
}

// Windows returns the cached windows ordered by ascending z, refreshing
// first if needed. The slice must not be modified.
func (c *ListCache) Windows() []types.Window {
	c.Refresh()
	return c.windows
}

// Refreshes counts how many times the snapshot was rebuilt
func (c *ListCache) Refreshes() uint64 {
	return c.refreshes
}

// HitTest returns the front-most window containing (x, y)
func (c *ListCache) HitTest(x, y int) (types.Window, bool) {
	windows := c.Windows()
	for i := len(windows) - 1; i >= 0; i-- {
		if windows[i].Contains(x, y) {
			return windows[i], true
		}
	}
	return types.Window{}, false
}
