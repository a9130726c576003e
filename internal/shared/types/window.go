package types

// WindowFlags controls which pointer interactions a window accepts
type WindowFlags uint8

const (
	WindowResizable WindowFlags = 1 << iota
	WindowDraggable

	DefaultWindowFlags = WindowResizable | WindowDraggable
)

// Has reports whether all bits of f are set
func (w WindowFlags) Has(f WindowFlags) bool {
	return w&f == f
}

// Window is the on-screen surface owned by one live application
type Window struct {
	PID     ProcessID   `json:"pid"`
	AppName string      `json:"app_name"`
	X       int         `json:"x"`
	Y       int         `json:"y"`
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	ZOrder  int         `json:"z_order"`
	Flags   WindowFlags `json:"flags"`
}

// Contains reports whether (x, y) lies in [X, X+Width) x [Y, Y+Height)
func (w Window) Contains(x, y int) bool {
	return x >= w.X && x < w.X+w.Width &&
		y >= w.Y && y < w.Y+w.Height
}

// Resizable reports whether the window accepts resize captures
func (w Window) Resizable() bool { return w.Flags.Has(WindowResizable) }

// Draggable reports whether the window accepts drag captures
func (w Window) Draggable() bool { return w.Flags.Has(WindowDraggable) }
