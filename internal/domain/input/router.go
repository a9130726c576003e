// Package input routes pointer and key events to applications.
//
// The Router hit-tests pointer presses against the window list cache, keeps
// the focus target, and drives the exclusive drag/resize capture. It runs on
// the kernel goroutine and is not safe for concurrent use.
package input

import (
	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/domain/window"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/monitoring"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// Default hot-zone sizes
const (
	DefaultTitleBarHeight = 11
	DefaultResizeHandle   = 10
)

// Sender forwards bytes to an application
type Sender interface {
	Send(dst types.ProcessID, msgType types.MsgType, payload []byte) bool
}

// Router is the input state machine
type Router struct {
	windows    *window.Registry
	cache      *window.ListCache
	bus        Sender
	capture    CaptureState
	focus      FocusState
	mouseOwner types.ProcessID

	titleBar int
	handle   int

	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// Option configures a Router
type Option func(*Router)

// WithHotZones overrides the title bar height and resize handle size
func WithHotZones(titleBar, handle int) Option {
	return func(r *Router) {
		if titleBar > 0 {
			r.titleBar = titleBar
		}
		if handle > 0 {
			r.handle = handle
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics adds capture metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates an idle router over windows
func NewRouter(windows *window.Registry, bus Sender, opts ...Option) *Router {
	r := &Router{
		windows:    windows,
		cache:      windows.Cache(),
		bus:        bus,
		capture:    NewCaptureState(),
		focus:      FocusState{HIDTarget: types.NoPID},
		mouseOwner: types.NoPID,
		titleBar:   DefaultTitleBarHeight,
		handle:     DefaultResizeHandle,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes one decoded HID event
func (r *Router) Handle(ev types.HIDEvent) {
	switch ev.Subtype {
	case types.HIDButtonDown:
		r.down(ev)
	case types.HIDMouseMove:
		r.move(ev)
	case types.HIDButtonUp:
		r.up(ev)
	case types.HIDKeyDown, types.HIDKeyUp:
		r.key(ev)
	default:
		r.logger.Debug("Unknown HID subtype", zap.Uint8("subtype", uint8(ev.Subtype)))
	}
}

// HandleRaw decodes payload and processes it. Short frames are dropped
// before the window cache is touched.
func (r *Router) HandleRaw(payload []byte) bool {
	ev, err := types.DecodeHID(payload)
	if err != nil {
		r.logger.Debug("Dropping HID frame", zap.Error(err))
		return false
	}
	r.Handle(ev)
	return true
}

func (r *Router) down(ev types.HIDEvent) {
	x, y := int(ev.X), int(ev.Y)

	before := r.cache.Refreshes()
	w, ok := r.cache.HitTest(x, y)
	if r.cache.Refreshes() != before {
		r.metrics.RecordCacheRefresh()
	}
	if !ok {
		r.logger.Debug("Press outside any window", zap.Int("x", x), zap.Int("y", y))
		return
	}

	target := w.PID
	r.windows.BringToFront(target)
	r.focus.Set(target)

	rx, ry := x-w.X, y-w.Y
	switch {
	case w.Resizable() && rx >= w.Width-r.handle && ry >= w.Height-r.handle:
		r.capture.StartResize(target, w.Width, w.Height, x, y)
		r.metrics.RecordCapture(ModeResize.String())
	case w.Draggable() && ry < r.titleBar:
		r.capture.StartDrag(target, rx, ry)
		r.metrics.RecordCapture(ModeDrag.String())
	default:
		r.capture.Reset()
	}

	r.logger.Debug("Pointer press",
		zap.Int32("pid", int32(target)),
		zap.Stringer("mode", r.capture.Mode),
		zap.Int("rx", rx),
		zap.Int("ry", ry),
	)

	r.forward(target, ev)
	r.mouseOwner = target
}

func (r *Router) move(ev types.HIDEvent) {
	x, y := int(ev.X), int(ev.Y)

	switch r.capture.Mode {
	case ModeResize:
		minW, minH := r.windows.MinSize()
		c := r.capture
		width := max(c.StartWidth+(x-c.AnchorX), minW)
		height := max(c.StartHeight+(y-c.AnchorY), minH)
		if !r.windows.Resize(c.Target, width, height) {
			r.abort()
		}
	case ModeDrag:
		c := r.capture
		if !r.windows.Move(c.Target, x-c.OffsetX, y-c.OffsetY) {
			r.abort()
		}
	}

	switch {
	case r.capture.Active():
		r.forward(r.capture.Target, ev)
	case r.focus.Valid():
		r.forward(r.focus.HIDTarget, ev)
	}
}

func (r *Router) up(ev types.HIDEvent) {
	dst := r.mouseOwner
	if r.capture.Active() {
		dst = r.capture.Target
	}
	if dst != types.NoPID {
		r.forward(dst, ev)
	}

	if r.capture.Active() {
		r.metrics.RecordCapture(ModeNone.String())
	}
	r.capture.Reset()
	r.mouseOwner = types.NoPID
}

func (r *Router) key(ev types.HIDEvent) {
	if !r.focus.Valid() {
		return
	}
	r.forward(r.focus.HIDTarget, ev)
}

// abort drops a capture whose window vanished
func (r *Router) abort() {
	r.logger.Warn("Capture target lost",
		zap.Int32("pid", int32(r.capture.Target)),
		zap.Stringer("mode", r.capture.Mode),
	)
	r.capture.Reset()
	r.metrics.RecordCapture(ModeNone.String())
}

func (r *Router) forward(dst types.ProcessID, ev types.HIDEvent) {
	r.bus.Send(dst, types.MsgHIDEvent, ev.Bytes())
}

// SetFocus makes pid the HID target
func (r *Router) SetFocus(pid types.ProcessID) {
	r.focus.Set(pid)
}

// Release forgets pid as focus target, capture target and mouse-down owner
func (r *Router) Release(pid types.ProcessID) {
	if r.focus.HIDTarget == pid {
		r.focus.Clear()
	}
	if r.capture.Target == pid {
		r.capture.Reset()
	}
	if r.mouseOwner == pid {
		r.mouseOwner = types.NoPID
	}
}

// Focus returns the current HID target, NoPID when unset
func (r *Router) Focus() types.ProcessID {
	return r.focus.HIDTarget
}

// Capture returns a copy of the capture state
func (r *Router) Capture() CaptureState {
	return r.capture
}

// MouseOwner returns the pid that received the last press
func (r *Router) MouseOwner() types.ProcessID {
	return r.mouseOwner
}

// Snapshot returns a serializable view of the router state
func (r *Router) Snapshot() types.InputSnapshot {
	return types.InputSnapshot{
		Mode:       r.capture.Mode.String(),
		Target:     r.capture.Target,
		FocusedPID: r.focus.HIDTarget,
		MouseOwner: r.mouseOwner,
	}
}
