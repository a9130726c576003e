package input

import "github.com/family-mruby/fmruby-core/internal/shared/types"

// Mode is the pointer capture mode
type Mode int

const (
	// ModeNone means pointer events follow focus
	ModeNone Mode = iota
	// ModeDrag means a window is being moved by its title bar
	ModeDrag
	// ModeResize means a window is being resized by its corner handle
	ModeResize
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeDrag:
		return "drag"
	case ModeResize:
		return "resize"
	default:
		return "unknown"
	}
}

// CaptureState is the exclusive drag/resize state.
// Mode is ModeNone exactly when Target is NoPID.
type CaptureState struct {
	Mode   Mode
	Target types.ProcessID

	// Drag data: pointer offset inside the window
	OffsetX, OffsetY int

	// Resize data: size and pointer position when the capture started
	StartWidth, StartHeight int
	AnchorX, AnchorY        int
}

// NewCaptureState returns an idle capture
func NewCaptureState() CaptureState {
	return CaptureState{Target: types.NoPID}
}

// Active reports whether a window is captured
func (c CaptureState) Active() bool {
	return c.Mode != ModeNone
}

// Reset clears the capture and all working data
func (c *CaptureState) Reset() {
	*c = NewCaptureState()
}

// StartDrag enters drag mode on target
func (c *CaptureState) StartDrag(target types.ProcessID, offsetX, offsetY int) {
	*c = CaptureState{Mode: ModeDrag, Target: target, OffsetX: offsetX, OffsetY: offsetY}
}

// StartResize enters resize mode on target
func (c *CaptureState) StartResize(target types.ProcessID, width, height, anchorX, anchorY int) {
	*c = CaptureState{
		Mode:        ModeResize,
		Target:      target,
		StartWidth:  width,
		StartHeight: height,
		AnchorX:     anchorX,
		AnchorY:     anchorY,
	}
}

// FocusState holds the default HID target
type FocusState struct {
	HIDTarget types.ProcessID
}

// Set makes pid the HID target
func (f *FocusState) Set(pid types.ProcessID) {
	f.HIDTarget = pid
}

// Clear unsets the HID target
func (f *FocusState) Clear() {
	f.HIDTarget = types.NoPID
}

// Valid reports whether a HID target is set
func (f FocusState) Valid() bool {
	return f.HIDTarget != types.NoPID
}
