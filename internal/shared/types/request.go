package types

// SpawnRequest represents an admin request to start an application
type SpawnRequest struct {
	AppPath string `json:"app_path" binding:"required"`
	NoFocus bool   `json:"no_focus,omitempty"`
}

// HIDRequest injects a pointer or key event as if it came from the host
type HIDRequest struct {
	Subtype HIDSubtype `json:"subtype" binding:"required"`
	Button  uint8      `json:"button"`
	X       uint16     `json:"x"`
	Y       uint16     `json:"y"`
}

// Event converts the request into a HID event
func (r HIDRequest) Event() HIDEvent {
	return HIDEvent{Subtype: r.Subtype, Button: r.Button, X: r.X, Y: r.Y}
}

// InputSnapshot is a read-only view of router state
type InputSnapshot struct {
	Mode       string    `json:"mode"`
	Target     ProcessID `json:"target"`
	FocusedPID ProcessID `json:"focused_pid"`
	MouseOwner ProcessID `json:"mouse_owner"`
}
