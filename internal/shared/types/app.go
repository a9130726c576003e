package types

import (
	"strconv"
	"time"
)

// ProcessID identifies a live application. Small and reused after exit.
type ProcessID int32

const (
	// NoPID stands for "no process" in focus, capture and ownership fields
	NoPID ProcessID = -1
	// KernelPID is the kernel itself
	KernelPID ProcessID = 0
	// HostPID is the process host (source of raw HID events)
	HostPID ProcessID = 1
	// FirstAppPID is the first slot handed out to applications
	FirstAppPID ProcessID = 2
)

// Valid reports whether the id refers to an application slot
func (p ProcessID) Valid() bool {
	return p >= FirstAppPID
}

// String returns the decimal form, or "none" for NoPID
func (p ProcessID) String() string {
	if p == NoPID {
		return "none"
	}
	return strconv.Itoa(int(p))
}

// State represents process lifecycle states
type State string

const (
	StateRunning   State = "running"
	StateSuspended State = "suspended"
)

// AppType classifies applications the way the process table does
type AppType string

const (
	AppTypeKernel AppType = "kernel"
	AppTypeSystem AppType = "system"
	AppTypeUser   AppType = "user"
)

// AppInfo describes an application the host has instantiated
type AppInfo struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     AppType     `json:"type"`
	Headless bool        `json:"headless"`
	Placed   bool        `json:"placed"`
	X        int         `json:"x"`
	Y        int         `json:"y"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	Flags    WindowFlags `json:"flags"`
}

// ProcessInfo is one row of the process table
type ProcessInfo struct {
	PID       ProcessID `json:"pid"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Type      AppType   `json:"type"`
	State     State     `json:"state"`
	Headless  bool      `json:"headless"`
	Gen       uint32    `json:"gen"` // Slot generation, bumped on every reuse
	StartedAt time.Time `json:"started_at"`
}

// Stats contains process table statistics
type Stats struct {
	TotalProcesses     int       `json:"total_processes"`
	RunningProcesses   int       `json:"running_processes"`
	SuspendedProcesses int       `json:"suspended_processes"`
	Windows            int       `json:"windows"`
	FocusedPID         ProcessID `json:"focused_pid"`
}
