// Package host defines the process host boundary.
//
// A host runs applications in isolated execution units, carries bytes to
// their mailboxes, and pushes their outbound messages to the kernel through
// a single handler. Two implementations exist: host/local runs apps in this
// process, host/link talks to a remote host over a websocket.
package host

import (
	"context"

	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// Handler receives every message an application sends to the kernel.
// Implementations must not block.
type Handler func(msg types.Message)

// Host is the process host consumed by the kernel
type Host interface {
	// Handshake exchanges protocol versions and returns the host's version
	Handshake(ctx context.Context, version uint32) (uint32, error)
	// Spawn instantiates the app at path under pid. gen is the slot
	// generation the app must stamp on commands that target itself.
	Spawn(ctx context.Context, pid types.ProcessID, gen uint32, path string) (types.AppInfo, error)
	// Terminate stops pid and releases its resources
	Terminate(ctx context.Context, pid types.ProcessID) error
	// Deliver enqueues payload into pid's mailbox without blocking
	Deliver(pid types.ProcessID, msgType types.MsgType, payload []byte) error
	// SetHandler installs the kernel entry point
	SetHandler(h Handler)
}

// Pauser is implemented by hosts that can pause an application
type Pauser interface {
	Suspend(ctx context.Context, pid types.ProcessID) error
	Resume(ctx context.Context, pid types.ProcessID) error
}
