package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/codec"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// ErrMailboxClosed is returned by Next after the app was terminated
var ErrMailboxClosed = errors.New("mailbox closed")

// Env is a running app's view of the host
type Env struct {
	pid     types.ProcessID
	gen     uint32
	info    types.AppInfo
	mailbox *Mailbox[types.Message]
	gate    *gate
	post    func(types.Message) error
	codec   codec.Codec
	logger  *zap.Logger
}

// PID returns the app's process id
func (e *Env) PID() types.ProcessID { return e.pid }

// Info returns the spawn-time description
func (e *Env) Info() types.AppInfo { return e.info }

// Codec returns the control command codec
func (e *Env) Codec() codec.Codec { return e.codec }

// Logger returns a logger tagged with the app
func (e *Env) Logger() *zap.Logger { return e.logger }

// Next waits for the next mailbox message. A suspended app does not
// receive until resumed.
func (e *Env) Next(ctx context.Context) (types.Message, error) {
	if err := e.gate.wait(ctx); err != nil {
		return types.Message{}, err
	}
	select {
	case msg := <-e.mailbox.C():
		if err := e.gate.wait(ctx); err != nil {
			return types.Message{}, err
		}
		return msg, nil
	case <-e.mailbox.Done():
		return types.Message{}, ErrMailboxClosed
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}
}

// Send posts a message from this app to the kernel
func (e *Env) Send(msgType types.MsgType, payload []byte) error {
	return e.post(types.Message{
		Type:    msgType,
		Src:     e.pid,
		Dst:     types.KernelPID,
		Payload: payload,
	})
}

// Control encodes cmd and posts it as APP_CONTROL, stamped with the
// slot generation so the kernel can tell this app from a later occupant.
func (e *Env) Control(cmd types.Command) error {
	cmd.Gen = e.gen
	b, err := e.codec.Encode(cmd)
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd.Cmd, err)
	}
	return e.Send(types.MsgAppControl, b)
}

// gate blocks receivers while an app is suspended
type gate struct {
	mu     sync.Mutex
	paused bool
	open   chan struct{}
}

func newGate() *gate {
	ch := make(chan struct{})
	close(ch)
	return &gate{open: ch}
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.open = make(chan struct{})
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.open)
	}
}

func (g *gate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
