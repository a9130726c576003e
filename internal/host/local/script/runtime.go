package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/shared/id"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// ErrTimeout is returned when a callback overruns Config.Timeout
var ErrTimeout = errors.New("script timeout exceeded")

// App is one script application. Run may be called once.
type App struct {
	name   string
	source string
	config Config
	logger *zap.Logger

	vm     *goja.Runtime
	env    Env
	exited bool

	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates an app from source
func New(name, source string, config Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		name:   name,
		source: source,
		config: config,
		logger: logger,
	}
}

// Load reads a script file and creates an app from it
func Load(name, path string, config Config, logger *zap.Logger) (*App, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	return New(name, string(src), config, logger), nil
}

// Run evaluates the script, calls onCreate, then feeds every message to
// onMessage until the app exits or ctx ends.
func (a *App) Run(ctx context.Context, env Env) error {
	a.env = env
	a.vm = goja.New()
	a.vm.SetMaxCallStackSize(1024)
	a.setupGlobals()

	err := a.loop(ctx, env)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *App) loop(ctx context.Context, env Env) error {
	if _, err := a.call(ctx, func() (goja.Value, error) {
		return a.vm.RunScript(a.name, a.source)
	}); err != nil {
		return err
	}
	if err := a.invoke(ctx, "onCreate"); err != nil {
		return err
	}

	for !a.exited {
		msg, err := env.Next(ctx)
		if err != nil {
			return err
		}
		if err := a.invoke(ctx, "onMessage", a.messageValue(msg)); err != nil {
			return err
		}
	}
	return nil
}

// Console returns the most recent console output
func (a *App) Console() []LogEntry {
	a.consoleMu.Lock()
	defer a.consoleMu.Unlock()
	return append([]LogEntry(nil), a.console...)
}

// invoke calls a global function if the script defined it
func (a *App) invoke(ctx context.Context, name string, args ...goja.Value) error {
	fn, ok := goja.AssertFunction(a.vm.Get(name))
	if !ok {
		return nil
	}
	_, err := a.call(ctx, func() (goja.Value, error) {
		return fn(goja.Undefined(), args...)
	})
	return err
}

// call runs fn with the callback timeout armed
func (a *App) call(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	timer := time.NewTimer(a.config.Timeout)
	defer timer.Stop()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-timer.C:
			a.vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			a.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := fn()
	close(done)
	wg.Wait()
	a.vm.ClearInterrupt()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return nil, fmt.Errorf("%s: %w", a.name, cause)
			}
		}
		return nil, fmt.Errorf("%s: %w", a.name, err)
	}
	return val, nil
}

func (a *App) setupGlobals() {
	a.vm.Set("require", goja.Undefined())
	a.vm.Set("process", goja.Undefined())
	a.vm.Set("module", goja.Undefined())
	a.vm.Set("exports", goja.Undefined())

	if a.config.EnableConsole {
		console := a.vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error"} {
			console.Set(level, a.makeConsoleFunc(level))
		}
		a.vm.Set("console", console)
	}

	fmrb := a.vm.NewObject()
	fmrb.Set("pid", int(a.env.PID()))
	fmrb.Set("spawn", a.spawn)
	fmrb.Set("kill", a.pidCommand(types.CmdKill))
	fmrb.Set("suspend", a.pidCommand(types.CmdSuspend))
	fmrb.Set("resume", a.pidCommand(types.CmdResume))
	fmrb.Set("send", a.send)
	fmrb.Set("exit", func(goja.FunctionCall) goja.Value {
		a.exited = true
		return goja.Undefined()
	})
	a.vm.Set("fmrb", fmrb)
}

func (a *App) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		a.consoleMu.Lock()
		a.console = append(a.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		if limit := a.config.ConsoleLimit; limit > 0 && len(a.console) > limit {
			a.console = a.console[len(a.console)-limit:]
		}
		a.consoleMu.Unlock()

		a.logger.Debug("Script console",
			zap.String("app", a.name),
			zap.String("level", level),
			zap.String("message", msg),
		)
		return goja.Undefined()
	}
}

// spawn(path, {focus: bool}) returns the request id
func (a *App) spawn(call goja.FunctionCall) goja.Value {
	path := call.Argument(0).String()
	if goja.IsUndefined(call.Argument(0)) || path == "" {
		panic(a.vm.NewTypeError("fmrb.spawn: path required"))
	}

	noFocus := false
	if opts := call.Argument(1); !goja.IsUndefined(opts) && !goja.IsNull(opts) {
		if focus := opts.ToObject(a.vm).Get("focus"); focus != nil && !goja.IsUndefined(focus) {
			noFocus = !focus.ToBoolean()
		}
	}

	reqID := id.NewRequestID().String()
	a.control(types.Command{Cmd: types.CmdSpawn, AppName: path, NoFocus: noFocus, RequestID: reqID})
	return a.vm.ToValue(reqID)
}

// pidCommand builds kill/suspend/resume; no argument targets the caller
func (a *App) pidCommand(cmd string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		pid := types.KernelPID
		if arg := call.Argument(0); !goja.IsUndefined(arg) {
			pid = types.ProcessID(arg.ToInteger())
		}
		reqID := id.NewRequestID().String()
		a.control(types.Command{Cmd: cmd, PID: pid, RequestID: reqID})
		return a.vm.ToValue(reqID)
	}
}

func (a *App) control(cmd types.Command) {
	if err := a.env.Control(cmd); err != nil {
		panic(a.vm.NewGoError(err))
	}
}

// send(type, bytes) posts a raw message to the kernel
func (a *App) send(call goja.FunctionCall) goja.Value {
	msgType := types.MsgType(call.Argument(0).ToInteger())
	payload := a.bytes(call.Argument(1))
	if err := a.env.Send(msgType, payload); err != nil {
		panic(a.vm.NewGoError(err))
	}
	return goja.Undefined()
}

// maxSendBytes bounds the array a script may hand to send
const maxSendBytes = 64 << 10

func (a *App) bytes(v goja.Value) []byte {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj := v.ToObject(a.vm)
	length := obj.Get("length")
	if length == nil || goja.IsUndefined(length) || goja.IsNull(length) {
		panic(a.vm.NewTypeError("send: payload must be an array of bytes"))
	}
	n := length.ToInteger()
	if n < 0 || n > maxSendBytes {
		panic(a.vm.NewTypeError("send: payload length %d out of range", n))
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(obj.Get(fmt.Sprint(i)).ToInteger())
	}
	return out
}

// messageValue converts an inbound message to the object onMessage sees
func (a *App) messageValue(msg types.Message) goja.Value {
	payload := make([]interface{}, len(msg.Payload))
	for i, b := range msg.Payload {
		payload[i] = int64(b)
	}
	obj := map[string]interface{}{
		"type":    msg.Type.String(),
		"src":     int64(msg.Src),
		"payload": payload,
	}

	switch msg.Type {
	case types.MsgHIDEvent:
		if ev, err := types.DecodeHID(msg.Payload); err == nil {
			obj["hid"] = map[string]interface{}{
				"subtype": ev.Subtype.String(),
				"button":  int64(ev.Button),
				"x":       int64(ev.X),
				"y":       int64(ev.Y),
				"keycode": int64(ev.Keycode()),
			}
		}
	case types.MsgAppControl:
		if cmd, err := a.env.Codec().Decode(msg.Payload); err == nil {
			obj["control"] = map[string]interface{}{
				"cmd":        cmd.Cmd,
				"request":    cmd.Request,
				"request_id": cmd.RequestID,
				"pid":        int64(cmd.PID),
				"ok":         cmd.OK,
				"error":      cmd.Error,
			}
		}
	}
	return a.vm.ToValue(obj)
}
