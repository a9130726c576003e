package local

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/host/catalog"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// App is the body of a hosted application. Returning ends the app.
type App interface {
	Run(ctx context.Context, env *Env) error
}

// AppFunc adapts a function to App
type AppFunc func(ctx context.Context, env *Env) error

// Run calls f
func (f AppFunc) Run(ctx context.Context, env *Env) error { return f(ctx, env) }

// Factory builds an app instance for a manifest
type Factory func(m catalog.Manifest) (App, error)

func (h *Host) defaultBuiltins() map[string]Factory {
	return map[string]Factory{
		"gui_app": func(catalog.Manifest) (App, error) { return &GUIApp{}, nil },
		"shell": func(catalog.Manifest) (App, error) {
			return NewShell(h.catalog.Expand), nil
		},
	}
}

// GUIApp is the system desktop app. It consumes the input routed to it.
type GUIApp struct{}

// Run implements App
func (g *GUIApp) Run(ctx context.Context, env *Env) error {
	for {
		msg, err := env.Next(ctx)
		if err != nil {
			return ignoreStop(ctx, err)
		}
		if msg.Type != types.MsgHIDEvent {
			continue
		}
		ev, err := types.DecodeHID(msg.Payload)
		if err != nil {
			continue
		}
		env.Logger().Debug("Desktop input",
			zap.Stringer("subtype", ev.Subtype),
			zap.Bool("pointer", ev.Subtype.Pointer()),
		)
	}
}

// Shell line editing limits
const (
	MaxLineLength = 100
	HistorySize   = 32
)

// Shell is the line-oriented command app. It reads key-down frames, and on
// Enter runs one of: run <app>, kill <pid>, suspend <pid>, resume <pid>,
// help, exit.
type Shell struct {
	expand func(string) string

	mu      sync.Mutex
	line    []byte
	history []string
}

// NewShell creates a shell. expand resolves app shorthands like mruby.app.
func NewShell(expand func(string) string) *Shell {
	if expand == nil {
		expand = func(s string) string { return s }
	}
	return &Shell{expand: expand}
}

// Run implements App
func (s *Shell) Run(ctx context.Context, env *Env) error {
	for {
		msg, err := env.Next(ctx)
		if err != nil {
			return ignoreStop(ctx, err)
		}

		switch msg.Type {
		case types.MsgHIDEvent:
			ev, err := types.DecodeHID(msg.Payload)
			if err != nil || ev.Subtype != types.HIDKeyDown {
				continue
			}
			if done := s.key(env, ev.Keycode()); done {
				return nil
			}
		case types.MsgAppControl:
			cmd, err := env.Codec().Decode(msg.Payload)
			if err != nil || cmd.Cmd != types.CmdResult {
				continue
			}
			s.result(cmd)
		}
	}
}

// History returns the shell's output lines
func (s *Shell) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// key edits the current line; it reports whether the shell should exit
func (s *Shell) key(env *Env, ch uint8) bool {
	s.mu.Lock()
	switch {
	case ch == '\n' || ch == '\r':
		line := string(s.line)
		s.line = s.line[:0]
		s.appendLocked("> " + line)
		s.mu.Unlock()
		return s.execute(env, line)
	case ch == '\b':
		if len(s.line) > 0 {
			s.line = s.line[:len(s.line)-1]
		}
	case ch >= 32 && ch <= 126:
		if len(s.line) < MaxLineLength {
			s.line = append(s.line, ch)
		}
	}
	s.mu.Unlock()
	return false
}

func (s *Shell) execute(env *Env, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := fields[0], fields[1:]

	var err error
	switch name {
	case "run":
		if len(args) == 0 {
			s.print("Error: run requires an app path")
			return false
		}
		path := s.expand(strings.Join(args, " "))
		err = env.Control(types.Command{Cmd: types.CmdSpawn, AppName: path})
	case types.CmdKill, types.CmdSuspend, types.CmdResume:
		pid, perr := parsePID(args)
		if perr != nil {
			s.print("Error: " + perr.Error())
			return false
		}
		err = env.Control(types.Command{Cmd: name, PID: pid})
	case "help":
		s.print(
			"Available commands:",
			"  run <app_path> - Launch an application",
			"  kill <pid> - Stop an application",
			"  suspend <pid> / resume <pid> - Pause or continue an application",
			"  exit - Close the shell",
		)
	case "exit":
		return true
	default:
		s.print("Unknown command: "+name, "Type 'help' for available commands")
	}

	if err != nil {
		s.print("Error: " + err.Error())
		env.Logger().Warn("Shell command failed", zap.String("command", name), zap.Error(err))
	}
	return false
}

func (s *Shell) result(cmd types.Command) {
	if !cmd.OK {
		s.print(fmt.Sprintf("Error: %s failed: %s", cmd.Request, cmd.Error))
		return
	}
	switch cmd.Request {
	case types.CmdSpawn:
		s.print(fmt.Sprintf("Spawned: pid %d", cmd.PID))
	default:
		s.print(fmt.Sprintf("%s: pid %d", cmd.Request, cmd.PID))
	}
}

func (s *Shell) print(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lines {
		s.appendLocked(l)
	}
}

func (s *Shell) appendLocked(line string) {
	s.history = append(s.history, line)
	if len(s.history) > HistorySize {
		s.history = s.history[len(s.history)-HistorySize:]
	}
}

func parsePID(args []string) (types.ProcessID, error) {
	if len(args) != 1 {
		return types.NoPID, errors.New("expected one pid")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < int(types.FirstAppPID) {
		return types.NoPID, fmt.Errorf("invalid pid %q", args[0])
	}
	return types.ProcessID(n), nil
}

// ignoreStop treats termination as a clean exit
func ignoreStop(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, ErrMailboxClosed) {
		return nil
	}
	return err
}
