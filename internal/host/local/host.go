package local

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/codec"
	"github.com/family-mruby/fmruby-core/internal/host"
	"github.com/family-mruby/fmruby-core/internal/host/catalog"
	"github.com/family-mruby/fmruby-core/internal/host/local/script"
	"github.com/family-mruby/fmruby-core/internal/shared/id"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// DefaultMailboxSize matches the per-app queue depth of the device firmware
const DefaultMailboxSize = 10

// DefaultStopTimeout bounds how long Terminate waits for an app to return
const DefaultStopTimeout = 2 * time.Second

// ErrNoKernel is returned when an app sends before a handler is installed
var ErrNoKernel = errors.New("no kernel attached")

var (
	_ host.Host   = (*Host)(nil)
	_ host.Pauser = (*Host)(nil)
)

// Host runs apps as supervised goroutines in this process
type Host struct {
	mu      sync.RWMutex
	procs   map[types.ProcessID]*proc
	handler host.Handler

	catalog     *catalog.Catalog
	builtins    map[string]Factory
	sup         *suture.Supervisor
	codec       codec.Codec
	mailboxSize int
	scriptCfg   script.Config
	stopTimeout time.Duration
	session     id.SessionID
	logger      *zap.Logger
}

// Option configures a Host
type Option func(*Host)

// WithCatalog sets the app catalog
func WithCatalog(c *catalog.Catalog) Option {
	return func(h *Host) { h.catalog = c }
}

// WithCodec sets the codec apps use for control commands
func WithCodec(c codec.Codec) Option {
	return func(h *Host) { h.codec = c }
}

// WithMailboxSize sets the per-app mailbox depth
func WithMailboxSize(n int) Option {
	return func(h *Host) { h.mailboxSize = n }
}

// WithScriptConfig sets script app limits
func WithScriptConfig(cfg script.Config) Option {
	return func(h *Host) { h.scriptCfg = cfg }
}

// WithStopTimeout sets how long Terminate waits
func WithStopTimeout(d time.Duration) Option {
	return func(h *Host) { h.stopTimeout = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithBuiltin registers or overrides a builtin app factory
func WithBuiltin(name string, f Factory) Option {
	return func(h *Host) { h.builtins[name] = f }
}

// New creates a local host. Apps start once Serve runs.
func New(opts ...Option) *Host {
	h := &Host{
		procs:       make(map[types.ProcessID]*proc),
		builtins:    make(map[string]Factory),
		codec:       codec.MsgPackCodec{},
		mailboxSize: DefaultMailboxSize,
		scriptCfg:   script.DefaultConfig(),
		stopTimeout: DefaultStopTimeout,
		session:     id.NewSessionID(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.catalog == nil {
		h.catalog = catalog.New(catalog.WithLogger(h.logger))
	}
	for name, f := range h.defaultBuiltins() {
		if _, ok := h.builtins[name]; !ok {
			h.builtins[name] = f
		}
	}

	h.sup = suture.New("local-host", suture.Spec{
		EventHook: func(e suture.Event) {
			h.logger.Warn("Supervisor event", zap.String("event", e.String()))
		},
	})
	return h
}

// Catalog returns the app catalog
func (h *Host) Catalog() *catalog.Catalog { return h.catalog }

// Serve runs the app supervisor until ctx ends. Implements suture.Service.
func (h *Host) Serve(ctx context.Context) error {
	h.logger.Info("Local host serving", zap.String("session", h.session.String()))
	return h.sup.Serve(ctx)
}

// String names the host in supervisor logs
func (h *Host) String() string { return "local host " + h.session.String() }

// Handshake implements host.Host
func (h *Host) Handshake(ctx context.Context, version uint32) (uint32, error) {
	if version != types.ProtocolVersion {
		h.logger.Warn("Kernel protocol version differs",
			zap.Uint32("kernel", version),
			zap.Uint32("host", types.ProtocolVersion),
		)
	}
	return types.ProtocolVersion, nil
}

// SetHandler implements host.Host
func (h *Host) SetHandler(fn host.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// Spawn resolves path in the catalog and starts the app under pid
func (h *Host) Spawn(ctx context.Context, pid types.ProcessID, gen uint32, path string) (types.AppInfo, error) {
	m, err := h.catalog.Resolve(path)
	if err != nil {
		return types.AppInfo{}, err
	}

	app, err := h.build(m)
	if err != nil {
		return types.AppInfo{}, fmt.Errorf("%w: %s: %v", types.ErrHostFailure, m.Path, err)
	}

	info := m.Info()
	logger := h.logger.With(zap.Int32("pid", int32(pid)), zap.String("app", info.Name))
	p := &proc{
		pid:  pid,
		info: info,
		app:  app,
		env: &Env{
			pid:     pid,
			gen:     gen,
			info:    info,
			mailbox: NewMailbox[types.Message](h.mailboxSize),
			gate:    newGate(),
			post:    h.post,
			codec:   h.codec,
			logger:  logger,
		},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}

	h.mu.Lock()
	if _, exists := h.procs[pid]; exists {
		h.mu.Unlock()
		return types.AppInfo{}, fmt.Errorf("%w: pid %d already running", types.ErrHostFailure, pid)
	}
	h.procs[pid] = p
	h.mu.Unlock()

	h.sup.Add(p)
	logger.Info("App started", zap.String("path", m.Path))
	return info, nil
}

func (h *Host) build(m catalog.Manifest) (App, error) {
	if m.Builtin != "" {
		f, ok := h.builtins[m.Builtin]
		if !ok {
			return nil, fmt.Errorf("unknown builtin %q", m.Builtin)
		}
		return f(m)
	}
	s, err := script.Load(m.Name, m.ScriptPath(), h.scriptCfg, h.logger.Named("script"))
	if err != nil {
		return nil, err
	}
	return AppFunc(func(ctx context.Context, env *Env) error {
		return s.Run(ctx, env)
	}), nil
}

// Terminate stops pid and waits for its goroutine to return
func (h *Host) Terminate(ctx context.Context, pid types.ProcessID) error {
	h.mu.Lock()
	p, ok := h.procs[pid]
	delete(h.procs, pid)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("terminate %d: %w", pid, types.ErrUnknownPid)
	}

	p.halt()
	if !p.started.Load() {
		return nil
	}

	timer := time.NewTimer(h.stopTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
		p.logger.Info("App terminated")
		return nil
	case <-timer.C:
		return fmt.Errorf("terminate %d: app did not stop within %s", pid, h.stopTimeout)
	case <-ctx.Done():
		return fmt.Errorf("terminate %d: %w", pid, ctx.Err())
	}
}

// Deliver copies payload into pid's mailbox
func (h *Host) Deliver(pid types.ProcessID, msgType types.MsgType, payload []byte) error {
	p, ok := h.lookup(pid)
	if !ok {
		return fmt.Errorf("deliver %d: %w", pid, types.ErrUnknownPid)
	}

	msg := types.Message{
		Type:    msgType,
		Src:     types.KernelPID,
		Dst:     pid,
		Payload: append([]byte(nil), payload...),
	}
	if !p.env.mailbox.TryEnqueue(msg) {
		return fmt.Errorf("deliver %d: %w", pid, types.ErrMailboxFull)
	}
	return nil
}

// Suspend stops pid from receiving until resumed
func (h *Host) Suspend(ctx context.Context, pid types.ProcessID) error {
	p, ok := h.lookup(pid)
	if !ok {
		return fmt.Errorf("suspend %d: %w", pid, types.ErrUnknownPid)
	}
	p.env.gate.pause()
	return nil
}

// Resume lets a suspended app receive again
func (h *Host) Resume(ctx context.Context, pid types.ProcessID) error {
	p, ok := h.lookup(pid)
	if !ok {
		return fmt.Errorf("resume %d: %w", pid, types.ErrUnknownPid)
	}
	p.env.gate.resume()
	return nil
}

// Running returns the pids of live apps in ascending order
func (h *Host) Running() []types.ProcessID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pids := make([]types.ProcessID, 0, len(h.procs))
	for pid := range h.procs {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Suspended reports whether pid is paused
func (h *Host) Suspended(pid types.ProcessID) bool {
	p, ok := h.lookup(pid)
	return ok && p.env.gate.isPaused()
}

func (h *Host) lookup(pid types.ProcessID) (*proc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.procs[pid]
	return p, ok
}

func (h *Host) post(msg types.Message) error {
	h.mu.RLock()
	fn := h.handler
	h.mu.RUnlock()
	if fn == nil {
		return ErrNoKernel
	}
	fn(msg)
	return nil
}

// proc is one supervised app
type proc struct {
	pid    types.ProcessID
	info   types.AppInfo
	app    App
	env    *Env
	logger *zap.Logger

	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// halt asks the app to stop; it will not report its own exit
func (p *proc) halt() {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		p.env.mailbox.Close()
		close(p.stop)
	})
}

// Serve implements suture.Service. Apps are never restarted.
func (p *proc) Serve(ctx context.Context) error {
	p.started.Store(true)
	defer close(p.done)

	select {
	case <-p.stop:
		return suture.ErrDoNotRestart
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := p.run(ctx)
	if err != nil {
		p.logger.Error("App failed", zap.Error(err))
	}

	if !p.stopping.Load() && ctx.Err() == nil {
		// Exited on its own: ask the kernel to reclaim the slot.
		p.logger.Info("App exited")
		if err := p.env.Control(types.Command{Cmd: types.CmdKill}); err != nil {
			p.logger.Warn("Exit notification failed", zap.Error(err))
		}
	}
	return suture.ErrDoNotRestart
}

func (p *proc) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("app panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return p.app.Run(ctx, p.env)
}

func (p *proc) String() string {
	return fmt.Sprintf("app %s[%d]", p.info.Name, p.pid)
}
