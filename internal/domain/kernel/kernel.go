// Package kernel drives the resident control loop.
//
// A Kernel owns the window registry, message bus, process table and input
// router. Host callbacks and outer surfaces never touch that state directly:
// messages go through Post and arbitrary work through Submit, and both are
// drained on the kernel goroutine once per tick.
package kernel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/family-mruby/fmruby-core/internal/codec"
	"github.com/family-mruby/fmruby-core/internal/domain/bus"
	"github.com/family-mruby/fmruby-core/internal/domain/input"
	"github.com/family-mruby/fmruby-core/internal/domain/process"
	"github.com/family-mruby/fmruby-core/internal/domain/window"
	"github.com/family-mruby/fmruby-core/internal/host"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/monitoring"
	"github.com/family-mruby/fmruby-core/internal/shared/id"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// State is the loop state
type State int32

const (
	StateReady State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "ready"
}

// Config holds loop settings
type Config struct {
	Tick             time.Duration
	HandshakeTimeout time.Duration
	InitialApps      []string
	SpawnRate        rate.Limit // spawns per second per requesting pid
	SpawnBurst       int
	StatsWindow      int // ticks per statistics window
	InboxLimit       int
}

// DefaultConfig returns the stock loop settings
func DefaultConfig() Config {
	return Config{
		Tick:             16 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
		InitialApps:      []string{"system/gui_app"},
		SpawnRate:        2,
		SpawnBurst:       4,
		StatsWindow:      256,
		InboxLimit:       1024,
	}
}

// Task is work run on the kernel goroutine
type Task func(k *Kernel) error

type task struct {
	fn   Task
	done chan error
}

// Kernel is the context object for one kernel instance
type Kernel struct {
	id      id.KernelID
	cfg     Config
	host    host.Host
	windows *window.Registry
	bus     *bus.Bus
	procs   *process.Manager
	router  *input.Router

	inbox *queue[types.Message]
	tasks *queue[task]

	limiters map[types.ProcessID]*rate.Limiter
	stats    *tickStats

	state   atomic.Int32
	ctx     context.Context
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// Option configures a Kernel
type Option func(*options)

type options struct {
	cfg        Config
	codec      codec.Codec
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	windowOpts []window.Option
	procOpts   []process.Option
	inputOpts  []input.Option
	now        func() time.Time
}

// WithConfig sets loop settings
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithCodec sets the control command codec
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics set
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithWindowOptions passes options to the window registry
func WithWindowOptions(opts ...window.Option) Option {
	return func(o *options) { o.windowOpts = append(o.windowOpts, opts...) }
}

// WithProcessOptions passes options to the process table
func WithProcessOptions(opts ...process.Option) Option {
	return func(o *options) { o.procOpts = append(o.procOpts, opts...) }
}

// WithInputOptions passes options to the input router
func WithInputOptions(opts ...input.Option) Option {
	return func(o *options) { o.inputOpts = append(o.inputOpts, opts...) }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New wires a kernel around h. The host handler is installed immediately.
func New(h host.Host, opts ...Option) *Kernel {
	o := options{
		cfg:    DefaultConfig(),
		codec:  codec.MsgPackCodec{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	windows := window.NewRegistry(o.windowOpts...)
	b := bus.New(h, o.codec, o.logger.Named("bus"), o.metrics)

	procOpts := append([]process.Option{
		process.WithLogger(o.logger.Named("process")),
		process.WithMetrics(o.metrics),
		process.WithClock(o.now),
	}, o.procOpts...)
	procs := process.NewManager(h, windows, procOpts...)
	b.SetDirectory(procs)

	inputOpts := append([]input.Option{
		input.WithLogger(o.logger.Named("input")),
		input.WithMetrics(o.metrics),
	}, o.inputOpts...)
	router := input.NewRouter(windows, b, inputOpts...)
	procs.SetFocusController(router)

	k := &Kernel{
		id:       id.NewKernelID(),
		cfg:      o.cfg,
		host:     h,
		windows:  windows,
		bus:      b,
		procs:    procs,
		router:   router,
		inbox:    newQueue[types.Message](o.cfg.InboxLimit),
		tasks:    newQueue[task](0),
		limiters: make(map[types.ProcessID]*rate.Limiter),
		stats:    newTickStats(o.cfg.StatsWindow),
		ctx:      context.Background(),
		logger:   o.logger,
		metrics:  o.metrics,
		now:      o.now,
	}

	b.Handle(types.MsgAppControl, k.handleControl)
	b.Handle(types.MsgHIDEvent, k.handleHID)
	b.Handle(types.MsgAppGFX, k.handleOpaque)
	b.Handle(types.MsgAppAudio, k.handleOpaque)
	h.SetHandler(k.Post)

	return k
}

// ID returns the kernel instance ID
func (k *Kernel) ID() id.KernelID { return k.id }

// State returns the loop state. Safe from any goroutine.
func (k *Kernel) State() State { return State(k.state.Load()) }

// Windows returns the window registry. Kernel goroutine only.
func (k *Kernel) Windows() *window.Registry { return k.windows }

// Processes returns the process table. Kernel goroutine only.
func (k *Kernel) Processes() *process.Manager { return k.procs }

// Router returns the input router. Kernel goroutine only.
func (k *Kernel) Router() *input.Router { return k.router }

// Bus returns the message bus. Kernel goroutine only.
func (k *Kernel) Bus() *bus.Bus { return k.bus }

// Context returns the context host calls made from the loop should use
func (k *Kernel) Context() context.Context { return k.ctx }

// Post queues msg for the next tick. Safe from any goroutine; never blocks.
func (k *Kernel) Post(msg types.Message) {
	if !k.inbox.push(msg) {
		k.logger.Warn("Kernel inbox full, dropping message",
			zap.Int32("src", int32(msg.Src)),
			zap.Stringer("type", msg.Type),
		)
		k.metrics.RecordDrop(msg.Type.String(), "inbox_full")
	}
}

// Submit runs fn on the kernel goroutine at the next tick and waits for it.
// If ctx ends first the task may still run later; its result is discarded.
func (k *Kernel) Submit(ctx context.Context, fn Task) error {
	t := task{fn: fn, done: make(chan error, 1)}
	k.tasks.push(t)

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("kernel task: %w", ctx.Err())
	}
}

// Query runs fn on the kernel goroutine and returns its value
func Query[T any](ctx context.Context, k *Kernel, fn func(k *Kernel) (T, error)) (T, error) {
	out := make(chan T, 1)
	err := k.Submit(ctx, func(k *Kernel) error {
		v, err := fn(k)
		out <- v
		return err
	})

	// A timed-out task may still run later, so the value is only read
	// once it has been handed over.
	select {
	case v := <-out:
		return v, err
	default:
		var zero T
		return zero, err
	}
}

// Boot performs the version handshake and spawns the initial apps. A failed
// handshake returns ErrProtocolMismatch; failed initial spawns are logged.
func (k *Kernel) Boot(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, k.cfg.HandshakeTimeout)
	defer cancel()

	version, err := k.host.Handshake(hctx, types.ProtocolVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrProtocolMismatch, err)
	}
	if version != types.ProtocolVersion {
		return fmt.Errorf("%w: host speaks %d, kernel speaks %d", types.ErrProtocolMismatch, version, types.ProtocolVersion)
	}
	k.logger.Info("Host handshake complete", zap.Uint32("version", version))

	for _, app := range k.cfg.InitialApps {
		pid, err := k.procs.Spawn(ctx, app, true)
		if err != nil {
			k.logger.Error("Initial app failed to start", zap.String("app", app), zap.Error(err))
			continue
		}
		k.logger.Info("Initial app started", zap.String("app", app), zap.Int32("pid", int32(pid)))
	}
	return nil
}

// Run ticks until ctx is cancelled
func (k *Kernel) Run(ctx context.Context) error {
	if !k.state.CompareAndSwap(int32(StateReady), int32(StateRunning)) {
		return fmt.Errorf("kernel %s already running", k.id)
	}
	defer k.state.Store(int32(StateReady))
	k.ctx = ctx

	k.logger.Info("Kernel loop running",
		zap.String("kernel_id", k.id.String()),
		zap.Duration("tick", k.cfg.Tick),
	)

	ticker := time.NewTicker(k.cfg.Tick)
	defer ticker.Stop()

	for {
		k.Step()
		select {
		case <-ctx.Done():
			k.logger.Info("Kernel loop stopped")
			k.failPending(ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}

// Serve implements suture.Service
func (k *Kernel) Serve(ctx context.Context) error {
	return k.Run(ctx)
}

// String names the service in supervisor logs
func (k *Kernel) String() string {
	return "kernel " + k.id.String()
}

// Step runs one tick of work: every queued message, then every submitted
// task, then housekeeping. It returns the number of messages dispatched.
func (k *Kernel) Step() int {
	start := k.now()

	msgs := k.inbox.drain()
	for _, msg := range msgs {
		k.bus.OnMessage(msg)
	}

	for _, t := range k.tasks.drain() {
		t.done <- k.runTask(t.fn)
	}

	k.housekeeping(k.now().Sub(start), len(msgs))
	return len(msgs)
}

func (k *Kernel) runTask(fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("Kernel task panicked", zap.Any("panic", r))
			err = fmt.Errorf("kernel task panicked: %v", r)
		}
	}()
	return fn(k)
}

// failPending answers tasks still queued at shutdown
func (k *Kernel) failPending(err error) {
	for _, t := range k.tasks.drain() {
		t.done <- err
	}
}

func (k *Kernel) handleHID(msg types.Message, payload types.Payload) {
	if msg.Src != types.HostPID && msg.Src != types.KernelPID {
		k.logger.Warn("HID event from application ignored", zap.Int32("src", int32(msg.Src)))
		k.metrics.RecordDrop(msg.Type.String(), "bad_source")
		return
	}
	k.router.Handle(payload.(types.HIDPayload).Event)
}

func (k *Kernel) handleOpaque(msg types.Message, payload types.Payload) {
	k.logger.Debug("Unsupported message dropped",
		zap.Int32("src", int32(msg.Src)),
		zap.Stringer("type", msg.Type),
	)
	k.metrics.RecordDrop(msg.Type.String(), "unsupported")
}
