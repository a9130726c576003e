package kernel

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// ErrSpawnThrottled is returned when a pid asks for spawns too quickly
var ErrSpawnThrottled = errors.New("spawn rate exceeded")

// handleControl executes an APP_CONTROL command and replies to the sender
func (k *Kernel) handleControl(msg types.Message, payload types.Payload) {
	cmd := payload.(types.ControlPayload).Command
	src := msg.Src

	if k.stale(src, cmd) {
		k.logger.Info("Dropped stale control command",
			zap.String("cmd", cmd.Cmd),
			zap.Int32("src", int32(src)),
			zap.Uint32("gen", cmd.Gen),
		)
		k.metrics.RecordControl(cmd.Cmd, "stale")
		return
	}

	var (
		pid types.ProcessID
		err error
	)

	switch cmd.Cmd {
	case types.CmdSpawn:
		pid, err = k.controlSpawn(src, cmd)
	case types.CmdKill:
		pid = targetOf(src, cmd)
		err = k.procs.Kill(k.ctx, pid)
	case types.CmdSuspend:
		pid = targetOf(src, cmd)
		err = k.procs.Suspend(k.ctx, pid)
	case types.CmdResume:
		pid = targetOf(src, cmd)
		err = k.procs.Resume(k.ctx, pid)
	}

	result := "ok"
	if err != nil {
		result = "error"
		k.logger.Warn("Control command failed",
			zap.String("cmd", cmd.Cmd),
			zap.Int32("src", int32(src)),
			zap.Int32("pid", int32(pid)),
			zap.Error(err),
		)
	} else {
		k.logger.Debug("Control command handled",
			zap.String("cmd", cmd.Cmd),
			zap.Int32("src", int32(src)),
			zap.Int32("pid", int32(pid)),
		)
	}
	k.metrics.RecordControl(cmd.Cmd, result)

	// Apps that killed themselves are gone; everyone else hears back.
	if src.Valid() && k.procs.Alive(src) {
		k.bus.SendControl(src, cmd.Result(pid, err))
	}
}

func (k *Kernel) controlSpawn(src types.ProcessID, cmd types.Command) (types.ProcessID, error) {
	if cmd.AppName == "" {
		return types.NoPID, fmt.Errorf("spawn: %w: missing app_name", types.ErrMalformedPayload)
	}
	if !k.limiter(src).Allow() {
		return types.NoPID, fmt.Errorf("spawn %s: %w", cmd.AppName, ErrSpawnThrottled)
	}
	return k.procs.Spawn(k.ctx, cmd.AppName, !cmd.NoFocus)
}

// stale reports whether cmd targets its sender but was issued by an
// earlier occupant of the sender's slot. A missing generation counts as
// stale.
func (k *Kernel) stale(src types.ProcessID, cmd types.Command) bool {
	if cmd.Cmd == types.CmdSpawn || !src.Valid() || targetOf(src, cmd) != src {
		return false
	}
	info, ok := k.procs.Get(src)
	return ok && info.Gen != cmd.Gen
}

// targetOf resolves the pid a command acts on; zero means the sender
func targetOf(src types.ProcessID, cmd types.Command) types.ProcessID {
	if cmd.PID == types.KernelPID {
		return src
	}
	return cmd.PID
}

func (k *Kernel) limiter(pid types.ProcessID) *rate.Limiter {
	l, ok := k.limiters[pid]
	if !ok {
		l = rate.NewLimiter(k.cfg.SpawnRate, k.cfg.SpawnBurst)
		k.limiters[pid] = l
	}
	return l
}
