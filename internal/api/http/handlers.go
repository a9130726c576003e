package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/domain/kernel"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/tracing"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// Handlers serves the admin API. Every kernel read or write runs on the
// kernel goroutine through Submit/Query.
type Handlers struct {
	kernel  *kernel.Kernel
	timeout time.Duration
	tracer  *tracing.Tracer
	logger  *zap.Logger
}

// NewHandlers creates the admin handlers. timeout bounds each kernel task.
func NewHandlers(k *kernel.Kernel, timeout time.Duration, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{kernel: k, timeout: timeout, logger: logger}
}

// SetTracer records a span for every kernel round trip. nil disables it.
func (h *Handlers) SetTracer(t *tracing.Tracer) {
	h.tracer = t
}

// Register mounts every route on r
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/windows", h.Windows)
	r.GET("/processes", h.Processes)
	r.GET("/input", h.Input)
	r.GET("/stats", h.Stats)
	r.POST("/apps", h.SpawnApp)
	r.DELETE("/apps/:pid", h.KillApp)
	r.POST("/apps/:pid/suspend", h.SuspendApp)
	r.POST("/apps/:pid/resume", h.ResumeApp)
	r.POST("/apps/:pid/front", h.BringToFront)
	r.POST("/hid", h.InjectHID)
}

func (h *Handlers) context(c *gin.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	if h.tracer == nil {
		return ctx, cancel
	}
	span, ctx := h.tracer.StartSpan(ctx, "kernel.task")
	return ctx, func() {
		span.Fail(ctx.Err())
		span.End()
		cancel()
	}
}

// fail maps kernel errors to status codes
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrUnknownPid):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrMalformedPayload):
		status = http.StatusBadRequest
	case errors.Is(err, kernel.ErrSpawnThrottled):
		status = http.StatusTooManyRequests
	case errors.Is(err, types.ErrAppNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrTableFull):
		status = http.StatusServiceUnavailable
	case errors.Is(err, types.ErrHostFailure):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		h.logger.Warn("Admin request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func pidParam(c *gin.Context) (types.ProcessID, bool) {
	n, err := strconv.Atoi(c.Param("pid"))
	if err != nil || !types.ProcessID(n).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid pid: " + c.Param("pid"),
		})
		return types.NoPID, false
	}
	return types.ProcessID(n), true
}

// Health reports the loop state. It does not wait on the kernel.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"kernel_id": h.kernel.ID().String(),
		"state":     h.kernel.State().String(),
	})
}

// Windows lists windows bottom to top
func (h *Handlers) Windows(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	windows, err := kernel.Query(ctx, h.kernel, func(k *kernel.Kernel) ([]types.Window, error) {
		return k.Windows().Snapshot(), nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"windows": windows,
		"count":   len(windows),
	})
}

// Processes lists the process table
func (h *Handlers) Processes(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	procs, err := kernel.Query(ctx, h.kernel, func(k *kernel.Kernel) ([]types.ProcessInfo, error) {
		return k.Processes().List(), nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"processes": procs,
		"count":     len(procs),
	})
}

// Input returns focus and capture state
func (h *Handlers) Input(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	snap, err := kernel.Query(ctx, h.kernel, func(k *kernel.Kernel) (types.InputSnapshot, error) {
		return k.Router().Snapshot(), nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"input":   snap,
	})
}

// Stats returns process and tick statistics
func (h *Handlers) Stats(c *gin.Context) {
	ctx, cancel := h.context(c)
	defer cancel()

	type stats struct {
		procs types.Stats
		ticks kernel.TickStats
	}
	s, err := kernel.Query(ctx, h.kernel, func(k *kernel.Kernel) (stats, error) {
		return stats{procs: k.Stats(), ticks: k.TickStats()}, nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   s.procs,
		"ticks":   s.ticks,
	})
}

// SpawnApp starts an application
func (h *Handlers) SpawnApp(c *gin.Context) {
	var req types.SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	pid, err := kernel.Query(ctx, h.kernel, func(k *kernel.Kernel) (types.ProcessID, error) {
		return k.Processes().Spawn(k.Context(), req.AppPath, !req.NoFocus)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"pid":     pid,
	})
}

// KillApp terminates an application
func (h *Handlers) KillApp(c *gin.Context) {
	h.pidTask(c, func(k *kernel.Kernel, pid types.ProcessID) error {
		return k.Processes().Kill(k.Context(), pid)
	})
}

// SuspendApp pauses an application
func (h *Handlers) SuspendApp(c *gin.Context) {
	h.pidTask(c, func(k *kernel.Kernel, pid types.ProcessID) error {
		return k.Processes().Suspend(k.Context(), pid)
	})
}

// ResumeApp continues a suspended application
func (h *Handlers) ResumeApp(c *gin.Context) {
	h.pidTask(c, func(k *kernel.Kernel, pid types.ProcessID) error {
		return k.Processes().Resume(k.Context(), pid)
	})
}

// BringToFront raises an application's window and focuses it
func (h *Handlers) BringToFront(c *gin.Context) {
	h.pidTask(c, func(k *kernel.Kernel, pid types.ProcessID) error {
		if !k.Processes().Alive(pid) {
			return types.ErrUnknownPid
		}
		k.Windows().BringToFront(pid)
		k.Router().SetFocus(pid)
		return nil
	})
}

func (h *Handlers) pidTask(c *gin.Context, fn func(k *kernel.Kernel, pid types.ProcessID) error) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}

	ctx, cancel := h.context(c)
	defer cancel()

	if err := h.kernel.Submit(ctx, func(k *kernel.Kernel) error { return fn(k, pid) }); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"pid":     pid,
	})
}

// InjectHID queues a HID event as if the host had produced it
func (h *Handlers) InjectHID(c *gin.Context) {
	var req types.HIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}
	if req.Subtype < types.HIDKeyDown || req.Subtype > types.HIDButtonUp {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "unknown subtype",
		})
		return
	}

	h.kernel.Post(types.Message{
		Type:    types.MsgHIDEvent,
		Src:     types.HostPID,
		Dst:     types.KernelPID,
		Payload: req.Event().Encode(),
	})
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
	})
}
