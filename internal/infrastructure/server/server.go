// Package server hosts the admin HTTP API next to the kernel loop.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/family-mruby/fmruby-core/internal/api/http"
	"github.com/family-mruby/fmruby-core/internal/api/middleware"
	"github.com/family-mruby/fmruby-core/internal/domain/kernel"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/config"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/monitoring"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/tracing"
)

const shutdownTimeout = 5 * time.Second

// Server wraps the admin router and its listener
type Server struct {
	router  *gin.Engine
	addr    string
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewServer builds the admin router for k. metrics and tracer may be nil.
func NewServer(cfg *config.Config, k *kernel.Kernel, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	if tracer != nil {
		router.Use(tracing.HTTPMiddleware(tracer))
	}
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}

	cors := middleware.DefaultCORSConfig()
	if len(cfg.Admin.CORSOrigins) > 0 {
		cors.AllowOrigins = cfg.Admin.CORSOrigins
	}
	router.Use(middleware.CORS(cors))

	if cfg.Admin.RateLimitEnabled {
		logger.Info("Rate limiting enabled",
			zap.Float64("rps", cfg.Admin.RateLimitRPS),
			zap.Int("burst", cfg.Admin.RateLimitBurst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.Admin.RateLimitRPS
		rl.Burst = cfg.Admin.RateLimitBurst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := api.NewHandlers(k, cfg.Admin.SubmitTimeout(), logger)
	handlers.SetTracer(tracer)
	handlers.Register(router)

	if metrics != nil {
		router.GET("/metrics", monitoring.Handler(metrics))
	}

	return &Server{
		router:  router,
		addr:    cfg.Admin.Addr,
		logger:  logger,
		metrics: metrics,
	}
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured address until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	return NewListener("admin-server", s.addr, s.router, s.logger).Serve(ctx)
}

func (s *Server) String() string {
	return "admin-server"
}

// Listener runs an http.Handler as a supervised service
type Listener struct {
	name    string
	addr    string
	handler http.Handler
	logger  *zap.Logger
}

// NewListener creates a service serving h on addr
func NewListener(name, addr string, h http.Handler, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{name: name, addr: addr, handler: h, logger: logger}
}

// Serve listens until ctx is cancelled, then shuts down gracefully
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	return l.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener
func (l *Listener) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			l.logger.Warn("Server shutdown", zap.String("name", l.name), zap.Error(err))
		}
	})
	defer stop()

	l.logger.Info("Starting HTTP server", zap.String("name", l.name), zap.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

func (l *Listener) String() string {
	return l.name
}
