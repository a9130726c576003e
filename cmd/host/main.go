package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/codec"
	"github.com/family-mruby/fmruby-core/internal/host/catalog"
	"github.com/family-mruby/fmruby-core/internal/host/link"
	"github.com/family-mruby/fmruby-core/internal/host/local"
	"github.com/family-mruby/fmruby-core/internal/host/local/script"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/config"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/logging"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/monitoring"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/server"
)

func main() {
	confPath := flag.String("config", envOr("FMRB_SYSTEM_CONF", config.DefaultSystemConf), "System configuration file")
	dev := flag.Bool("dev", false, "Development mode (debug logs, console encoding)")
	listen := flag.String("listen", "", "Link listen address (overrides config)")
	appsDir := flag.String("apps", "", "Directory scanned for app manifests (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v, using defaults\n", err)
		cfg = config.Default()
	}
	if *dev {
		cfg.DebugMode = true
	}
	if *listen != "" {
		cfg.Host.ListenAddr = *listen
	}
	if *appsDir != "" {
		cfg.Host.AppsDir = *appsDir
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Host exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	metrics := monitoring.NewMetrics()

	c, err := codec.New(cfg.Kernel.Codec)
	if err != nil {
		return err
	}

	cat := catalog.New(catalog.WithLogger(logger.Component("catalog")))
	n, err := cat.Scan(ctx, cfg.Host.AppsDir)
	if err != nil {
		logger.Warn("App scan failed", zap.String("dir", cfg.Host.AppsDir), zap.Error(err))
	} else {
		logger.Info("Apps loaded", zap.String("dir", cfg.Host.AppsDir), zap.Int("count", n))
	}

	sc := script.DefaultConfig()
	sc.Timeout = cfg.Host.ScriptTimeout()
	h := local.New(
		local.WithCatalog(cat),
		local.WithCodec(c),
		local.WithMailboxSize(cfg.Host.MailboxSize),
		local.WithScriptConfig(sc),
		local.WithLogger(logger.Component("host")),
	)

	framer, err := link.NewFramer(cfg.Host.CompressThreshold)
	if err != nil {
		return err
	}
	defer framer.Close()

	ls := link.NewServer(h, framer,
		link.WithServerLogger(logger.Component("link")),
		link.WithServerMetrics(metrics),
	)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	ls.Register(router, link.DefaultPath)
	router.GET("/metrics", monitoring.Handler(metrics))

	root := suture.New("fmrb-host", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("Supervisor event", zap.String("event", e.String()))
		},
	})
	root.Add(h)
	root.Add(server.NewListener("link-server", cfg.Host.ListenAddr, router, logger.Component("http")))

	logger.Info("Starting process host",
		zap.String("listen", cfg.Host.ListenAddr),
		zap.String("path", link.DefaultPath),
	)
	err = root.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Host shut down")
		return nil
	}
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
