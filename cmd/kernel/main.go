package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/family-mruby/fmruby-core/internal/codec"
	"github.com/family-mruby/fmruby-core/internal/domain/input"
	"github.com/family-mruby/fmruby-core/internal/domain/kernel"
	"github.com/family-mruby/fmruby-core/internal/domain/process"
	"github.com/family-mruby/fmruby-core/internal/domain/window"
	"github.com/family-mruby/fmruby-core/internal/host"
	"github.com/family-mruby/fmruby-core/internal/host/catalog"
	"github.com/family-mruby/fmruby-core/internal/host/link"
	"github.com/family-mruby/fmruby-core/internal/host/local"
	"github.com/family-mruby/fmruby-core/internal/host/local/script"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/config"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/logging"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/monitoring"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/server"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/tracing"
)

func main() {
	confPath := flag.String("config", envOr("FMRB_SYSTEM_CONF", config.DefaultSystemConf), "System configuration file")
	dev := flag.Bool("dev", false, "Development mode (debug logs, console encoding)")
	hostMode := flag.String("host", "", "Process host: local or link (overrides config)")
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
	if *hostMode != "" {
		cfg.Host.Mode = *hostMode
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
		logger.Error("Kernel exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting kernel",
		zap.String("system", cfg.SystemName),
		zap.String("config", cfg.SourceFile),
		zap.String("host", cfg.Host.Mode),
	)

	metrics := monitoring.NewMetrics()

	c, err := codec.New(cfg.Kernel.Codec)
	if err != nil {
		return err
	}

	root := suture.New("fmrb", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("Supervisor event", zap.String("event", e.String()))
		},
	})

	h, hostSvc, err := newHost(ctx, cfg, c, metrics, logger)
	if err != nil {
		return err
	}
	root.Add(hostSvc)
	done := root.ServeBackground(ctx)

	k := kernel.New(h,
		kernel.WithConfig(kernelConfig(cfg)),
		kernel.WithCodec(c),
		kernel.WithLogger(logger.Component("kernel")),
		kernel.WithMetrics(metrics),
		kernel.WithWindowOptions(window.WithMinSize(cfg.Window.MinWidth, cfg.Window.MinHeight)),
		kernel.WithProcessOptions(
			process.WithMaxApps(cfg.Kernel.MaxApps),
			process.WithGeometry(process.Geometry{
				X:       cfg.Window.DefaultX,
				Y:       cfg.Window.DefaultY,
				Width:   cfg.Window.DefaultWidth,
				Height:  cfg.Window.DefaultHeight,
				Cascade: cfg.Window.Cascade,
			}),
		),
		kernel.WithInputOptions(input.WithHotZones(cfg.Window.TitleBarHeight, cfg.Window.ResizeHandle)),
	)

	if err := k.Boot(ctx); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	root.Add(k)

	if cfg.Admin.Enabled {
		tracer := tracing.New("kernel", logger.Component("trace"))
		root.Add(tracer)
		root.Add(server.NewServer(cfg, k, metrics, tracer, logger.Component("admin")))
	}

	err = <-done
	if errors.Is(err, context.Canceled) {
		logger.Info("Kernel shut down")
		return nil
	}
	return err
}

func newHost(ctx context.Context, cfg *config.Config, c codec.Codec, metrics *monitoring.Metrics, logger *logging.Logger) (host.Host, suture.Service, error) {
	switch cfg.Host.Mode {
	case config.HostLink:
		framer, err := link.NewFramer(cfg.Host.CompressThreshold)
		if err != nil {
			return nil, nil, err
		}
		client := link.NewClient(cfg.Host.LinkURL, framer,
			link.WithRequestTimeout(cfg.Host.RequestTimeout()),
			link.WithClientLogger(logger.Component("link")),
			link.WithClientMetrics(metrics),
		)
		return client, client, nil
	default:
		h := newLocalHost(ctx, cfg, c, logger)
		return h, h, nil
	}
}

func newLocalHost(ctx context.Context, cfg *config.Config, c codec.Codec, logger *logging.Logger) *local.Host {
	cat := catalog.New(catalog.WithLogger(logger.Component("catalog")))
	n, err := cat.Scan(ctx, cfg.Host.AppsDir)
	if err != nil {
		logger.Warn("App scan failed", zap.String("dir", cfg.Host.AppsDir), zap.Error(err))
	} else {
		logger.Info("Apps loaded", zap.String("dir", cfg.Host.AppsDir), zap.Int("count", n))
	}

	sc := script.DefaultConfig()
	sc.Timeout = cfg.Host.ScriptTimeout()

	return local.New(
		local.WithCatalog(cat),
		local.WithCodec(c),
		local.WithMailboxSize(cfg.Host.MailboxSize),
		local.WithScriptConfig(sc),
		local.WithLogger(logger.Component("host")),
	)
}

func kernelConfig(cfg *config.Config) kernel.Config {
	kc := kernel.DefaultConfig()
	kc.Tick = cfg.Kernel.Tick()
	kc.HandshakeTimeout = cfg.Kernel.HandshakeTimeout()
	kc.InitialApps = cfg.Kernel.InitialApps
	kc.SpawnRate = rate.Limit(cfg.Kernel.SpawnRate)
	kc.SpawnBurst = cfg.Kernel.SpawnBurst
	if cfg.Kernel.StatsWindow > 0 {
		kc.StatsWindow = cfg.Kernel.StatsWindow
	}
	if cfg.Kernel.InboxLimit > 0 {
		kc.InboxLimit = cfg.Kernel.InboxLimit
	}
	return kc
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
