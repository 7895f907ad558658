package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/videoloft-bridge/internal/ai"
	"github.com/vzahanych/videoloft-bridge/internal/analysis"
	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/health"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/lpr"
	"github.com/vzahanych/videoloft-bridge/internal/metrics"
	"github.com/vzahanych/videoloft-bridge/internal/notify"
	"github.com/vzahanych/videoloft-bridge/internal/quota"
	"github.com/vzahanych/videoloft-bridge/internal/service"
	"github.com/vzahanych/videoloft-bridge/internal/state"
	"github.com/vzahanych/videoloft-bridge/internal/stream"
	"github.com/vzahanych/videoloft-bridge/internal/thumbnail"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
	"github.com/vzahanych/videoloft-bridge/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	cfgSvc, err := config.NewService(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Videoloft bridge",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgSvc.Watch(func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		if oldCfg.Log.Level != newCfg.Log.Level {
			if err := log.SetLevel(newCfg.Log.Level); err != nil {
				return fmt.Errorf("failed to apply log level %q: %w", newCfg.Log.Level, err)
			}
			log.Info("Log level changed", "level", newCfg.Log.Level)
		}
		if sections := config.RestartRequired(oldCfg, newCfg); len(sections) > 0 {
			log.Warn("Configuration changes take effect after restart", "sections", sections)
		}
		return nil
	})

	if err := run(ctx, cfgSvc, log); err != nil {
		log.Error("Bridge stopped with error", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(ctx context.Context, cfgSvc *config.Service, log *logger.Logger) error {
	cfg := cfgSvc.Get()

	stateMgr, err := state.NewManager(cfg.Bridge.DataDir, log)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer stateMgr.Close()

	if _, err := stateMgr.RecoverState(ctx); err != nil {
		log.Warn("Failed to recover persisted state", "error", err)
	}

	// authentication and the first device fetch must succeed before the
	// bridge reports ready
	tokens := videoloft.NewTokenManager(cfg.Videoloft, log)
	defer tokens.Close()
	if err := tokens.Authenticate(ctx); err != nil {
		return fmt.Errorf("videoloft authentication failed: %w", err)
	}

	client := videoloft.NewClient(cfg.Videoloft, tokens, log)
	registry := videoloft.NewDeviceRegistry(client, cfg.Videoloft.DeviceTTL, log)
	if err := registry.Refresh(ctx); err != nil {
		return fmt.Errorf("initial device fetch failed: %w", err)
	}
	log.Info("Cameras discovered", "count", registry.Count())

	m := metrics.New()

	streams := stream.NewManager(cfg.Stream, registry, client, stateMgr, m, log)
	proxy := stream.NewProxy(cfg.Stream, cfg.Videoloft.UserAgent, streams, tokens, m, log)
	defer proxy.Close()

	thumbs := thumbnail.NewService(cfg.Thumbnails, client, registry, stateMgr, m, log)

	tracker := quota.NewTracker(cfg.Quota, stateMgr, log)
	if err := tracker.Load(ctx); err != nil {
		// a fresh quota window is safe to start from
		log.Warn("Starting with empty quota state", "error", err)
	}

	vision := ai.NewClient(cfg.Gemini, log)
	if !vision.Configured() {
		log.Warn("Gemini API key not configured, AI analysis disabled")
	}

	pipeline := analysis.NewPipeline(cfg.Analysis, analysis.Deps{
		Events:           client,
		Cameras:          registry,
		Describer:        vision,
		Store:            stateMgr,
		Quota:            tracker,
		Metrics:          m,
		ThumbnailTimeout: cfg.Thumbnails.FetchTimeout,
	}, log)

	monitor := lpr.NewMonitor(cfg.LPR, client, registry, stateMgr, m, log)

	server := web.NewServer(cfg, web.Deps{
		Cameras:    registry,
		Streams:    streams,
		Proxy:      proxy,
		Thumbnails: thumbs,
		Analysis:   pipeline,
		Quota:      tracker,
		LPR:        monitor,
		Metrics:    m,
	}, log)

	svcMgr := service.NewManager(log)

	if err := m.Register(&metrics.Collector{
		Streams:    streams,
		Thumbnails: thumbs,
		Quota:      tracker,
		Events:     svcMgr.GetEventBus(),
	}); err != nil {
		return fmt.Errorf("failed to register metrics collector: %w", err)
	}

	svcMgr.Register(streams)
	svcMgr.Register(thumbs)
	svcMgr.Register(pipeline)
	svcMgr.Register(monitor)

	if cfg.MQTT.Enabled {
		publisher := notify.NewMQTTPublisher(cfg.MQTT, log)
		if err := publisher.Connect(ctx); err != nil {
			// paho keeps retrying in the background
			log.Warn("MQTT broker not reachable yet", "broker", cfg.MQTT.Broker, "error", err)
		}
		defer publisher.Close()
		svcMgr.Register(notify.NewNotifier(cfg.MQTT.TopicPrefix, publisher, log))
	}

	svcMgr.RegisterRequired(server)

	healthMgr := health.NewManager(cfg.Health, svcMgr, log)
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr))
	healthMgr.RegisterChecker(health.NewAuthChecker(tokens))
	healthMgr.RegisterChecker(health.NewRegistryChecker(registry))
	healthMgr.RegisterChecker(health.NewStreamChecker(streams))
	healthMgr.RegisterChecker(health.NewDiskChecker(cfg.Bridge.DataDir, cfg.Health.DiskMaxUsagePercent))

	if err := healthMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health check server: %w", err)
	}

	if err := svcMgr.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = healthMgr.Stop(stopCtx)
		_ = svcMgr.Shutdown(stopCtx)
		return fmt.Errorf("failed to start services: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := cfgSvc.Reload(ctx); err != nil {
					log.Error("Configuration reload failed", "error", err)
				} else {
					log.Info("Configuration reloaded")
				}
				continue
			}
			log.Info("Received shutdown signal", "signal", sig.String())
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthMgr.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping health check server", "error", err)
	}

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}
