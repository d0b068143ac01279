package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dbgateway/dbgateway/internal/api"
	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/config"
	"github.com/dbgateway/dbgateway/internal/gateway"
	"github.com/dbgateway/dbgateway/internal/health"
	"github.com/dbgateway/dbgateway/internal/metrics"
	"github.com/dbgateway/dbgateway/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/dbgateway.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("DB Gateway starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (proxy_db_type=%s target=%s:%d)",
		*configPath, cfg.Listen.ProxyDBType, cfg.Target.Host, cfg.Target.Port)

	m := metrics.New()
	hc := health.NewChecker(cfg.Listen.ProxyDBType, cfg.Target, m, health.HealthCheckConfig{})
	hc.Start()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sessionCfg := session.Config{
		Target: backend.Target{
			Protocol: cfg.Listen.ProxyDBType,
			Host:     cfg.Target.Host,
			Port:     cfg.Target.Port,
			Username: cfg.Target.Username,
			Password: cfg.Target.Password,
			Database: cfg.Target.Database,
		},
	}

	gw := &gateway.Listener{
		Protocol: cfg.Listen.ProxyDBType,
		Addr:     net.JoinHostPort(cfg.Listen.Bind, strconv.Itoa(cfg.Listen.ProxyPort)),
		Config:   sessionCfg,
		Log:      logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	gwErr := make(chan error, 1)
	go func() { gwErr <- gw.ListenAndServe(ctx) }()

	apiServer := api.NewServer(cfg, hc, m)
	if err := apiServer.Start(cfg.Listen.APIPort); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	// Config hot-reload is wired for visibility (the file watcher detects
	// edits and logs them) but does not hot-swap a bound listener's target
	// mid-process — spec.md's configuration surface names the target as
	// gateway-wide, not a per-connection lookup, so there is nothing to
	// re-resolve per session the way a tenant router would.
	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("configuration file changed on disk; restart the gateway to apply it")
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("DB Gateway ready - %s:%d API:%d", cfg.Listen.ProxyDBType, cfg.Listen.ProxyPort, cfg.Listen.APIPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %s, shutting down...", sig)
	case err := <-gwErr:
		if err != nil {
			log.Printf("gateway listener exited: %v", err)
		}
	}

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Printf("gateway shutdown: %v", err)
	}
	shutdownCancel()
	cancel()
	hc.Stop()

	log.Printf("DB Gateway stopped")
}
