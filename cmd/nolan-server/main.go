// Command nolan-server is the headless control plane for a fleet of
// long-running AI coding-assistant agents.
//
// Exit codes: 0 normal exit, 1 unrecoverable bind failure, 2 data-root
// misconfiguration.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/api"
	"github.com/nolan-sh/nolan/internal/auth"
	"github.com/nolan-sh/nolan/internal/common/config"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/events"
	"github.com/nolan-sh/nolan/internal/executor"
	"github.com/nolan-sh/nolan/internal/provider"
	"github.com/nolan-sh/nolan/internal/recovery"
	"github.com/nolan-sh/nolan/internal/scheduler"
	"github.com/nolan-sh/nolan/internal/scheduler/history"
	"github.com/nolan-sh/nolan/internal/session"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

const version = "0.4.0"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting nolan control plane", zap.String("version", version))

	// 3. Resolve the data root
	resolver, err := paths.NewResolver(cfg.DataRoot)
	if err != nil {
		log.Error("data root misconfigured", zap.Error(err))
		os.Exit(2)
	}
	log.Info("data root resolved", zap.String("data_root", resolver.DataRoot()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Event bus
	bus := events.NewBus(events.DefaultCapacity, log)
	defer bus.Close()

	// 5. Session supervisor over tmux
	supervisor := session.NewSupervisor(session.NewTmux(),
		filepath.Join(resolver.StateDir(), "terminal"), log)

	// 6. Agent store and CLI-provider selector
	agents := agent.NewStore(resolver, log)
	selector := provider.NewSelector(cfg.Provider.Default, cfg.Provider.FallbackEnabled, log)

	// 7. Run history index
	hist, err := history.NewSQLiteRepository(resolver.RunIndexPath())
	if err != nil {
		log.Error("failed to open run index", zap.Error(err))
		os.Exit(2)
	}
	defer hist.Close()

	// 8. Run executor: headless runs and interactive session spawns both
	// tee output onto the broadcaster the WS terminal reads from
	broadcaster := executor.NewBroadcaster()
	supervisor.SetPublisher(broadcaster)
	exec := executor.NewExecutor(resolver, agents, selector, broadcaster, supervisor, log)
	exec.SetRecorder(hist)

	// 9. Scheduler
	sched := scheduler.NewScheduler(resolver, agents, exec, hist, bus, log)

	// 10. Recovery runs before the HTTP surface comes up
	coordinator := recovery.NewCoordinator(supervisor, sched, hist, log)
	summary := coordinator.Run(ctx)
	log.Info("recovery complete",
		zap.Int("recovered", summary.Recovered),
		zap.Int("interrupted", summary.Interrupted),
		zap.Int("errors", len(summary.Errors)))

	sched.Start(ctx)

	// 11. Event-driven agents
	dispatcher := events.NewDispatcher(bus, agents, func(ctx context.Context, agentName string, _ v1.Event) {
		sched.TriggerAsync(ctx, agentName, executor.Options{})
	}, log)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if cfg.Watcher.Enabled && len(cfg.Watcher.Roots) > 0 {
		watcher, err := events.NewWatcher(bus, cfg.Watcher.Roots, log)
		if err != nil {
			log.Warn("file watcher unavailable", zap.Error(err))
		} else {
			watcher.Start(ctx)
			defer watcher.Close()
		}
	}

	// 12. Auth gateway
	gateway := auth.NewGateway(resolver, cfg.Server.Host)

	// 13. HTTP router
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(agents, sched, exec, supervisor, gateway, bus, version, log)
	router := api.NewRouter(handler, gateway, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 14. Bind explicitly so bind failures exit with code 1
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Error("failed to bind", zap.String("addr", server.Addr), zap.Error(err))
		os.Exit(1)
	}

	go func() {
		log.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	// 15. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	sched.Stop()
	log.Info("nolan control plane stopped")
}
