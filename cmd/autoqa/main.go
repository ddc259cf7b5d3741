// AutoQA control plane server — accepts test execution requests over HTTP,
// schedules them onto browser containers, and streams execution state to
// WebSocket subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/autoqa/autoqa/pkg/api"
	"github.com/autoqa/autoqa/pkg/artifact"
	"github.com/autoqa/autoqa/pkg/breaker"
	"github.com/autoqa/autoqa/pkg/bus"
	"github.com/autoqa/autoqa/pkg/cleanup"
	"github.com/autoqa/autoqa/pkg/config"
	"github.com/autoqa/autoqa/pkg/container"
	"github.com/autoqa/autoqa/pkg/events"
	"github.com/autoqa/autoqa/pkg/flow"
	"github.com/autoqa/autoqa/pkg/healing"
	"github.com/autoqa/autoqa/pkg/notify"
	"github.com/autoqa/autoqa/pkg/orchestrator"
	"github.com/autoqa/autoqa/pkg/provider"
	"github.com/autoqa/autoqa/pkg/report"
	"github.com/autoqa/autoqa/pkg/session"
	"github.com/autoqa/autoqa/pkg/slack"
	"github.com/autoqa/autoqa/pkg/version"
)

// Exit codes follow the sysexits convention: 64 for configuration errors,
// 70 for unrecoverable internal errors.
const (
	exitConfig   = 64
	exitInternal = 70
)

// sessionTTL bounds how long an issued session stays valid without a
// refresh. Sessions are deleted with their execution, so the TTL only
// matters for abandoned executions.
const sessionTTL = time.Hour

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupLogging installs the default slog handler at the level named by
// LOG_LEVEL (debug, info, warn, error). Unrecognized values keep info.
func setupLogging() {
	level := slog.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			level = slog.LevelInfo
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// buildBlobStore selects the artifact blob store backend from configuration.
func buildBlobStore(cfg *config.CaptureConfig) artifact.BlobStore {
	if cfg.Store == "fs" {
		return artifact.NewFileStore(afero.NewOsFs(), cfg.FSRoot)
	}
	return artifact.NewMemoryStore()
}

// buildProviderPool registers every configured provider behind its breaker
// and token buckets.
func buildProviderPool(cfg *config.ProvidersConfig) *provider.Pool {
	pool := provider.NewPool(cfg.Default, cfg.Fallback)
	for name, p := range cfg.Providers {
		pool.Register(provider.NewScripted(name), breaker.Config{
			FailureThreshold: p.Breaker.FailureThreshold,
			ResetTimeout:     p.Breaker.ResetTimeout,
			MonitoringPeriod: p.Breaker.MonitoringPeriod,
		}, p.TokensPerMinute, p.RequestsPerMinute)
	}
	return pool
}

func buildSlackService(cfg *config.NotifyConfig) *slack.Service {
	if !cfg.SlackEnabled {
		return nil
	}
	return slack.NewService(slack.ServiceConfig{
		Token:   os.Getenv(cfg.SlackTokenEnv),
		Channel: cfg.SlackChannel,
	})
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	setupLogging()

	// Load .env file from the config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting AutoQA control plane",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(exitConfig)
	}

	// 2. Artifact storage and capture
	store := buildBlobStore(cfg.Capture)
	capture := artifact.NewService(cfg.Capture, store)
	slog.Info("Artifact store initialized", "backend", cfg.Capture.Store)

	// 3. Event fan-out: subscription bus, idle-subscription sweeper,
	// typed publisher
	eventBus := bus.NewBus(cfg.Bus)
	sweeper := bus.NewSweeper(cfg.Bus, eventBus)
	sweeper.Start(ctx)
	publisher := events.NewPublisher(eventBus)

	// 4. Notifications (Slack mirroring is optional)
	slackSvc := buildSlackService(cfg.Notify)
	notifier := notify.NewNotifier(cfg.Notify, publisher, slackSvc)
	if slackSvc != nil {
		slog.Info("Slack notifications enabled", "channel", cfg.Notify.SlackChannel)
	}

	// 5. Provider pool and self-healing engine
	pool := buildProviderPool(cfg.Providers)
	strategies, err := healing.BuildStrategies(cfg.Healing.Strategies, pool)
	if err != nil {
		slog.Error("Failed to build healing strategies", "error", err)
		os.Exit(exitInternal)
	}
	healer := healing.NewEngine(cfg.Healing, strategies, notifier, publisher, "system")
	slog.Info("Healing engine initialized",
		"strategies", cfg.Healing.Strategies,
		"providers", len(cfg.Providers.Providers))

	// 6. Container manager and sessions
	manager := container.NewManager(cfg.Container, container.NewLocalRuntime())
	sessions := session.NewManager(sessionTTL)

	// 7. Orchestrator over the flow controller
	orch := orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		Flow:       flow.NewController(cfg.Flow),
		Containers: manager,
		Capture:    capture,
		Assembler:  report.NewAssembler(),
		Publisher:  publisher,
		Notifier:   notifier,
		Sessions:   sessions,
		Healer:     healer,
	})
	orch.Start(ctx)

	// 8. Artifact retention sweep
	retention := cleanup.NewService(cfg.Retention, store)
	retention.Start(ctx)

	// 9. HTTP/WebSocket server (non-blocking)
	server := api.NewServer(cfg.Server, orch, pool, sessions, publisher)
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("AutoQA started successfully",
		"port", cfg.Server.Port,
		"concurrency", cfg.Orchestrator.Concurrency)

	// 10. Wait for shutdown signal or server error
	exitCode := 0
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
		exitCode = exitInternal
	}

	// 11. Graceful shutdown: stop intake first, then drain workers, then
	// release everything else. Container cleanup runs regardless.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		orch.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Orchestrator stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Orchestrator shutdown timeout exceeded")
	}

	retention.Stop()
	sweeper.Stop()

	if err := manager.CleanupAll(context.Background()); err != nil {
		slog.Error("Container cleanup failed during shutdown", "error", err)
	}

	slog.Info("Shutdown complete")
	os.Exit(exitCode)
}
