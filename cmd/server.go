package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	app "terminal-log-sync/internal"
	"terminal-log-sync/internal/config"
	"terminal-log-sync/internal/fetch"
	"terminal-log-sync/internal/forward"
	"terminal-log-sync/internal/notify"
	"terminal-log-sync/internal/registry"
	"terminal-log-sync/internal/routes"
	"terminal-log-sync/internal/session"
	"terminal-log-sync/internal/syncer"
	"terminal-log-sync/internal/terminal"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the log synchronization server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		fmt.Println("Starting terminal log sync server...")
		ServerMain(ctx)
	},
}

// Initialize logger
func initLogger(cfg *config.Config) *slog.Logger {
	// Determine level from config and set it on the handler options.
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		println("Invalid log level in config, defaulting to INFO")
	}
	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	slog.SetDefault(logger)

	slog.Debug("Logger initialized", "level", level.String())
	return logger
}

// buildServices wires the sync pipeline from configuration.
func buildServices(cfg *config.Config) (*routes.Deps, *syncer.Supervisor) {
	client := terminal.NewClient(time.Duration(cfg.Terminal.Timeout) * time.Second)
	keeper := session.NewKeeper(client, int(cfg.Sync.LoginAttempts))
	fetcher := fetch.NewFetcher(client, keeper)
	forwarder := forward.NewForwarder(cfg.Monitor, provider)
	runner := syncer.NewRunner(provider, fetcher, keeper, forwarder, cfg.Sync)

	var notifier syncer.Notifier
	if cfg.Alerts.Enabled {
		notifier = notify.NewMailer(cfg.Email, cfg.Alerts.To, time.Duration(cfg.Alerts.Interval)*time.Second)
	}
	supervisor := syncer.NewSupervisor(runner, cfg.Sync, notifier)

	deps := &routes.Deps{
		Store:      provider,
		Registry:   registry.NewRegistry(provider),
		Keeper:     keeper,
		Client:     client,
		Supervisor: supervisor,
		Forwarder:  forwarder,
	}
	return deps, supervisor
}

func ServerMain(ctx context.Context) {
	if config.Cfg == nil {
		panic("Config not initialized.")
	}

	if provider == nil {
		slog.Error("Storage provider is nil")
		os.Exit(1)
	}

	deps, supervisor := buildServices(config.Cfg)

	if config.Cfg.Sync.Autostart {
		devices, err := deps.Registry.List(ctx)
		if err != nil {
			slog.Error("Failed to list devices for autostart", "error", err)
			os.Exit(1)
		}
		for _, device := range devices {
			if err := supervisor.Start(device); err != nil {
				slog.Warn("Failed to start monitoring", "device_id", device.ID, "error", err)
			}
		}
	}

	engine := app.HTTPServer(deps)

	server := &http.Server{
		Addr:    ":8080",
		Handler: engine,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal, then drain workers before closing the store.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down")

	supervisor.StopAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Forced shutdown", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
