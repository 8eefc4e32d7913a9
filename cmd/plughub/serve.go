// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugHub Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plughub/plughub/internal/admin"
	"github.com/plughub/plughub/internal/config"
	"github.com/plughub/plughub/internal/logging"
	"github.com/plughub/plughub/internal/observability"
	"github.com/plughub/plughub/internal/plugin"
	"github.com/plughub/plughub/internal/plugin/hostproc"
	"github.com/plughub/plughub/internal/router"
	"github.com/plughub/plughub/internal/services"
	"github.com/plughub/plughub/internal/session"
	"github.com/plughub/plughub/internal/xdg"

	"github.com/gobwas/glob"
)

// shutdownTimeout bounds graceful server shutdown on exit.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the plugin coordinator",
		Long: `Start the coordinator process: load plugin modules, serve the
administrative API, and route plugin traffic to connected clients.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("admin-addr", defaults.AdminAddr, "administrative HTTP listen address")
	cmd.Flags().String("metrics-addr", defaults.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaults.LogFormat, "log format (json or text)")
	cmd.Flags().String("plugins-dir", "", "directory scanned for module binaries (default: XDG data dir)")
	cmd.Flags().String("module-pattern", defaults.ModulePattern, "glob matched against module file names")
	cmd.Flags().Bool("watch", false, "auto-load modules dropped into the plugins directory")
	cmd.Flags().Int("unload-timeout-seconds", defaults.UnloadTimeoutSeconds, "client confirmation wait for unloads")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.SetDefault("plughub", version, cfg.LogFormat)

	slog.Info("starting coordinator",
		"admin_addr", cfg.AdminAddr,
		"log_format", cfg.LogFormat)

	pattern, err := glob.Compile(cfg.ModulePattern)
	if err != nil {
		return fmt.Errorf("invalid module-pattern %q: %w", cfg.ModulePattern, err)
	}

	pluginsDir := cfg.PluginsDir
	if pluginsDir == "" {
		pluginsDir = xdg.PluginsDir()
	}

	// Host services offered to plugin factories during construction.
	svc := services.NewRegistry()
	for name, svcCfg := range cfg.Services {
		svc.Register(name, svcCfg)
	}

	sessions := session.NewManager()
	rt := router.New(sessions)
	registry := plugin.NewRegistry(rt, rt)
	host := hostproc.NewHost(registry, svc, hostproc.WithModulePattern(pattern))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	host.LoadFromDirectory(ctx, pluginsDir)
	defer func() {
		if err := host.Close(context.Background()); err != nil {
			slog.Warn("failed to close module host", "error", err)
		}
	}()

	if cfg.Watch {
		go func() {
			if err := host.Watch(ctx, pluginsDir); err != nil {
				slog.Error("plugins directory watcher failed", "error", err)
			}
		}()
	}

	// Observability server if configured.
	if cfg.MetricsAddr != "" {
		obsServer := observability.NewServer(cfg.MetricsAddr, func() bool { return true })
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer stopServer(obsServer.Stop, "observability")
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	adminServer := admin.NewServer(cfg.AdminAddr, host, registry)
	adminErrChan, err := adminServer.Start()
	if err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	defer stopServer(adminServer.Stop, "admin")
	go monitorServerErrors(ctx, cancel, adminErrChan, "admin")

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("shutting down", "reason", ctx.Err())
	}

	return nil
}

// monitorServerErrors cancels the run context when a server reports a
// fatal error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server failed", "server", name, "error", err)
			cancel()
		}
	}
}

// stopServer shuts a server down with a bounded timeout.
func stopServer(stop func(context.Context) error, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		slog.Warn("failed to stop server", "server", name, "error", err)
	}
}
