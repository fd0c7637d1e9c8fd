package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/ailink"
	"github.com/docrewrite/docrewrite/internal/appid"
	"github.com/docrewrite/docrewrite/internal/auth"
	errwrap "github.com/docrewrite/docrewrite/internal/errors"
	"github.com/docrewrite/docrewrite/internal/metrics"
	"github.com/docrewrite/docrewrite/internal/observability"
	"github.com/docrewrite/docrewrite/internal/server"
	"github.com/docrewrite/docrewrite/internal/server/handlers"
	"github.com/docrewrite/docrewrite/internal/service"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the rewrite API with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown (HTTP first, then queued jobs)
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read configuration (restart to apply most changes)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		identity := GetAppIdentity()
		name := appid.BinaryName(identity)
		namespace := identity.TelemetryNamespace()

		cfg, err := loadConfig(ctx, serveOverrides(cmd))
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		logLevel := cfg.Logging.Level
		if verbose {
			logLevel = "debug"
		}
		observability.InitServerLogger(name, logLevel, cfg.Logging.Profile, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(name, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}
		metrics.SetServerStartTime(time.Now().Unix())

		svc, err := service.Build(ctx, cfg, logger)
		if err != nil {
			if errors.Is(err, ailink.ErrExhaustedPool) {
				ExitWithCode(logger, foundry.ExitConfigInvalid, "No provider credentials configured", err)
			}
			return errwrap.WrapInternal(ctx, err, "service initialization failed")
		}

		authenticator, err := auth.New(cfg.Auth)
		if err != nil {
			_ = svc.Close(ctx)
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Invalid auth configuration", err)
		}

		hm := handlers.NewHealthManager(versionInfo.Version)
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		hm.RegisterChecker("jobs", handlers.CheckerFunc(svc.CheckJobs))
		handlers.SetAppIdentity(identity)

		srv := server.New(server.Options{
			Config:  cfg,
			Service: svc,
			Auth:    authenticator,
			Health:  hm,
		})

		logger.Info("Initializing server",
			zap.String("service", name),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("addr", cfg.Server.Addr()),
			zap.Bool("auth", authenticator.Enabled()),
			zap.Bool("admission", cfg.Admission.Enabled),
			zap.String("jobs_backend", cfg.Jobs.Backend))

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP, then the job runner, then the logger.
		signals.OnShutdown(func(ctx context.Context) error {
			if err := logger.Sync(); err != nil {
				// stdout/stderr may already be closed.
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping job runner...")
			closeCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := svc.Close(closeCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "job runner shutdown failed")
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-reading configuration")
			if _, err := loadConfig(ctx, serveOverrides(cmd)); err != nil {
				logger.Error("Config reload failed", zap.Error(err))
				return errwrap.Wrap(ctx, errwrap.CodeConfigInvalid, err, "config reload failed")
			}
			logger.Info("Configuration is valid; restart to apply server, admission and job changes")
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...", zap.String("addr", cfg.Server.Addr()))
			if err := srv.Start(); err != nil {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			_ = svc.Close(context.Background())
			return errwrap.WrapInternal(ctx, err, "server error")
		}
		return nil
	},
}

// serveOverrides maps explicitly set flags onto config keys.
func serveOverrides(cmd *cobra.Command) map[string]any {
	serverOverrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		serverOverrides["host"] = serverHost
	}
	if cmd.Flags().Changed("port") {
		serverOverrides["port"] = serverPort
	}
	if len(serverOverrides) == 0 {
		return nil
	}
	return map[string]any{"server": serverOverrides}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
}
