// Package observability owns the process loggers and the telemetry system.
package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger serves one-shot commands.
	CLILogger *logging.Logger

	// ServerLogger serves the HTTP API and the job workers.
	ServerLogger *logging.Logger
)

var logLevels = map[string]string{
	"trace":   "TRACE",
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// InitCLILogger sets CLILogger, exiting the process if gofulmen rejects
// the config.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger sets ServerLogger from NewServerLogger.
func InitServerLogger(serviceName, logLevel, profile string, namespace ...string) {
	logger, err := NewServerLogger(serviceName, logLevel, profile, namespace...)
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

// NewServerLogger builds a logger for the service. The SIMPLE profile
// writes console lines; everything else gets JSON with correlation IDs.
func NewServerLogger(serviceName, logLevel, profile string, namespace ...string) (*logging.Logger, error) {
	level, ok := logLevels[strings.ToLower(strings.TrimSpace(logLevel))]
	if !ok {
		level = "INFO"
	}

	cfg := &logging.LoggerConfig{
		DefaultLevel: level,
		Service:      serviceName,
		Environment:  "production",
	}

	if strings.EqualFold(strings.TrimSpace(profile), "simple") {
		cfg.Profile = logging.ProfileSimple
		cfg.Sinks = stderrSink("console")
		return logging.New(cfg)
	}

	cfg.Profile = logging.ProfileStructured
	cfg.Sinks = stderrSink("json")
	cfg.EnableCaller = true
	cfg.EnableStacktrace = true
	cfg.Middleware = []logging.MiddlewareConfig{
		{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
	}
	if len(namespace) > 0 && namespace[0] != "" {
		cfg.StaticFields = map[string]any{"namespace": namespace[0]}
	}
	return logging.New(cfg)
}

func stderrSink(format string) []logging.SinkConfig {
	return []logging.SinkConfig{{
		Type:    "console",
		Format:  format,
		Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
	}}
}

// fatal runs before any logger exists, so it writes to stderr directly.
func fatal(code foundry.ExitCode, msg string, err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	if info, ok := foundry.GetExitCodeInfo(code); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(code))
}
