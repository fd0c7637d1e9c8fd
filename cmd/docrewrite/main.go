package main

import (
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/docrewrite/docrewrite/internal/cmd"
	"github.com/docrewrite/docrewrite/internal/server/handlers"
)

// Set via ldflags: -X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-01-01
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		// Commands log their own specific failures.
		cmd.ExitWithCodeStderr(foundry.ExitFailure, "Command execution failed", err)
	}
}
