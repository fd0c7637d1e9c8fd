package cmd

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/ailink"
	"github.com/docrewrite/docrewrite/internal/config"
	"github.com/docrewrite/docrewrite/internal/observability"
	"github.com/docrewrite/docrewrite/internal/output"
)

const doctorProbeText = "The quick brown fox jumps over the lazy dog."

var (
	doctorTimeout time.Duration
	doctorOutput  string
)

// credentialProber sends one request through a specific credential.
type credentialProber interface {
	Probe(ctx context.Context, cred ailink.Credential, text string) (string, error)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and provider connectivity",
	Long: `Run diagnostic checks: runtime, configuration, and one cleanup call per
configured provider credential. Exits non-zero when any credential fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := observability.CLILogger

		format, err := output.ParseFormat(doctorOutput)
		if err != nil {
			return err
		}

		version := crucible.GetVersion()
		log.Debug("Runtime",
			zap.String("go_version", runtime.Version()),
			zap.String("gofulmen_version", version.Gofulmen),
			zap.String("crucible_version", version.Crucible))

		cfg, err := loadConfig(ctx, nil)
		if err != nil {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration check failed", err)
		}
		log.Info("Configuration ok", zap.String("config_path", config.DefaultConfigPath()))

		ai, err := ailink.NewService(cfg.AILink, log)
		if err != nil {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Provider check failed", err)
		}

		creds := ai.Providers.Rotator().Credentials()
		log.Info("Probing provider credentials",
			zap.String("provider", ai.Providers.ProviderID()),
			zap.Int("credentials", len(creds)))

		probes := probeCredentials(ctx, ai, creds, doctorTimeout)
		rendered, err := output.FormatProbes(format, ai.Providers.ProviderID(), probes)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)

		failed := 0
		for _, p := range probes {
			if !p.OK {
				failed++
			}
		}
		if failed > 0 {
			ExitWithCode(log, foundry.ExitExternalServiceUnavailable,
				fmt.Sprintf("%d of %d credentials failed", failed, len(probes)), nil)
		}
		return nil
	},
}

// probeCredentials checks each credential in pool order, one at a time, so
// a throttled key does not skew the others.
func probeCredentials(ctx context.Context, prober credentialProber, creds []ailink.Credential, timeout time.Duration) []output.ProbeResult {
	results := make([]output.ProbeResult, 0, len(creds))
	for _, cred := range creds {
		result := output.ProbeResult{Label: cred.Label, KeyHint: maskKey(cred.APIKey)}

		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		_, err := prober.Probe(probeCtx, cred, doctorProbeText)
		cancel()
		result.LatencyMS = time.Since(start).Milliseconds()

		if err == nil {
			result.OK = true
		} else {
			result.Code = ailink.CodeError
			var failure *ailink.ProviderFailure
			if errors.As(err, &failure) {
				result.Code = failure.ErrorCode()
			}
			result.Detail = err.Error()
		}
		results = append(results, result)
	}
	return results
}

func maskKey(apiKey string) string {
	apiKey = strings.TrimSpace(apiKey)
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "…" + apiKey[len(apiKey)-3:]
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", 30*time.Second, "timeout per credential probe")
	doctorCmd.Flags().StringVarP(&doctorOutput, "output", "o", string(output.FormatTable), "Output format: table|json|markdown|text")
}
