package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docrewrite/docrewrite/internal/ailink"
	"github.com/docrewrite/docrewrite/internal/observability"
	"github.com/docrewrite/docrewrite/internal/output"
	"github.com/docrewrite/docrewrite/internal/segment"
	"github.com/docrewrite/docrewrite/internal/service"
)

var (
	rewriteStyle       string
	rewriteOutput      string
	rewriteContentType string
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <file|->",
	Short: "Rewrite a document locally",
	Long: `Split a document into paragraphs and run each through the rewrite and
cleanup passes, printing the results. Use "-" to read plain text from stdin.

Plain text and markdown are always supported. Office and HTML documents
need a build with the docprims tag.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := output.ParseFormat(rewriteOutput)
		if err != nil {
			return err
		}

		name, data, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		segments, err := segment.Extract(name, rewriteContentType, data)
		if err != nil {
			return err
		}
		if len(segments) == 0 {
			return fmt.Errorf("%s contains no text", name)
		}

		cfg, err := loadConfig(ctx, nil)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		ai, err := ailink.NewService(cfg.AILink, observability.CLILogger)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Provider not configured", err)
		}
		pipeline := service.NewPipeline(cfg.Rewrite, service.NewRewriter(ai), observability.CLILogger)

		observability.CLILogger.Debug("Rewriting document",
			zap.String("input", name),
			zap.Int("segments", len(segments)),
			zap.String("provider", ai.Providers.ProviderID()))

		agg, err := pipeline.Run(ctx, segments, rewriteStyle)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatAggregate(agg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rendered)

		if len(agg.Results) == 0 && len(agg.Failed) > 0 {
			return fmt.Errorf("all %d segments failed", len(agg.Failed))
		}
		return nil
	},
}

func readInput(stdin io.Reader, path string) (string, []byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", nil, fmt.Errorf("read stdin: %w", err)
		}
		return "stdin.txt", data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}
	return filepath.Base(path), data, nil
}

func init() {
	rootCmd.AddCommand(rewriteCmd)

	rewriteCmd.Flags().StringVar(&rewriteStyle, "style", "", "rewrite style (defaults to rewrite.default_style)")
	rewriteCmd.Flags().StringVarP(&rewriteOutput, "output", "o", string(output.FormatTable), "Output format: table|json|markdown|text")
	rewriteCmd.Flags().StringVar(&rewriteContentType, "content-type", "", "override the content type detected from the file extension")
}
