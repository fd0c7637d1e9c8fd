package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docrewrite/docrewrite/internal/auth"
)

var (
	tokenSubject string
	tokenAPIKey  bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token or generate an API key",
	Long: `Mint an HS256 bearer token for --subject using auth.jwt_secret, or with
--api-key print a fresh sk-<uuid> key to add to auth.api_keys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if tokenAPIKey {
			fmt.Fprintln(out, auth.NewAPIKey())
			return nil
		}

		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			return err
		}
		// Minting only needs the secret, not an enabled authenticator.
		authCfg := cfg.Auth
		authCfg.Enabled = false
		a, err := auth.New(authCfg)
		if err != nil {
			return err
		}

		token, expires, err := a.MintToken(tokenSubject)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (caller name)")
	tokenCmd.Flags().BoolVar(&tokenAPIKey, "api-key", false, "generate an API key instead of a token")
}
