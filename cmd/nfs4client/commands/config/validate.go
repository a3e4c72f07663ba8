package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfs4client/internal/cli/output"
	"github.com/marmos91/nfs4client/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the nfs4client configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  nfs4client config validate
  nfs4client config validate --config /etc/nfs4client/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Cache.Content == "badger" && cfg.Cache.BadgerPath == "" {
		warnings = append(warnings, "cache.badger_path not set - badger content cache is kept in memory")
	}
	if cfg.Cache.NoMetadata {
		warnings = append(warnings, "metadata cache disabled - every stat goes to the server")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	return output.PrintPairs(out, [][2]string{
		{"Server", cfg.Server.Address},
		{"Client name", cfg.Server.ClientName},
		{"Content cache", cfg.Cache.Content},
		{"I/O size", cfg.IO.IOSize.String()},
		{"Retry attempts", fmt.Sprint(cfg.Retry.MaxAttempts)},
		{"Log level", cfg.Logging.Level},
	})
}
