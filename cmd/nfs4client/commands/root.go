// Package commands implements the nfs4client command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/nfs4client/cmd/nfs4client/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "nfs4client",
	Short: "NFSv4 client node layer",
	Long: `nfs4client is the node layer of a userspace NFSv4.0 client: cached
lookups and listings, open and lock state, delegations and recovery from
server state loss.

Use "nfs4client [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/nfs4client/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(config.Cmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
