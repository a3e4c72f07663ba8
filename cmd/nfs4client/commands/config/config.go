// Package config implements configuration management subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage nfs4client configuration files.

Subcommands:
  init      Write a default configuration file
  show      Display current configuration
  validate  Validate configuration file
  schema    Generate JSON schema for IDE/validation
  watch     Follow configuration changes and report reloads`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(schemaCmd)
	Cmd.AddCommand(watchCmd)
}
