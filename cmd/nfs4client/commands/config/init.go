package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfs4client/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file.

By default the file is created at $XDG_CONFIG_HOME/nfs4client/config.yaml.
Use --config to choose another path.

Examples:
  nfs4client config init
  nfs4client config init --config /etc/nfs4client/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	configPath := configFile
	var err error
	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set server.address to the NFSv4 server to mount")
	_, _ = fmt.Fprintln(out, "  2. Check the result with: nfs4client config validate")
	return nil
}
