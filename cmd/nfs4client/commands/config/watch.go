package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfs4client/pkg/config"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow configuration changes",
	Long: `Watch the configuration file and print a line every time it is
reloaded. Invalid edits are reported and ignored. The logging level and
format take effect immediately.

Examples:
  nfs4client config watch --config /etc/nfs4client/config.yaml`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}
	config.ApplyLive(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	err = config.Watch(ctx, configPath, func(cfg *config.Config) {
		config.ApplyLive(cfg)
		_, _ = fmt.Fprintf(out, "reloaded: server=%s log_level=%s\n", cfg.Server.Address, cfg.Logging.Level)
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", configPath)
	<-ctx.Done()
	return nil
}
