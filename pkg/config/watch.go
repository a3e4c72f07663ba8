package config

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/marmos91/nfs4client/internal/logger"
)

// Watch calls onChange with the reloaded configuration every time the file
// at path is written, until ctx is done. Reloads that fail to decode or
// validate are logged and skipped; the previous configuration stays in
// effect.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		path = GetDefaultConfigPath()
	}

	v := viper.New()
	setupViper(v, path)
	found, err := readConfigFile(v)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("configuration file not found: %s", path)
	}

	changes := make(chan struct{}, 1)
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	v.WatchConfig()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				cfg, err := decode(v)
				if err != nil {
					logger.Warn("ignoring invalid configuration", "path", path, logger.Err(err))
					continue
				}
				logger.Info("configuration reloaded", "path", path)
				onChange(cfg)
			}
		}
	}()
	return nil
}

// ApplyLive pushes the settings that can change without remounting.
// Currently that is the logging level and format.
func ApplyLive(cfg *Config) {
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
}
