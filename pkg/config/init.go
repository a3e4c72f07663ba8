package config

import (
	"fmt"
	"os"
)

// InitConfig writes the default configuration to the default path and
// returns that path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}
	return SaveConfig(GetDefaultConfig(), path)
}
