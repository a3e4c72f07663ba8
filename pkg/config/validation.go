package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks struct tags first, then the rules tags cannot express.
// Log level case is normalized in ApplyDefaults; both cases validate.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Cache.BlockSize != 0 && cfg.IO.IOSize != 0 && cfg.Cache.BlockSize > cfg.IO.IOSize*64 {
		return fmt.Errorf("cache.block_size: %s is too large for io.io_size %s",
			cfg.Cache.BlockSize, cfg.IO.IOSize)
	}

	for name, uid := range cfg.IDMap.Users {
		if name == "" {
			return fmt.Errorf("idmap.users: empty user name for uid %d", uid)
		}
	}
	for name, gid := range cfg.IDMap.Groups {
		if name == "" {
			return fmt.Errorf("idmap.groups: empty group name for gid %d", gid)
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		return fmt.Errorf("metrics: port is required when metrics are enabled")
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
