package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/nfs4client/internal/bytesize"
	"github.com/marmos91/nfs4client/pkg/client/retry"
)

// EnvPrefix prefixes every environment override, e.g.
// NFS4CLIENT_LOGGING_LEVEL=DEBUG.
const EnvPrefix = "NFS4CLIENT"

// Config is the client configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NFS4CLIENT_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// Server is the NFSv4 server the client mounts.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Cache tunes the metadata, directory and content caches.
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Retry tunes how transient server errors are retried.
	Retry retry.Config `mapstructure:"retry" yaml:"retry"`

	// IO bounds READ and WRITE sizes.
	IO IOConfig `mapstructure:"io" yaml:"io"`

	// IDMap maps NFSv4 owner principals to local ids.
	IDMap IDMapConfig `mapstructure:"idmap" yaml:"idmap"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN or ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector (host:port).
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces kept, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ServerConfig identifies the export to mount.
type ServerConfig struct {
	// Address is the server host:port.
	Address string `mapstructure:"address" validate:"required,hostname_port" yaml:"address"`

	// ClientName identifies this host to the server. Defaults to the
	// hostname.
	ClientName string `mapstructure:"client_name" yaml:"client_name"`

	// RenewInterval overrides the lease renewal period. Zero uses a third
	// of the server lease.
	RenewInterval time.Duration `mapstructure:"renew_interval" validate:"gte=0" yaml:"renew_interval"`
}

// CacheConfig tunes the client caches.
type CacheConfig struct {
	// NoMetadata disables the stat and access caches.
	NoMetadata bool `mapstructure:"no_metadata" yaml:"no_metadata"`

	MetadataTTL  time.Duration `mapstructure:"metadata_ttl" validate:"gte=0" yaml:"metadata_ttl"`
	DirectoryTTL time.Duration `mapstructure:"directory_ttl" validate:"gte=0" yaml:"directory_ttl"`

	// Content selects the content cache provider: memory or badger.
	Content string `mapstructure:"content" validate:"required,oneof=memory badger" yaml:"content"`

	// BadgerPath is the database directory of the badger provider. Empty
	// keeps the database in memory.
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path,omitempty"`

	// BlockSize is the content cache block size.
	BlockSize bytesize.ByteSize `mapstructure:"block_size" yaml:"block_size"`

	// FillDirRestarts bounds how often a listing restarts after the
	// directory changed underneath it.
	FillDirRestarts int `mapstructure:"fill_dir_restarts" validate:"gte=0" yaml:"fill_dir_restarts"`
}

// IOConfig bounds transfer sizes.
type IOConfig struct {
	// IOSize caps READ and WRITE below the server maximums.
	IOSize bytesize.ByteSize `mapstructure:"io_size" yaml:"io_size"`
}

// IDMapConfig configures the static identity mapper.
type IDMapConfig struct {
	// Domain is appended to names sent to the server.
	Domain string            `mapstructure:"domain" yaml:"domain,omitempty"`
	Users  map[string]uint32 `mapstructure:"users" yaml:"users,omitempty"`
	Groups map[string]uint32 `mapstructure:"groups" yaml:"groups,omitempty"`

	NobodyUID uint32 `mapstructure:"nobody_uid" yaml:"nobody_uid"`
	NobodyGID uint32 `mapstructure:"nobody_gid" yaml:"nobody_gid"`
}

// Load loads configuration from file, environment and defaults. A missing
// file yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration, failing with instructions when the file
// does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  nfs4client config init\n\n"+
				"Or specify a custom config file:\n"+
				"  nfs4client <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  nfs4client config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML to path.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reports whether a configuration file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook accepts human-readable sizes like "64Ki" or "1MB" as
// well as plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts duration strings like "30s" and raw
// nanosecond counts.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/nfs4client, ~/.config/nfs4client,
// or the current directory when no home is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nfs4client")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nfs4client")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
