package config

import (
	"os"
	"strings"

	"github.com/marmos91/nfs4client/pkg/client/contentcache"
	"github.com/marmos91/nfs4client/pkg/client/idmap"
	"github.com/marmos91/nfs4client/pkg/client/node"
	"github.com/marmos91/nfs4client/pkg/client/retry"
)

// ApplyDefaults replaces zero values with defaults. Explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyServerDefaults(&cfg.Server)
	applyCacheDefaults(&cfg.Cache)
	applyRetryDefaults(&cfg.Retry)
	applyIODefaults(&cfg.IO)
	applyIDMapDefaults(&cfg.IDMap)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ClientName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.ClientName = host
		} else {
			cfg.ClientName = "nfs4client"
		}
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	def := node.DefaultOptions()
	if cfg.MetadataTTL == 0 {
		cfg.MetadataTTL = def.MetadataTTL
	}
	if cfg.DirectoryTTL == 0 {
		cfg.DirectoryTTL = def.DirectoryTTL
	}
	if cfg.Content == "" {
		cfg.Content = "memory"
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = contentcache.DefaultBlockSize
	}
	if cfg.FillDirRestarts == 0 {
		cfg.FillDirRestarts = def.FillDirRestarts
	}
}

func applyRetryDefaults(cfg *retry.Config) {
	def := retry.DefaultConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DelayBase == 0 {
		cfg.DelayBase = def.DelayBase
	}
	if cfg.DelayMax == 0 {
		cfg.DelayMax = def.DelayMax
	}
	if cfg.GraceDelay == 0 {
		cfg.GraceDelay = def.GraceDelay
	}
}

func applyIODefaults(cfg *IOConfig) {
	if cfg.IOSize == 0 {
		cfg.IOSize = node.DefaultOptions().IOSize
	}
}

func applyIDMapDefaults(cfg *IDMapConfig) {
	if cfg.NobodyUID == 0 {
		cfg.NobodyUID = idmap.Nobody
	}
	if cfg.NobodyGID == 0 {
		cfg.NobodyGID = idmap.Nobody
	}
}

// GetDefaultConfig returns a Config with every default applied. The
// server address is a placeholder to be edited.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Address: "localhost:2049"},
	}
	ApplyDefaults(cfg)
	return cfg
}
