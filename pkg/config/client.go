package config

import (
	"context"
	"fmt"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/client/contentcache"
	"github.com/marmos91/nfs4client/pkg/client/idmap"
	"github.com/marmos91/nfs4client/pkg/client/metrics"
	"github.com/marmos91/nfs4client/pkg/client/mount"
	"github.com/marmos91/nfs4client/pkg/client/node"
	"github.com/marmos91/nfs4client/pkg/client/notify"
	"github.com/marmos91/nfs4client/pkg/client/retry"
)

// LoggerConfig converts the logging section for logger.Init.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// TelemetryConfig converts the telemetry section for telemetry.Init.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = c.Telemetry.Enabled
	tc.Endpoint = c.Telemetry.Endpoint
	tc.Insecure = c.Telemetry.Insecure
	tc.SampleRate = c.Telemetry.SampleRate
	if version != "" {
		tc.ServiceVersion = version
	}
	return tc
}

// NodeOptions converts the cache and io sections.
func (c *Config) NodeOptions() node.Options {
	return node.Options{
		CacheMetadata:   !c.Cache.NoMetadata,
		MetadataTTL:     c.Cache.MetadataTTL,
		DirectoryTTL:    c.Cache.DirectoryTTL,
		IOSize:          c.IO.IOSize,
		FillDirRestarts: c.Cache.FillDirRestarts,
	}
}

// RetryPolicy builds the retry policy of the retry section.
func (c *Config) RetryPolicy() *retry.Policy {
	return retry.NewPolicy(c.Retry)
}

// IDMapper builds the static identity mapper of the idmap section.
func (c *Config) IDMapper() idmap.Mapper {
	return idmap.NewStatic(idmap.StaticConfig{
		Domain:    c.IDMap.Domain,
		Users:     c.IDMap.Users,
		Groups:    c.IDMap.Groups,
		NobodyUID: c.IDMap.NobodyUID,
		NobodyGID: c.IDMap.NobodyGID,
	})
}

// ContentCache opens the configured content cache provider. The caller
// closes it.
func (c *Config) ContentCache(ctx context.Context) (contentcache.Provider, error) {
	switch c.Cache.Content {
	case "", "memory":
		return contentcache.NewMemory(uint64(c.Cache.BlockSize)), nil
	case "badger":
		p, err := contentcache.NewBadger(ctx, contentcache.BadgerConfig{
			Path:      c.Cache.BadgerPath,
			InMemory:  c.Cache.BadgerPath == "",
			BlockSize: uint64(c.Cache.BlockSize),
		})
		if err != nil {
			return nil, fmt.Errorf("open badger content cache: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown content cache %q", c.Cache.Content)
}

// MountConfig assembles the mount settings. The content cache, metrics and
// notifier are owned by the caller; nil values select the mount defaults.
func (c *Config) MountConfig(cache contentcache.Provider, m *metrics.Metrics, n notify.Notifier) mount.Config {
	return mount.Config{
		Server:        c.Server.Address,
		ClientName:    c.Server.ClientName,
		Node:          c.NodeOptions(),
		Retry:         c.RetryPolicy(),
		ContentCache:  cache,
		Notifier:      n,
		Metrics:       m,
		RenewInterval: c.Server.RenewInterval,
	}
}
