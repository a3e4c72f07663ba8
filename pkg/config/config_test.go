package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfs4client/internal/bytesize"
	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/pkg/client/contentcache"
	"github.com/marmos91/nfs4client/pkg/client/idmap"
	"github.com/marmos91/nfs4client/pkg/client/retry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
server:
  address: "nfs.example.com:2049"
  renew_interval: 20s
cache:
  metadata_ttl: 2s
  block_size: 128Ki
  content: badger
io:
  io_size: 1Mi
retry:
  max_attempts: 3
idmap:
  domain: example.com
  users:
    alice: 1000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "nfs.example.com:2049", cfg.Server.Address)
	assert.Equal(t, 20*time.Second, cfg.Server.RenewInterval)
	assert.NotEmpty(t, cfg.Server.ClientName)
	assert.Equal(t, 2*time.Second, cfg.Cache.MetadataTTL)
	assert.Equal(t, 128*bytesize.KiB, cfg.Cache.BlockSize)
	assert.Equal(t, "badger", cfg.Cache.Content)
	assert.Equal(t, bytesize.MiB, cfg.IO.IOSize)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, retry.DefaultConfig().DelayMax, cfg.Retry.DelayMax)
	assert.Equal(t, uint32(1000), cfg.IDMap.Users["alice"])
	assert.Equal(t, idmap.Nobody, cfg.IDMap.NobodyUID)
}

func TestLoadNoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().Server.Address, cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Cache.Content)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"level", "server:\n  address: \"h:1\"\nlogging:\n  level: LOUD\n", "Level"},
		{"format", "server:\n  address: \"h:1\"\nlogging:\n  format: xml\n", "Format"},
		{"address", "server:\n  address: nowhere\n", "Address"},
		{"content", "server:\n  address: \"h:1\"\ncache:\n  content: redis\n", "Content"},
		{"sample rate", "server:\n  address: \"h:1\"\ntelemetry:\n  sample_rate: 2\n", "SampleRate"},
		{"delays", "server:\n  address: \"h:1\"\nretry:\n  delay_base: 10s\n  delay_max: 1s\n", "DelayMax"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadEnvironmentVariables(t *testing.T) {
	t.Setenv("NFS4CLIENT_LOGGING_LEVEL", "ERROR")
	t.Setenv("NFS4CLIENT_SERVER_ADDRESS", "other:2049")

	path := writeConfig(t, `
logging:
  level: INFO
server:
  address: "nfs:2049"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
	assert.Equal(t, "other:2049", cfg.Server.Address)
}

func TestMustLoadMissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config init")
}

func TestGetDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, Validate(GetDefaultConfig()))
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "warn", Format: "json", Output: "stdout"},
		Cache:   CacheConfig{MetadataTTL: time.Minute, Content: "badger", BlockSize: 4 * bytesize.KiB},
		Retry:   retry.Config{MaxAttempts: 9},
		Metrics: MetricsConfig{Enabled: true},
	}
	ApplyDefaults(cfg)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, time.Minute, cfg.Cache.MetadataTTL)
	assert.Equal(t, 4*bytesize.KiB, cfg.Cache.BlockSize)
	assert.Equal(t, 9, cfg.Retry.MaxAttempts)
	assert.Equal(t, retry.DefaultConfig().DelayBase, cfg.Retry.DelayBase)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().Cache, cfg.Cache)

	err = InitConfigToPath(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.NoError(t, InitConfigToPath(path, true))
}

func TestGetDefaultConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "nfs4client", "config.yaml"), GetDefaultConfigPath())
	assert.False(t, DefaultConfigExists())

	path, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), path)
	assert.True(t, DefaultConfigExists())
}

func TestConversions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Cache.NoMetadata = true
	cfg.IDMap.Domain = "example.com"
	cfg.IDMap.Users = map[string]uint32{"alice": 1000}

	opts := cfg.NodeOptions()
	assert.False(t, opts.CacheMetadata)
	assert.Equal(t, cfg.IO.IOSize, opts.IOSize)
	assert.Equal(t, cfg.Cache.FillDirRestarts, opts.FillDirRestarts)

	assert.Equal(t, cfg.Retry, cfg.RetryPolicy().Config())

	m := cfg.IDMapper()
	assert.Equal(t, uint32(1000), m.UserID("alice@example.com"))
	assert.Equal(t, "alice@example.com", m.Owner(1000))

	tc := cfg.TelemetryConfig("1.2.3")
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.Equal(t, cfg.Telemetry.Endpoint, tc.Endpoint)

	lc := cfg.LoggerConfig()
	assert.Equal(t, cfg.Logging.Level, lc.Level)

	mc := cfg.MountConfig(nil, nil, nil)
	assert.Equal(t, cfg.Server.Address, mc.Server)
	assert.Equal(t, cfg.Server.ClientName, mc.ClientName)
	assert.Equal(t, opts, mc.Node)
	assert.Equal(t, cfg.Retry, mc.Retry.Config())
}

func TestContentCacheProviders(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig()

	p, err := cfg.ContentCache(ctx)
	require.NoError(t, err)
	assert.IsType(t, &contentcache.Memory{}, p)
	require.NoError(t, p.Close())

	cfg.Cache.Content = "badger"
	p, err = cfg.ContentCache(ctx)
	require.NoError(t, err)
	assert.IsType(t, &contentcache.Badger{}, p)
	require.NoError(t, p.Close())

	cfg.Cache.Content = "tape"
	_, err = cfg.ContentCache(ctx)
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \"nfs:2049\"\nlogging:\n  level: INFO\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }))

	content := "server:\n  address: \"nfs:2049\"\nlogging:\n  level: DEBUG\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "DEBUG", cfg.Logging.Level)
		ApplyLive(cfg)
		assert.Equal(t, logger.LevelDebug, logger.GetLevel())
		logger.SetLevel("INFO")
	case <-time.After(5 * time.Second):
		t.Fatal("configuration change not observed")
	}
}

func TestWatchMissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), func(*Config) {})
	assert.Error(t, err)
}
