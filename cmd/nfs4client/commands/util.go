package commands

import (
	"context"
	"fmt"

	"github.com/marmos91/nfs4client/internal/logger"
	"github.com/marmos91/nfs4client/internal/telemetry"
	"github.com/marmos91/nfs4client/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// InitTelemetry starts tracing when enabled. The returned function flushes
// and stops the exporter.
func InitTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	shutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(Version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}, nil
}
