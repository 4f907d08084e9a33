package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/internal/telemetry"
	"github.com/marmos91/zerocopy/pkg/api"
	"github.com/marmos91/zerocopy/pkg/api/handlers"
	"github.com/marmos91/zerocopy/pkg/config"
	"github.com/marmos91/zerocopy/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfig loads the --config file, or the default file when it exists,
// falling back to defaults and environment overrides.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.MustLoad(cfgFile)
	}
	return config.Load("")
}

// configSource describes where the configuration was loaded from.
func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// setupObservability starts tracing, profiling and the metrics registry. The
// returned function flushes and stops them.
func setupObservability(ctx context.Context, cfg *config.Config, service string) (func(), error) {
	telemetryShutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(service, Version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingConfig(service, Version))
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	logger.Info("Configuration loaded", "source", configSource(), logger.Instance(cfg.Instance.Name))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}
	if metrics.IsEnabled() {
		logger.Info("Metrics enabled", "path", "/metrics")
	}

	return func() {
		// The run context is already cancelled; give exporters time to flush.
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(flushCtx); err != nil {
			logger.Error("Telemetry shutdown error", logger.Err(err))
		}
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", logger.Err(err))
		}
	}, nil
}

// startAuxiliary runs the API server and the config watcher in g.
func startAuxiliary(ctx context.Context, g *errgroup.Group, cfg *config.Config, source handlers.Source) {
	if cfg.API.IsEnabled() {
		srv := api.NewServer(cfg.API, "zcopy", source)
		g.Go(func() error { return srv.Start(ctx) })
	} else {
		logger.Info("API server disabled")
	}

	path := cfgFile
	if path == "" && config.DefaultConfigExists() {
		path = config.GetDefaultConfigPath()
	}
	if path != "" {
		g.Go(func() error {
			if err := config.Watch(ctx, path, config.ApplyLogLevel); err != nil {
				// Live reload is best effort.
				logger.Warn("Config watcher stopped", "path", path, logger.Err(err))
			}
			return nil
		})
	}
}

// waitForShutdown waits for g. Once ctx is cancelled, g gets timeout to
// finish.
func waitForShutdown(ctx context.Context, g *errgroup.Group, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	}

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("graceful shutdown timed out")
	}
}
