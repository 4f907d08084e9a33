package config

import (
	"fmt"

	"github.com/marmos91/zerocopy/internal/logger"
	"github.com/marmos91/zerocopy/internal/telemetry"
	"github.com/marmos91/zerocopy/pkg/memory"
	"github.com/marmos91/zerocopy/pkg/recorder"
)

// integrityLevels maps config names to memory integrity levels.
var integrityLevels = map[string]memory.IntegrityLevel{
	"QM":     memory.IntegrityQM,
	"ASIL-A": memory.IntegrityASILA,
	"ASIL-B": memory.IntegrityASILB,
	"ASIL-C": memory.IntegrityASILC,
	"ASIL-D": memory.IntegrityASILD,
}

// SlotConfig returns the slot memory layout of the instance.
func (c InstanceConfig) SlotConfig() memory.SlotMemoryConfig {
	return memory.SlotMemoryConfig{
		NumberSlots:          c.Slots,
		SlotContentSize:      c.SlotSize.Uint64(),
		SlotContentAlignment: c.Alignment,
	}
}

// IntegrityLevel returns the configured memory integrity level.
func (c InstanceConfig) IntegrityLevel() (memory.IntegrityLevel, error) {
	level, ok := integrityLevels[c.Integrity]
	if !ok {
		return 0, fmt.Errorf("unknown integrity level %q", c.Integrity)
	}
	return level, nil
}

// Provider returns the memory provider of the configured backend.
func (c InstanceConfig) Provider() (memory.Provider, error) {
	return memory.NewProvider(c.MemoryBackend)
}

// SinkConfig returns the recorder sink configuration.
func (c RecorderConfig) SinkConfig() recorder.SinkConfig {
	return recorder.SinkConfig{
		Type: c.Type,
		Path: c.Path,
		S3: recorder.S3Config{
			Bucket:          c.S3.Bucket,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			KeyPrefix:       c.S3.KeyPrefix,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			ForcePathStyle:  c.S3.ForcePathStyle,
		},
	}
}

// LoggerConfig returns the logger configuration.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// TelemetryConfig returns the tracing configuration for a service.
func (c *Config) TelemetryConfig(service, version string) telemetry.Config {
	return telemetry.Config{
		Enabled:    c.Telemetry.Enabled,
		Service:    c.service(service, version),
		Endpoint:   c.Telemetry.Endpoint,
		Insecure:   c.Telemetry.Insecure,
		SampleRate: c.Telemetry.SampleRate,
	}
}

// ProfilingConfig returns the profiling configuration for a service.
func (c *Config) ProfilingConfig(service, version string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:      c.Telemetry.Profiling.Enabled,
		Service:      c.service(service, version),
		Endpoint:     c.Telemetry.Profiling.Endpoint,
		ProfileTypes: c.Telemetry.Profiling.ProfileTypes,
	}
}

func (c *Config) service(name, version string) telemetry.Service {
	return telemetry.Service{Name: name, Version: version, Instance: c.Instance.Name}
}
