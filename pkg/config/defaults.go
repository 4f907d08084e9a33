package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/zerocopy/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	cfg.API.ApplyDefaults()
	applyInstanceDefaults(&cfg.Instance)
	applyConsumerDefaults(&cfg.Consumer)
	applyProducerDefaults(&cfg.Producer, cfg.Instance)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyInstanceDefaults sets instance defaults. The socket path depends on
// the instance name.
func applyInstanceDefaults(cfg *InstanceConfig) {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Socket == "" {
		cfg.Socket = filepath.Join(getRuntimeDir(), cfg.Name+".sock")
	}
	if cfg.Slots == 0 {
		cfg.Slots = 16
	}
	if cfg.SlotSize == 0 {
		cfg.SlotSize = 64 * bytesize.KiB
	}
	if cfg.Alignment == 0 {
		cfg.Alignment = 64
	}
	if cfg.MemoryBackend == "" {
		cfg.MemoryBackend = "memfd"
	}
	if cfg.Integrity == "" {
		cfg.Integrity = "QM"
	}
	cfg.Integrity = strings.ToUpper(cfg.Integrity)
}

// applyConsumerDefaults sets consumer defaults.
func applyConsumerDefaults(cfg *ConsumerConfig) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.Recorder.Type == "" {
		cfg.Recorder.Type = "file"
	}
}

// applyProducerDefaults sets producer defaults. Payloads default to a full
// slot.
func applyProducerDefaults(cfg *ProducerConfig, inst InstanceConfig) {
	if cfg.SendInterval == 0 {
		cfg.SendInterval = 100 * time.Millisecond
	}
	if cfg.PayloadSize == 0 {
		cfg.PayloadSize = inst.SlotSize
	}
	if cfg.ReclaimInterval == 0 {
		cfg.ReclaimInterval = 50 * time.Millisecond
	}
}

// getRuntimeDir returns the directory for side-channel sockets.
//
// Uses XDG_RUNTIME_DIR if set, otherwise the system temporary directory.
func getRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "zcopy")
	}
	return filepath.Join(os.TempDir(), "zcopy")
}

// GetDefaultConfig returns a Config struct with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
