// Package config loads the zcopy configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (ZEROCOPY_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/zerocopy/internal/bytesize"
	"github.com/marmos91/zerocopy/pkg/api"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "ZEROCOPY"

// Config represents the zcopy configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the status HTTP server
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Instance describes the zero-copy instance shared by producer and consumers
	Instance InstanceConfig `mapstructure:"instance" yaml:"instance"`

	// Consumer configures 'zcopy consume'
	Consumer ConsumerConfig `mapstructure:"consumer" yaml:"consumer"`

	// Producer configures 'zcopy produce'
	Producer ProducerConfig `mapstructure:"producer" yaml:"producer"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus metrics. Metrics are served on the
// API server's /metrics route.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// InstanceConfig describes one zero-copy instance. Producer and consumers of
// the same instance must agree on it.
type InstanceConfig struct {
	// Name identifies the instance in logs, metrics and memory object names
	// Default: "default"
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Socket is the Unix socket path of the producer's side channel
	// Default: $XDG_RUNTIME_DIR/zcopy/<name>.sock
	Socket string `mapstructure:"socket" validate:"required" yaml:"socket"`

	// Slots is the number of slots in the slot memory
	// Default: 16
	Slots uint32 `mapstructure:"slots" validate:"required,min=1,max=65536" yaml:"slots"`

	// SlotSize is the usable content size of one slot
	// Supports human-readable formats: "64KiB", "1MB"
	// Default: 64KiB
	SlotSize bytesize.ByteSize `mapstructure:"slot_size" validate:"required,gt=0" yaml:"slot_size"`

	// Alignment is the slot alignment in bytes (power of two)
	// Default: 64
	Alignment uint64 `mapstructure:"alignment" validate:"required,power_of_two" yaml:"alignment"`

	// MemoryBackend selects the shared memory implementation
	// Valid values: memfd, heap
	// Default: memfd
	MemoryBackend string `mapstructure:"memory_backend" validate:"required,oneof=memfd heap" yaml:"memory_backend"`

	// Integrity is the integrity level of allocated memory
	// Valid values: QM, ASIL-A, ASIL-B, ASIL-C, ASIL-D
	// Default: QM
	Integrity string `mapstructure:"integrity" validate:"required,oneof=QM ASIL-A ASIL-B ASIL-C ASIL-D" yaml:"integrity"`
}

// ConsumerConfig configures the consumer.
type ConsumerConfig struct {
	// Listen selects notification-driven receiving instead of polling
	// Default: true
	Listen *bool `mapstructure:"listen" yaml:"listen"`

	// PollInterval is the receive interval when not listening
	// Default: 10ms
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0" yaml:"poll_interval"`

	// Recorder archives received payloads
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
}

// IsListening returns whether the consumer waits for notifications.
// Defaults to true if not explicitly set.
func (c *ConsumerConfig) IsListening() bool {
	if c.Listen == nil {
		return true
	}
	return *c.Listen
}

// RecorderConfig selects the sink received payloads are archived to.
type RecorderConfig struct {
	// Enabled controls whether payloads are recorded
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Type is the sink type
	// Valid values: file, badger, s3, memory
	// Default: file
	Type string `mapstructure:"type" validate:"omitempty,oneof=file badger s3 memory" yaml:"type"`

	// Path is the directory of the file and badger sinks
	Path string `mapstructure:"path" validate:"required_if=Enabled true Type file,required_if=Enabled true Type badger" yaml:"path,omitempty"`

	// S3 configures the s3 sink
	S3 RecorderS3Config `mapstructure:"s3" yaml:"s3,omitempty"`
}

// RecorderS3Config configures the S3 recorder sink.
type RecorderS3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`

	// Region is the AWS region (optional)
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint is the S3 endpoint URL for S3-compatible services (optional)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to all record keys
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// AccessKeyID and SecretAccessKey select static credentials
	// Override: ZEROCOPY_CONSUMER_RECORDER_S3_SECRET_ACCESS_KEY
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle forces path-style addressing (MinIO, Localstack)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// ProducerConfig configures the producer.
type ProducerConfig struct {
	// SendInterval is the interval between generated payloads
	// Default: 100ms
	SendInterval time.Duration `mapstructure:"send_interval" validate:"gt=0" yaml:"send_interval"`

	// PayloadSize is the size of generated payloads; must fit a slot
	// Default: the slot size
	PayloadSize bytesize.ByteSize `mapstructure:"payload_size" yaml:"payload_size"`

	// ReclaimInterval is the interval of background slot reclamation
	// Default: 50ms
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval" validate:"gt=0" yaml:"reclaim_interval"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches the default location. A missing file is not
// an error: defaults and environment overrides are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

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

// MustLoad loads configuration and requires the file to exist, with
// instructions on how to create one when it does not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  zcopy config init\n\n"+
				"Or specify a custom config file:\n"+
				"  zcopy <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  zcopy config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML format, replacing any
// existing file. Config files may carry S3 credentials and are written 0600.
func SaveConfig(cfg *Config, path string) error {
	return WriteConfig(path, cfg, true)
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: ZEROCOPY_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnvKeys registers every config key with viper. AutomaticEnv alone only
// applies to keys viper already knows, which excludes keys absent from the
// config file.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := f.Type
		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Duration(0)) {
			bindEnvKeys(v, ft, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
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

// configDecodeHooks returns a combined decode hook for ByteSize and
// time.Duration values.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize so
// config files can use sizes like "64KiB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
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

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
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

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "zcopy")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "zcopy")
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

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
