package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/zerocopy/internal/bytesize"
	"github.com/marmos91/zerocopy/pkg/memory"
	"gopkg.in/yaml.v3"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_FileValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
logging:
  level: "debug"

instance:
  name: camera
  socket: "`+yamlSafePath(dir)+`/camera.sock"
  slots: 8
  slot_size: 2MiB
  alignment: 4096
  memory_backend: heap
  integrity: asil-b

consumer:
  listen: false
  poll_interval: 5ms
  recorder:
    enabled: true
    type: badger
    path: "`+yamlSafePath(dir)+`/records"

producer:
  send_interval: 1s
  payload_size: 1MiB
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Instance.Name != "camera" || cfg.Instance.Slots != 8 {
		t.Errorf("Unexpected instance %+v", cfg.Instance)
	}
	if cfg.Instance.SlotSize != 2*bytesize.MiB {
		t.Errorf("Expected slot size 2MiB, got %s", cfg.Instance.SlotSize)
	}
	if cfg.Instance.Integrity != "ASIL-B" {
		t.Errorf("Expected integrity normalized to ASIL-B, got %q", cfg.Instance.Integrity)
	}
	if cfg.Consumer.IsListening() {
		t.Error("Expected listening disabled")
	}
	if cfg.Consumer.PollInterval != 5*time.Millisecond {
		t.Errorf("Expected poll interval 5ms, got %v", cfg.Consumer.PollInterval)
	}
	if cfg.Producer.SendInterval != time.Second {
		t.Errorf("Expected send interval 1s, got %v", cfg.Producer.SendInterval)
	}
	if cfg.Producer.PayloadSize != bytesize.MiB {
		t.Errorf("Expected payload size 1MiB, got %s", cfg.Producer.PayloadSize)
	}
	if cfg.Producer.ReclaimInterval != 50*time.Millisecond {
		t.Errorf("Expected default reclaim interval 50ms, got %v", cfg.Producer.ReclaimInterval)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("Expected default API port 7070, got %d", cfg.API.Port)
	}
	if filepath.Base(cfg.Instance.Socket) != "default.sock" {
		t.Errorf("Expected default socket name, got %q", cfg.Instance.Socket)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: INFO
  invalid yaml here [[[
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_InvalidSize(t *testing.T) {
	path := writeConfig(t, `
instance:
  slot_size: lots
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Expected error with invalid slot size, got nil")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("ZEROCOPY_LOGGING_LEVEL", "ERROR")
	t.Setenv("ZEROCOPY_API_PORT", "9091")
	t.Setenv("ZEROCOPY_INSTANCE_SLOTS", "32")
	t.Setenv("ZEROCOPY_INSTANCE_SLOT_SIZE", "4KiB")
	t.Setenv("ZEROCOPY_PRODUCER_PAYLOAD_SIZE", "1KiB")

	path := writeConfig(t, `
logging:
  level: "INFO"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.API.Port != 9091 {
		t.Errorf("Expected port 9091 from env var, got %d", cfg.API.Port)
	}
	if cfg.Instance.Slots != 32 {
		t.Errorf("Expected 32 slots from env var (key absent from file), got %d", cfg.Instance.Slots)
	}
	if cfg.Instance.SlotSize != 4*bytesize.KiB {
		t.Errorf("Expected slot size 4KiB from env var, got %s", cfg.Instance.SlotSize)
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "zcopy config init") {
		t.Errorf("Expected init instructions, got: %v", err)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected default shutdown timeout 10s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Instance.Slots != 16 || cfg.Instance.SlotSize != 64*bytesize.KiB || cfg.Instance.Alignment != 64 {
		t.Errorf("Unexpected default instance %+v", cfg.Instance)
	}
	if cfg.Producer.PayloadSize != cfg.Instance.SlotSize {
		t.Errorf("Expected payload size to default to slot size, got %s", cfg.Producer.PayloadSize)
	}
	if !cfg.Consumer.IsListening() {
		t.Error("Expected consumer to listen by default")
	}
	if !cfg.API.IsEnabled() {
		t.Error("Expected API enabled by default")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if filepath.Base(GetConfigDir()) != "zcopy" {
		t.Errorf("Expected directory name 'zcopy', got %q", GetConfigDir())
	}
	if filepath.Base(GetDefaultConfigPath()) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", GetDefaultConfigPath())
	}
	if DefaultConfigExists() {
		t.Error("Expected no config in a fresh directory")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults"},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "LOUD" }, wantErr: "oneof"},
		{name: "invalid log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "oneof"},
		{name: "api port out of range", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: "max"},
		{name: "zero slots", mutate: func(c *Config) { c.Instance.Slots = 0 }, wantErr: "Slots"},
		{name: "too many slots", mutate: func(c *Config) { c.Instance.Slots = 1 << 17 }, wantErr: "max"},
		{name: "alignment not power of two", mutate: func(c *Config) { c.Instance.Alignment = 48 }, wantErr: "power_of_two"},
		{name: "unknown backend", mutate: func(c *Config) { c.Instance.MemoryBackend = "tmpfs" }, wantErr: "oneof"},
		{name: "unknown integrity", mutate: func(c *Config) { c.Instance.Integrity = "SIL-4" }, wantErr: "oneof"},
		{name: "sample rate above one", mutate: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: "lte"},
		{
			name:    "payload larger than slot",
			mutate:  func(c *Config) { c.Producer.PayloadSize = c.Instance.SlotSize + 1 },
			wantErr: "exceeds",
		},
		{
			name: "file recorder without path",
			mutate: func(c *Config) {
				c.Consumer.Recorder.Enabled = true
				c.Consumer.Recorder.Type = "file"
			},
			wantErr: "required_if",
		},
		{
			name: "disabled recorder needs no path",
			mutate: func(c *Config) {
				c.Consumer.Recorder.Type = "badger"
			},
		},
		{
			name: "s3 recorder without bucket",
			mutate: func(c *Config) {
				c.Consumer.Recorder.Enabled = true
				c.Consumer.Recorder.Type = "s3"
			},
			wantErr: "bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestRuntimeConversions(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Instance.Integrity = "ASIL-D"
	cfg.Consumer.Recorder.S3.Bucket = "frames"

	slots := cfg.Instance.SlotConfig()
	if slots.NumberSlots != 16 || slots.SlotContentSize != 64*1024 || slots.SlotContentAlignment != 64 {
		t.Errorf("Unexpected slot config %+v", slots)
	}

	level, err := cfg.Instance.IntegrityLevel()
	if err != nil || level != memory.IntegrityASILD {
		t.Errorf("Expected ASIL-D, got %v (%v)", level, err)
	}
	cfg.Instance.Integrity = "bogus"
	if _, err := cfg.Instance.IntegrityLevel(); err == nil {
		t.Error("Expected error for unknown integrity level")
	}

	if sink := cfg.Consumer.Recorder.SinkConfig(); sink.Type != "file" || sink.S3.Bucket != "frames" {
		t.Errorf("Unexpected sink config %+v", sink)
	}

	tc := cfg.TelemetryConfig("zcopy-produce", "1.2.3")
	if tc.Service.Instance != "default" || tc.Service.Version != "1.2.3" || tc.SampleRate != 1.0 {
		t.Errorf("Unexpected telemetry config %+v", tc)
	}
	pc := cfg.ProfilingConfig("zcopy-produce", "1.2.3")
	if pc.Service.Instance != "default" || len(pc.ProfileTypes) == 0 {
		t.Errorf("Unexpected profiling config %+v", pc)
	}
	if lc := cfg.LoggerConfig(); lc.Level != "INFO" || lc.Format != "text" {
		t.Errorf("Unexpected logger config %+v", lc)
	}
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom", "config.yaml")

	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	for _, section := range []string{"# zcopy Configuration File", "logging:", "instance:", "consumer:", "producer:", "slot_size: 64KiB"} {
		if !strings.Contains(string(content), section) {
			t.Errorf("Config file missing %q", section)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}

	if err := InitConfigToPath(path, false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
	if err := InitConfigToPath(path, true); err != nil {
		t.Errorf("InitConfigToPath with force failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if loaded.Instance.SlotSize != 64*bytesize.KiB {
		t.Errorf("Expected slot size to round-trip, got %s", loaded.Instance.SlotSize)
	}
}

func TestInitConfig_DefaultLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if path != GetDefaultConfigPath() {
		t.Errorf("Expected %s, got %s", GetDefaultConfigPath(), path)
	}
	if !DefaultConfigExists() {
		t.Error("Expected config to exist after init")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestSaveConfig_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := GetDefaultConfig()

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	cfg.Instance.Name = "renamed"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig overwrite failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Instance.Name != "renamed" {
		t.Errorf("Expected saved name, got %q", loaded.Instance.Name)
	}
}
