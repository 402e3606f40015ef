package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/srg/blimp/internal/sampler"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "blimp", cfg.Device.Name)
	assert.Equal(t, "12345678-1234-1234-1234-123456789abc", cfg.Device.ServiceUUID)
	assert.Equal(t, "87654321-4321-4321-4321-210987654321", cfg.Device.CharacteristicUUID)
	assert.Equal(t, "tinygo", cfg.Stack.Backend)
	assert.Equal(t, uint16(6), cfg.Stack.MinPreferred)
	assert.Equal(t, uint16(18), cfg.Stack.MaxPreferred)
	assert.False(t, cfg.Stack.ScanResponse)
	assert.Equal(t, 5*time.Second, cfg.ReadvertiseInterval)
	assert.Equal(t, DecoderBuiltin, cfg.Decoder.Kind)
	assert.Equal(t, sampler.DefaultParameters(), cfg.Sampler)
	assert.False(t, cfg.Console.Enabled)
	assert.Equal(t, 16384, cfg.Console.WriteCapacity)
	assert.Equal(t, uint32(256), cfg.JournalSize)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
device:
  name: bag-collector
  service_uuid: "180D"
stack:
  backend: goble
  advertise_interval: 100ms
readvertise_interval: 2s
decoder:
  kind: lua
  script: ./decoder.lua
sampler:
  sampling_time: 10s
  num_purge_cycles: 5
console:
  enabled: true
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "bag-collector", cfg.Device.Name)
	assert.Equal(t, "0000180d-0000-1000-8000-00805f9b34fb", cfg.Device.ServiceUUID, "validate canonicalizes UUIDs")
	assert.Equal(t, "87654321-4321-4321-4321-210987654321", cfg.Device.CharacteristicUUID, "unset keys keep defaults")
	assert.Equal(t, "go-ble", cfg.Stack.Backend)
	assert.Equal(t, 100*time.Millisecond, cfg.Stack.AdvertiseInterval)
	assert.Equal(t, 2*time.Second, cfg.ReadvertiseInterval)
	assert.Equal(t, DecoderLua, cfg.Decoder.Kind)
	assert.Equal(t, "./decoder.lua", cfg.Decoder.Script)
	assert.Equal(t, 10*time.Second, cfg.Sampler.SamplingTime)
	assert.Equal(t, 5*time.Second, cfg.Sampler.FillingTime)
	assert.Equal(t, 5, cfg.Sampler.NumPurgeCycles)
	assert.True(t, cfg.Console.Enabled)
	assert.Equal(t, 16384, cfg.Console.WriteCapacity)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_DefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "blimp")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("device:\n  name: from-home\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-home", cfg.Device.Name)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "device: [unclosed"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty name", func(c *Config) { c.Device.Name = "" }, "device.name cannot be empty"},
		{"bad service uuid", func(c *Config) { c.Device.ServiceUUID = "not-a-uuid" }, "device:"},
		{"empty characteristic uuid", func(c *Config) { c.Device.CharacteristicUUID = "" }, "cannot be empty"},
		{"unknown backend", func(c *Config) { c.Stack.Backend = "bluez" }, "stack.backend"},
		{"negative advertise interval", func(c *Config) { c.Stack.AdvertiseInterval = -time.Second }, "advertise_interval"},
		{"inverted connection hints", func(c *Config) { c.Stack.MinPreferred = 40 }, "min_preferred"},
		{"zero readvertise interval", func(c *Config) { c.ReadvertiseInterval = 0 }, "readvertise_interval"},
		{"unknown decoder", func(c *Config) { c.Decoder.Kind = "python" }, "decoder.kind"},
		{"too many purge cycles", func(c *Config) { c.Sampler.NumPurgeCycles = sampler.MaxPurgeCycles + 1 }, "sampler:"},
		{"negative console capacity", func(c *Config) { c.Console.WriteCapacity = -1 }, "write_capacity"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.Name = ""
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, strings.Split(err.Error(), "\n"), 2)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}

			logger := cfg.NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_YAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stack.Backend = "go-ble"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, out, "readvertise_interval: 5s")
	assert.Contains(t, out, "sampling_time: 5s")

	var back Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, *cfg, back)
}

func TestStackConfig_Advertising(t *testing.T) {
	opts := StackConfig{AdvertiseInterval: 100 * time.Millisecond, MinPreferred: 6, MaxPreferred: 18, ScanResponse: true}.Advertising()

	assert.Equal(t, 100*time.Millisecond, opts.Interval)
	assert.True(t, opts.ScanResponse)
	assert.Equal(t, uint16(6), opts.MinPreferred)
	assert.Equal(t, uint16(18), opts.MaxPreferred)
	assert.Empty(t, opts.LocalName)
}
