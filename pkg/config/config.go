// Package config loads the blimp YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/sampler"
	"github.com/srg/blimp/internal/stackfactory"
)

// Decoder kinds.
const (
	DecoderBuiltin = "builtin"
	DecoderLua     = "lua"
)

// DeviceConfig names the peripheral and its single service/characteristic.
type DeviceConfig struct {
	Name               string `yaml:"name" default:"blimp"`
	ServiceUUID        string `yaml:"service_uuid" default:"12345678-1234-1234-1234-123456789abc"`
	CharacteristicUUID string `yaml:"characteristic_uuid" default:"87654321-4321-4321-4321-210987654321"`
}

// StackConfig selects the BLE backend and its advertising parameters.
type StackConfig struct {
	Backend           string        `yaml:"backend" default:"tinygo"`
	AdvertiseInterval time.Duration `yaml:"advertise_interval"`
	MinPreferred      uint16        `yaml:"min_preferred" default:"6"`
	MaxPreferred      uint16        `yaml:"max_preferred" default:"18"`
	ScanResponse      bool          `yaml:"scan_response" default:"false"`
}

// Advertising converts the section into adapter options.
func (s StackConfig) Advertising() peripheral.AdvertisingOptions {
	return peripheral.AdvertisingOptions{
		Interval:     s.AdvertiseInterval,
		ScanResponse: s.ScanResponse,
		MinPreferred: s.MinPreferred,
		MaxPreferred: s.MaxPreferred,
	}
}

type DecoderConfig struct {
	Kind   string `yaml:"kind" default:"builtin"`
	Script string `yaml:"script,omitempty"` // empty with kind lua uses the embedded script
}

type ConsoleConfig struct {
	Enabled       bool `yaml:"enabled"`
	WriteCapacity int  `yaml:"write_capacity" default:"16384"`
}

// Config holds application configuration
type Config struct {
	Device              DeviceConfig       `yaml:"device"`
	Stack               StackConfig        `yaml:"stack"`
	ReadvertiseInterval time.Duration      `yaml:"readvertise_interval" default:"5s"`
	Decoder             DecoderConfig      `yaml:"decoder"`
	Sampler             sampler.Parameters `yaml:"sampler"`
	Console             ConsoleConfig      `yaml:"console"`
	JournalSize         uint32             `yaml:"journal_size" default:"256"`
	LogLevel            string             `yaml:"log_level" default:"info"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns ~/.config/blimp/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blimp", "config.yaml")
}

// Load reads path over the defaults. A missing file at the default path is
// not an error; a missing explicitly named file is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the backend, UUIDs, log level and durations, and
// normalizes the UUIDs and backend name in place.
func (c *Config) Validate() error {
	var errs []error

	if c.Device.Name == "" {
		errs = append(errs, errors.New("device.name cannot be empty"))
	}
	if uuids, err := peripheral.ValidateUUID(c.Device.ServiceUUID, c.Device.CharacteristicUUID); err != nil {
		errs = append(errs, fmt.Errorf("device: %w", err))
	} else {
		c.Device.ServiceUUID, c.Device.CharacteristicUUID = uuids[0], uuids[1]
	}

	if backend, err := stackfactory.Canonical(c.Stack.Backend); err != nil {
		errs = append(errs, fmt.Errorf("stack.backend: %w", err))
	} else {
		c.Stack.Backend = backend
	}
	if c.Stack.AdvertiseInterval < 0 {
		errs = append(errs, errors.New("stack.advertise_interval must not be negative"))
	}
	if c.Stack.MinPreferred > c.Stack.MaxPreferred {
		errs = append(errs, fmt.Errorf("stack.min_preferred (%d) exceeds max_preferred (%d)", c.Stack.MinPreferred, c.Stack.MaxPreferred))
	}
	if c.ReadvertiseInterval <= 0 {
		errs = append(errs, errors.New("readvertise_interval must be positive"))
	}

	switch c.Decoder.Kind {
	case DecoderBuiltin, DecoderLua:
	default:
		errs = append(errs, fmt.Errorf("decoder.kind %q must be %s or %s", c.Decoder.Kind, DecoderBuiltin, DecoderLua))
	}

	if err := c.Sampler.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sampler: %w", err))
	}
	if c.Console.WriteCapacity < 0 {
		errs = append(errs, errors.New("console.write_capacity must not be negative"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, _ := c.Level()

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// YAML renders the configuration.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
