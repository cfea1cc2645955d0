// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the ld2402ctl configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"gopkg.in/yaml.v3"
)

// Config holds all ld2402ctl settings.
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Driver    DriverConfig    `yaml:"driver"`
	Device    DeviceConfig    `yaml:"device"`
	Serve     ServeConfig     `yaml:"serve"`
	Log       LogConfig       `yaml:"log"`

	path string
}

type SerialConfig struct {
	Port string `yaml:"port"` // e.g. /dev/ttyUSB0
	Baud int    `yaml:"baud"`
}

type WebSocketConfig struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

type DriverConfig struct {
	DistanceThrottleMs    int `yaml:"distance_throttle_ms"`
	EngineeringThrottleMs int `yaml:"engineering_throttle_ms"`
	MotionGates           int `yaml:"motion_gates"`
	StillGates            int `yaml:"still_gates"`
	ResponseTimeoutMs     int `yaml:"response_timeout_ms"`
}

// DeviceConfig is what factory-reset writes to the sensor.
type DeviceConfig struct {
	MaxDistance float64 `yaml:"max_distance_m"`
	Timeout     uint32  `yaml:"timeout_s"`
}

type ServeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// Default returns a config with the driver's defaults.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Baud: ld2402.DefaultBaudRate,
		},
		Driver: DriverConfig{
			DistanceThrottleMs:    int(ld2402.DefaultDistanceThrottle / time.Millisecond),
			EngineeringThrottleMs: int(ld2402.DefaultEngineeringThrottle / time.Millisecond),
			MotionGates:           ld2402.DefaultGates,
			StillGates:            ld2402.DefaultGates,
			ResponseTimeoutMs:     int(ld2402.DefaultResponseTimeout / time.Millisecond),
		},
		Device: DeviceConfig{
			MaxDistance: ld2402.DefaultMaxDistance,
			Timeout:     ld2402.DefaultTimeout,
		},
		Serve: ServeConfig{
			ListenAddr: ":8402",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns $HOME/.config/ld2402ctl/config.yaml, or an empty
// string when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ld2402ctl", "config.yaml")
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reads LD2402_* environment variables.
// Supported: LD2402_PORT, LD2402_BAUD, LD2402_URL, LD2402_USERNAME,
// LD2402_LISTEN, LD2402_LOG_LEVEL
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("LD2402_PORT"); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv("LD2402_BAUD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LD2402_BAUD: %w", err)
		}
		c.Serial.Baud = n
	}
	if v := os.Getenv("LD2402_URL"); v != "" {
		c.WebSocket.URL = v
	}
	if v := os.Getenv("LD2402_USERNAME"); v != "" {
		c.WebSocket.Username = v
	}
	if v := os.Getenv("LD2402_LISTEN"); v != "" {
		c.Serve.ListenAddr = v
	}
	if v := os.Getenv("LD2402_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks ranges the device and driver enforce.
func (c *Config) Validate() error {
	var errs []error

	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud))
	}
	if c.Device.MaxDistance < ld2402.MinMaxDistance || c.Device.MaxDistance > ld2402.MaxMaxDistance {
		errs = append(errs, fmt.Errorf("device.max_distance_m %.1f out of range %.1f-%.1f",
			c.Device.MaxDistance, ld2402.MinMaxDistance, ld2402.MaxMaxDistance))
	}
	if c.Device.Timeout > ld2402.MaxTimeout {
		errs = append(errs, fmt.Errorf("device.timeout_s %d out of range 0-%d", c.Device.Timeout, ld2402.MaxTimeout))
	}
	if c.Driver.MotionGates < 0 || c.Driver.MotionGates > ld2402.DefaultGates {
		errs = append(errs, fmt.Errorf("driver.motion_gates %d out of range 0-%d", c.Driver.MotionGates, ld2402.DefaultGates))
	}
	if c.Driver.StillGates < 0 || c.Driver.StillGates > ld2402.DefaultGates {
		errs = append(errs, fmt.Errorf("driver.still_gates %d out of range 0-%d", c.Driver.StillGates, ld2402.DefaultGates))
	}
	if c.Driver.DistanceThrottleMs < 0 || c.Driver.EngineeringThrottleMs < 0 || c.Driver.ResponseTimeoutMs < 0 {
		errs = append(errs, errors.New("driver timings must not be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}

	return errors.Join(errs...)
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the config to path, or to the file it was loaded from when
// path is empty.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.path
	}
	if path == "" {
		return errors.New("no config path")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DriverOptions converts the driver section into ld2402 options.
func (c *Config) DriverOptions() []ld2402.Option {
	return []ld2402.Option{
		ld2402.WithDistanceThrottle(time.Duration(c.Driver.DistanceThrottleMs) * time.Millisecond),
		ld2402.WithEngineeringThrottle(time.Duration(c.Driver.EngineeringThrottleMs) * time.Millisecond),
		ld2402.WithGates(c.Driver.MotionGates, c.Driver.StillGates),
		ld2402.WithResponseTimeout(time.Duration(c.Driver.ResponseTimeoutMs) * time.Millisecond),
	}
}
