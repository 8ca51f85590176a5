// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the YAML deployment file shared by the cadence
// commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/cadence/pkg/device"
	"github.com/Thermoquad/cadence/pkg/link"
)

// Config is the root of the deployment file
type Config struct {
	Bus       BusConfig        `yaml:"bus"`
	Link      LinkConfig       `yaml:"link"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Registers []RegisterConfig `yaml:"registers"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Log       LogConfig        `yaml:"log"`
}

// ---- MOTOR BUS ----

// BusConfig describes the Modbus side. Port is a device path for the
// built-in RTU client or a tcp://, rtuovertcp:// or rtu:// URL for the
// networked client.
type BusConfig struct {
	Port      string `yaml:"port"`
	Baud      int    `yaml:"baud"`
	Parity    string `yaml:"parity"`
	StopBits  int    `yaml:"stop_bits"`
	Slave     uint8  `yaml:"slave"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- INTER-CONTROLLER LINK ----

// LinkConfig describes the link to the main controller: a UART, or a
// WebSocket bridge when URL is set.
type LinkConfig struct {
	Port             string `yaml:"port"`
	Baud             int    `yaml:"baud"`
	URL              string `yaml:"url"`
	Username         string `yaml:"username"`
	NoSSLVerify      bool   `yaml:"no_ssl_verify"`
	HealthIntervalMs int    `yaml:"health_interval_ms"`
}

// ---- SAMPLING ----

// TelemetryConfig sets the two cadences and the fields sampled at each
type TelemetryConfig struct {
	FastMs int      `yaml:"fast_ms"`
	SlowMs int      `yaml:"slow_ms"`
	Fast   []string `yaml:"fast"`
	Slow   []string `yaml:"slow"`
}

// ---- REGISTER TABLE OVERRIDE ----

// RegisterConfig overrides one entry of the register table
type RegisterConfig struct {
	Name    string  `yaml:"name"`
	Address uint16  `yaml:"address"`
	Scale   float64 `yaml:"scale"`
	Signed  bool    `yaml:"signed"`
	Unit    string  `yaml:"unit"`
}

// ---- OBSERVABILITY ----

// MetricsConfig enables the Prometheus endpoint when Listen is set
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig sets the log level (debug, info, warn, error)
type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults applied by Normalize
const (
	DefaultLinkBaud         = 115200
	DefaultBusBaud          = 9600
	DefaultSlave            = 1
	DefaultBusTimeoutMs     = 100
	DefaultFastMs           = 50
	DefaultSlowMs           = 1000
	DefaultHealthIntervalMs = 5000
	DefaultLogLevel         = "info"
)

// DefaultFastFields are sampled every fast tick unless configured
var DefaultFastFields = []string{"motor_rpm", "battery_current", "speed", "motor_power", "throttle"}

// DefaultSlowFields are sampled every slow tick unless configured
var DefaultSlowFields = []string{"battery_voltage", "controller_temperature", "motor_temperature", "battery_soc", "assist_level", "fault_code"}

// Load reads, validates and normalizes a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown keys, then validates and normalizes
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

// Default returns a normalized configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	Normalize(cfg)
	return cfg
}

// RegisterMap returns the configured register table, or the stock one
func (c *Config) RegisterMap() (*device.RegisterMap, error) {
	if len(c.Registers) == 0 {
		return device.DefaultRegisterMap(), nil
	}
	specs := make([]device.RegisterSpec, len(c.Registers))
	for i, r := range c.Registers {
		specs[i] = device.RegisterSpec{
			Name:    r.Name,
			Address: r.Address,
			Scale:   r.Scale,
			Signed:  r.Signed,
			Unit:    r.Unit,
		}
	}
	return device.NewRegisterMap(specs...)
}

// FieldSet returns the configured fast/slow fields
func (c *Config) FieldSet() (*link.FieldSet, error) {
	return link.NewFieldSet(c.Telemetry.Fast, c.Telemetry.Slow)
}

// FastInterval returns the fast cadence
func (c *Config) FastInterval() time.Duration {
	return time.Duration(c.Telemetry.FastMs) * time.Millisecond
}

// SlowInterval returns the slow cadence
func (c *Config) SlowInterval() time.Duration {
	return time.Duration(c.Telemetry.SlowMs) * time.Millisecond
}

// BusTimeout returns the bus response timeout
func (c *Config) BusTimeout() time.Duration {
	return time.Duration(c.Bus.TimeoutMs) * time.Millisecond
}

// HealthInterval returns the link_health event period
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Link.HealthIntervalMs) * time.Millisecond
}
