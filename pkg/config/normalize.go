// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

// Normalize fills unset values with defaults.
// It must only be called after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Bus.Baud == 0 {
		cfg.Bus.Baud = DefaultBusBaud
	}
	if cfg.Bus.Slave == 0 {
		cfg.Bus.Slave = DefaultSlave
	}
	if cfg.Bus.TimeoutMs == 0 {
		cfg.Bus.TimeoutMs = DefaultBusTimeoutMs
	}
	if cfg.Bus.Parity == "" {
		cfg.Bus.Parity = "N"
	}
	if cfg.Bus.StopBits == 0 {
		cfg.Bus.StopBits = 1
	}

	if cfg.Link.Baud == 0 {
		cfg.Link.Baud = DefaultLinkBaud
	}
	if cfg.Link.HealthIntervalMs == 0 {
		cfg.Link.HealthIntervalMs = DefaultHealthIntervalMs
	}

	if cfg.Telemetry.FastMs == 0 {
		cfg.Telemetry.FastMs = DefaultFastMs
	}
	if cfg.Telemetry.SlowMs == 0 {
		cfg.Telemetry.SlowMs = DefaultSlowMs
		if cfg.Telemetry.FastMs > cfg.Telemetry.SlowMs {
			cfg.Telemetry.SlowMs = cfg.Telemetry.FastMs
		}
	}

	// Stock field lists only make sense with the stock register table
	if cfg.Telemetry.Fast == nil && cfg.Telemetry.Slow == nil && len(cfg.Registers) == 0 {
		cfg.Telemetry.Fast = append([]string(nil), DefaultFastFields...)
		cfg.Telemetry.Slow = append([]string(nil), DefaultSlowFields...)
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
}
