// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/cadence/pkg/link"
	"github.com/Thermoquad/cadence/pkg/telemetry"
)

// Validate checks configuration correctness.
// Zero values mean "use the default" and always pass.
// It does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// ------------------------------------------------------------
	// BUS
	// ------------------------------------------------------------

	if cfg.Bus.Baud < 0 {
		return fmt.Errorf("bus: baud must be positive, got %d", cfg.Bus.Baud)
	}
	if cfg.Bus.Slave > 247 {
		return fmt.Errorf("bus: slave must be 1-247, got %d", cfg.Bus.Slave)
	}
	if cfg.Bus.TimeoutMs < 0 {
		return fmt.Errorf("bus: timeout_ms must be positive, got %d", cfg.Bus.TimeoutMs)
	}
	switch cfg.Bus.Parity {
	case "", "N", "E", "O", "none", "even", "odd":
	default:
		return fmt.Errorf("bus: unknown parity %q", cfg.Bus.Parity)
	}
	if cfg.Bus.StopBits < 0 || cfg.Bus.StopBits > 2 {
		return fmt.Errorf("bus: stop_bits must be 1 or 2, got %d", cfg.Bus.StopBits)
	}

	// ------------------------------------------------------------
	// LINK
	// ------------------------------------------------------------

	if cfg.Link.Baud < 0 {
		return fmt.Errorf("link: baud must be positive, got %d", cfg.Link.Baud)
	}
	if cfg.Link.Port != "" && cfg.Link.URL != "" {
		return fmt.Errorf("link: port and url are mutually exclusive")
	}
	if cfg.Link.HealthIntervalMs < 0 {
		return fmt.Errorf("link: health_interval_ms must be positive, got %d", cfg.Link.HealthIntervalMs)
	}

	// ------------------------------------------------------------
	// TELEMETRY
	// ------------------------------------------------------------

	fast, slow := cfg.Telemetry.FastMs, cfg.Telemetry.SlowMs
	if fast < 0 || slow < 0 {
		return fmt.Errorf("telemetry: intervals must be positive (fast_ms=%d slow_ms=%d)", fast, slow)
	}
	if fast == 0 {
		fast = DefaultFastMs
	}
	if slow == 0 {
		slow = DefaultSlowMs
		if fast > slow {
			slow = fast
		}
	}
	if err := telemetry.ValidateIntervals(time.Duration(fast)*time.Millisecond, time.Duration(slow)*time.Millisecond); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	// ------------------------------------------------------------
	// REGISTERS AND FIELDS
	// ------------------------------------------------------------

	regs, err := cfg.RegisterMap()
	if err != nil {
		return fmt.Errorf("registers: %w", err)
	}

	fastFields, slowFields := cfg.Telemetry.Fast, cfg.Telemetry.Slow
	if fastFields == nil && slowFields == nil && len(cfg.Registers) == 0 {
		fastFields, slowFields = DefaultFastFields, DefaultSlowFields
	}
	if _, err := link.NewFieldSet(fastFields, slowFields); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	for _, name := range append(append([]string(nil), fastFields...), slowFields...) {
		if _, ok := regs.Lookup(name); !ok {
			return fmt.Errorf("telemetry: field %q is not in the register table", name)
		}
	}

	// ------------------------------------------------------------
	// LOGGING
	// ------------------------------------------------------------

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	return nil
}
