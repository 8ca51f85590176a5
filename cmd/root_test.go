// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/cadence/pkg/config"
	"github.com/Thermoquad/cadence/pkg/device"
	"github.com/Thermoquad/cadence/pkg/link"
)

func TestParseCommandLine(t *testing.T) {
	id, args, err := parseCommandLine([]string{"set_rate", "fast_ms=100", "slow_ms=2000"})
	require.NoError(t, err)
	assert.Equal(t, link.CmdSetRate, id)
	assert.Equal(t, uint64(100), args[link.KeyFastMs])
	assert.Equal(t, uint64(2000), args[link.KeySlowMs])

	id, args, err = parseCommandLine([]string{"ping"})
	require.NoError(t, err)
	assert.Equal(t, link.CmdPing, id)
	assert.Nil(t, args)

	_, _, err = parseCommandLine([]string{"launch"})
	assert.Error(t, err)

	_, _, err = parseCommandLine([]string{"debug", "enabled"})
	assert.Error(t, err)
}

func TestFormatReading(t *testing.T) {
	assert.Equal(t, "312", formatReading(312, device.RegisterSpec{Scale: 1}))
	assert.Equal(t, "42.1", formatReading(42.1, device.RegisterSpec{Scale: 10}))
	assert.Equal(t, "-4.50", formatReading(-4.5, device.RegisterSpec{Scale: 100}))
}

func TestApplyFlags(t *testing.T) {
	c := config.Default()
	c.Link.Port = "/dev/ttyS1"

	require.NoError(t, rootCmd.ParseFlags([]string{"--url", "ws://bridge.local/ws", "--baud", "57600", "--slave", "3"}))
	require.NoError(t, applyFlags(rootCmd, c))

	assert.Equal(t, "ws://bridge.local/ws", c.Link.URL)
	assert.Empty(t, c.Link.Port)
	assert.Equal(t, 57600, c.Link.Baud)
	assert.Equal(t, uint8(3), c.Bus.Slave)
	assert.Equal(t, config.DefaultBusBaud, c.Bus.Baud)
	assert.NoError(t, config.Validate(c))

	// Slave 0 is the broadcast address and never answers
	require.NoError(t, rootCmd.ParseFlags([]string{"--slave", "0"}))
	c = config.Default()
	assert.Error(t, applyFlags(rootCmd, c))
	assert.Equal(t, uint8(config.DefaultSlave), c.Bus.Slave)
}
