// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cadence/pkg/config"
)

// Version is reported by --version and the version command
const Version = "0.4.0"

var (
	configPath string
	logLevel   string

	// Link connection flags
	portName      string
	baudRate      int
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Motor bus flags
	busPort  string
	busBaud  int
	busSlave uint8

	// Loaded by PersistentPreRunE
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "E-bike offload controller and link tools",
	Long: `Cadence - Offload controller and diagnostics for the e-bike controller link.

The offload side polls the motor controller over Modbus RTU and relays
telemetry to the main controller over a framed serial link. The other
commands talk to either end for bench work and diagnostics.

Link connection modes:
  Serial:    --port /dev/ttyS0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Motor bus:
  --bus /dev/ttyUSB0 [--bus-baud 9600] [--slave 1]
  --bus tcp://gateway:502 (Modbus TCP or RTU-over-TCP gateways)

Settings can also come from a YAML file given with --config. Flags override
the file. For WebSocket authentication, the password is read from the
CADENCE_PASSWORD environment variable, or prompted interactively if not set.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Link connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Link serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultLinkBaud, "Link baud rate (serial only)")
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Link WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Motor bus flags
	rootCmd.PersistentFlags().StringVar(&busPort, "bus", "", "Motor bus serial device or gateway URL")
	rootCmd.PersistentFlags().IntVar(&busBaud, "bus-baud", config.DefaultBusBaud, "Motor bus baud rate")
	rootCmd.PersistentFlags().Uint8Var(&busSlave, "slave", config.DefaultSlave, "Motor controller slave id")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads --config, applies explicit flags on top and sets up
// logging
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	// Flags set to zero fall back to defaults like an empty file would
	config.Normalize(cfg)

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
	return nil
}

// applyFlags copies flags the user set explicitly into c
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("port") {
		c.Link.Port = portName
		c.Link.URL = ""
	}
	if flags.Changed("baud") {
		c.Link.Baud = baudRate
	}
	if flags.Changed("url") {
		c.Link.URL = wsURL
		c.Link.Port = ""
	}
	if flags.Changed("username") {
		c.Link.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.Link.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("bus") {
		c.Bus.Port = busPort
	}
	if flags.Changed("bus-baud") {
		c.Bus.Baud = busBaud
	}
	if flags.Changed("slave") {
		if busSlave == 0 {
			return fmt.Errorf("--slave 0 is the broadcast address; use 1-247")
		}
		c.Bus.Slave = busSlave
	}
	return nil
}
