// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cadence/pkg/link"
)

var commandTimeout time.Duration

var commandCmd = &cobra.Command{
	Use:   "command <name> [key=value...]",
	Short: "Send a command over the link and print the response",
	Long: `Send one COMMAND frame and wait for the matching RESPONSE.

Arguments are key=value pairs using the argument names below. Values are
sent as integers, floats or booleans when they parse as one, field lists
are comma separated.

Examples:
  cadence command ping
  cadence command set_rate fast_ms=100 slow_ms=2000
  cadence command set_fields fast=motor_rpm,speed slow=battery_voltage
  cadence command debug enabled=true

Exit codes:
  0 - Response received with status OK
  1 - Timeout, or a status other than OK
  2 - Connection or usage error`,
	Args:              cobra.MinimumNArgs(1),
	ValidArgsFunction: completeCommandNames,
	RunE:              runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
	commandCmd.Flags().DurationVar(&commandTimeout, "timeout", 2*time.Second, "Time to wait for the response")
}

func completeCommandNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for _, id := range link.Commands() {
		name, _ := link.CommandName(id)
		if strings.HasPrefix(name, toComplete) {
			names = append(names, name)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// parseCommandLine resolves a command name and its key=value arguments
func parseCommandLine(args []string) (link.CommandID, map[int]interface{}, error) {
	id, ok := link.CommandByName(args[0])
	if !ok {
		return 0, nil, fmt.Errorf("no such command %q", args[0])
	}
	var cmdArgs map[int]interface{}
	for _, pair := range args[1:] {
		key, val, err := link.ParseArg(pair)
		if err != nil {
			return 0, nil, err
		}
		if cmdArgs == nil {
			cmdArgs = make(map[int]interface{})
		}
		cmdArgs[key] = val
	}
	return id, cmdArgs, nil
}

func runCommand(cmd *cobra.Command, args []string) error {
	id, cmdArgs, err := parseCommandLine(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Usage error: %v\n", err)
		os.Exit(2)
	}

	conn, connInfo, err := OpenLink(cfg.Link)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Cadence - Command\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Sending: %s %s\n\n", id, link.FormatArgs(cmdArgs))

	endpoint := link.NewEndpoint(conn, logger)
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		if err := endpoint.Run(runCtx, nil); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debug().Err(err).Msg("link closed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	resp, err := endpoint.Request(ctx, id, cmdArgs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(os.Stderr, "TIMEOUT: No response within %s\n", commandTimeout)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Link error: %v\n", err)
		os.Exit(2)
	}

	frame, err := link.NewResponse(resp.Seq, resp.Command, resp.Status, resp.ReplyTo, resp.Body)
	if err == nil {
		fmt.Print(link.FormatPayload(frame, nil))
	}
	if c := endpoint.Counters(); c.Errors() > 0 {
		fmt.Printf("(link faults while waiting: framing=%d length=%d crc=%d)\n", c.Framing, c.Length, c.CRC)
	}

	if resp.Status != link.StatusOK {
		os.Exit(1)
	}
	return nil
}
