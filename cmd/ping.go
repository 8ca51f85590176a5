// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cadence/pkg/link"
)

var (
	pingTimeout time.Duration
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure link round-trip time with ping commands",
	Long: `Send ping commands over the link and wait for each response.

Every response carries the peer's uptime. Telemetry and events arriving in
between are ignored, so this works against a running offload controller.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenLink(cfg.Link)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Cadence - Link Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	endpoint := link.NewEndpoint(conn, logger)
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() {
		_ = endpoint.Run(runCtx, nil)
	}()

	successCount := 0
	var total, worst time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		start := time.Now()
		resp, err := endpoint.Request(ctx, link.CmdPing, nil)
		rtt := time.Since(start)
		cancel()

		switch {
		case err != nil && ctx.Err() != nil:
			fmt.Printf("TIMEOUT (no response in %s)\n", pingTimeout)
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
		case resp.Status != link.StatusOK:
			fmt.Printf("FAILED: status %s\n", resp.Status)
		default:
			uptime, _ := link.GetMapUint(resp.Body, link.KeyUptimeMs)
			fmt.Printf("PONG seq=%d uptime=%s rtt=%v\n", resp.ReplyTo, link.FormatDuration(uptime), rtt.Round(time.Millisecond))
			successCount++
			total += rtt
			if rtt > worst {
				worst = rtt
			}
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	failCount := pingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("rtt avg=%v max=%v\n", (total / time.Duration(successCount)).Round(time.Millisecond), worst.Round(time.Millisecond))
	}
	if c := endpoint.Counters(); c.Errors() > 0 {
		fmt.Printf("link faults: framing=%d length=%d crc=%d\n", c.Framing, c.Length, c.CRC)
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
