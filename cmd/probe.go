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

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the link by waiting for a valid frame",
	Long: `Wait for a valid frame on the link until timeout.

Bytes outside a frame are skipped. Frames with a bad length, CRC or end
marker are counted and reported, but only a complete, valid frame ends the
wait.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring and baud rate before running monitor.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "Time to wait for a frame")
}

func runProbe(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenLink(cfg.Link)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Cadence - Link Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s\n", probeTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	endpoint := link.NewEndpoint(conn, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frameChan := make(chan *link.Frame, 1)
	errChan := make(chan error, 1)
	go func() {
		errChan <- endpoint.Run(ctx, link.HandlerFunc(func(_ context.Context, f *link.Frame) {
			select {
			case frameChan <- f:
			default:
			}
		}))
	}()

	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (0x%02X)\n", f.Type(), uint8(f.Type()))
		fmt.Printf("  Seq: %d\n", f.Seq())
		fmt.Printf("  Length: %d bytes\n", f.Length())
		if c := endpoint.Counters(); c.Errors() > 0 {
			fmt.Printf("  (rejected before it: framing=%d length=%d crc=%d)\n", c.Framing, c.Length, c.CRC)
		}
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(probeTimeout):
		c := endpoint.Counters()
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %s (framing=%d length=%d crc=%d)\n",
			probeTimeout, c.Framing, c.Length, c.CRC)
		os.Exit(1)
	}

	return nil
}
