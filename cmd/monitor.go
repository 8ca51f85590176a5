// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cadence/pkg/link"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode and display link frames with statistics",
	Long: `Continuously decode frames on the inter-controller link.

Every frame is shown with timestamp, type, sequence number and decoded
payload. Telemetry is decoded by field name using the configured field set.
By default telemetry frames are counted but not printed; use --show-all to
print them too.

Framing, length and CRC faults are reported as they happen, and a
statistics summary is printed at --stats-interval.

With --tui, a dashboard shows the latest value of every field, link
statistics and an event log. Press ':' to type a command (for example
"set_rate fast_ms=100") and Enter to send it.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Print telemetry frames too")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", false, "Use terminal UI")
}

type frameMsg struct {
	frame *link.Frame
}

type connectionLostMsg struct {
	err error
}

func runMonitor(cmd *cobra.Command, args []string) error {
	fields, err := cfg.FieldSet()
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenLink(cfg.Link)
	if err != nil {
		return err
	}
	defer conn.Close()

	endpoint := link.NewEndpoint(conn, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// A WebSocket read only returns once the connection closes
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if useTUI {
		return runMonitorTUI(ctx, endpoint, connInfo, fields)
	}
	return runMonitorText(ctx, endpoint, connInfo, fields)
}

// runMonitorTUI runs the dashboard. Frames are forwarded into the program
// from the endpoint read loop.
func runMonitorTUI(ctx context.Context, endpoint *link.Endpoint, connInfo string, fields *link.FieldSet) error {
	regs, err := cfg.RegisterMap()
	if err != nil {
		return err
	}

	m := initialMonitorModel(endpoint, connInfo, fields, regs, showAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		err := endpoint.Run(ctx, link.HandlerFunc(func(_ context.Context, f *link.Frame) {
			p.Send(frameMsg{frame: f})
		}))
		if ctx.Err() == nil {
			p.Send(connectionLostMsg{err: err})
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func runMonitorText(ctx context.Context, endpoint *link.Endpoint, connInfo string, fields *link.FieldSet) error {
	fmt.Printf("Cadence - Link Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Commands, responses and events\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	frames := make(chan *link.Frame, 64)
	runErr := make(chan error, 1)
	go func() {
		runErr <- endpoint.Run(ctx, link.HandlerFunc(func(ctx context.Context, f *link.Frame) {
			select {
			case frames <- f:
			case <-ctx.Done():
			}
		}))
	}()

	stats := link.NewStatistics()
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()
	faultTicker := time.NewTicker(250 * time.Millisecond)
	defer faultTicker.Stop()

	synchronized := false
	var last link.Counters

	for {
		select {
		case f := <-frames:
			if !synchronized {
				synchronized = true
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
			stats.Update(f)
			if showAll || f.Type() != link.TypeTelemetry {
				fmt.Print(link.FormatFrame(f, fields))
				fmt.Println()
			}

		case <-faultTicker.C:
			c := endpoint.Counters()
			stats.UpdateCounters(c)
			printFaults(last, c)
			last = c

		case <-statsTicker.C:
			stats.CalculateRates()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case err := <-runErr:
			fmt.Println()
			fmt.Print(stats.String())
			if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
	}
}

// printFaults reports counters that moved since the last check
func printFaults(prev, now link.Counters) {
	timestamp := time.Now().Format("15:04:05.000")
	report := func(kind string, before, after uint64) {
		if after > before {
			fmt.Printf("[%s] \033[1;31mLINK FAULT:\033[0m %s error (+%d, total %d)\n\n", timestamp, kind, after-before, after)
		}
	}
	report("framing", prev.Framing, now.Framing)
	report("length", prev.Length, now.Length)
	report("crc", prev.CRC, now.CRC)
}
