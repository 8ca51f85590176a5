// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cadence/pkg/device"
)

var readWatch time.Duration

var readCmd = &cobra.Command{
	Use:   "read [names...]",
	Short: "Read motor controller registers",
	Long: `Read registers from the motor controller and print physical values.

Without names, every register in the table is read. A register that fails
to read is reported and does not stop the others. With --watch, the read
repeats at the given interval until Ctrl+C.`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().DurationVar(&readWatch, "watch", 0, "Repeat the read at this interval")
}

func runRead(cmd *cobra.Command, args []string) error {
	regs, err := cfg.RegisterMap()
	if err != nil {
		return err
	}
	names := args
	if len(names) == 0 {
		names = regs.Names()
	}
	for _, name := range names {
		if _, ok := regs.Lookup(name); !ok {
			return &device.UnknownRegisterError{Name: name}
		}
	}

	bus, busInfo, err := OpenBus(cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("Cadence - Register Read\n")
	fmt.Printf("Connection: %s\n\n", busInfo)

	reader := device.NewReader(bus, regs, cfg.Bus.Slave)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed := printReadings(ctx, reader, names)
	if readWatch <= 0 {
		if failed == len(names) {
			return fmt.Errorf("no register could be read")
		}
		return nil
	}

	ticker := time.NewTicker(readWatch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Println()
			printReadings(ctx, reader, names)
		}
	}
}

// printReadings reads names once and prints one line each. Returns the
// number of failed reads.
func printReadings(ctx context.Context, reader *device.Reader, names []string) int {
	readings := reader.ReadValues(ctx, names)
	fmt.Printf("[%s]\n", time.Now().Format("15:04:05.000"))

	failed := 0
	for _, name := range names {
		r := readings[name]
		spec, _ := reader.Registers().Lookup(name)
		if !r.OK() {
			failed++
			fmt.Printf("  %-24s \033[1;31mERROR\033[0m %v\n", name+":", r.Err)
			continue
		}
		fmt.Printf("  %-24s %s %s\n", name+":", formatReading(r.Value, spec), spec.Unit)
	}
	return failed
}

// formatReading prints as many decimals as the register scale resolves
func formatReading(v float64, spec device.RegisterSpec) string {
	decimals := 0
	for s := spec.Scale; s >= 10; s /= 10 {
		decimals++
	}
	return strings.TrimSpace(fmt.Sprintf("%10.*f", decimals, v))
}
