// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Cadence - E-Bike Controller Telemetry Bridge
//
// Polls a motor controller over Modbus RTU and forwards its registers to the
// main controller over a framed serial link. Also provides tools for
// monitoring and commanding that link.

package main

import (
	"os"

	"github.com/Thermoquad/cadence/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
