// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// ld2402ctl - HLK-LD2402 radar sensor tool
//
// A CLI tool for monitoring, calibrating and configuring HLK-LD2402 presence
// radar sensors over a serial port or a WebSocket UART bridge.

package main

import (
	"os"

	"github.com/Thermoquad/ld2402ctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
