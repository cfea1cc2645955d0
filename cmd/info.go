// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show firmware, serial number and device settings",
	Long: `Query the sensor for its firmware version, serial number, power
interference status, maximum distance and presence timeout.

Queries that fail are reported inline; the remaining queries still run.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

// deviceInfo is what the info command collects.
type deviceInfo struct {
	firmware     string
	firmwareErr  error
	serial       string
	serialErr    error
	interference bool
	powerErr     error
	settings     ld2402.DeviceConfig
	settingsErr  error
}

// collectInfo runs every info query inside one config session.
func collectInfo(d *ld2402.Driver) (deviceInfo, error) {
	var info deviceInfo
	err := d.WithConfig(func() error {
		info.firmware, info.firmwareErr = d.ReadFirmwareVersion()
		info.serial, info.serialErr = d.ReadSerialNumber()
		info.interference, info.powerErr = d.CheckPowerInterference()
		info.settings, info.settingsErr = d.ReadDeviceConfig()
		return nil
	})
	return info, err
}

func (info deviceInfo) print(w io.Writer) {
	line := func(label, value string, err error) {
		if err != nil {
			fmt.Fprintf(w, "%-20s %s (%v)\n", label, value, err)
			return
		}
		fmt.Fprintf(w, "%-20s %s\n", label, value)
	}

	line("Firmware:", info.firmware, info.firmwareErr)
	line("Serial number:", info.serial, info.serialErr)

	power := "none"
	if info.interference {
		power = "DETECTED"
	}
	line("Power interference:", power, info.powerErr)

	if info.settingsErr != nil {
		line("Max distance:", "-", info.settingsErr)
		line("Presence timeout:", "-", info.settingsErr)
		return
	}
	line("Max distance:", fmt.Sprintf("%.1f m", info.settings.MaxDistance), nil)
	line("Presence timeout:", fmt.Sprintf("%d s", info.settings.Timeout), nil)
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withDriver(func(d *ld2402.Driver) error {
		info, err := collectInfo(d)
		if err != nil {
			return fmt.Errorf("failed to enter config mode: %w", err)
		}
		stats := d.Statistics()
		logger.Debug("info complete",
			zap.Uint64("commands", stats.CommandsSent),
			zap.Uint64("timeouts", stats.Timeouts))
		info.print(cmd.OutOrStdout())
		return nil
	})
}
