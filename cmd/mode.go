// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/spf13/cobra"
)

var modeCmd = &cobra.Command{
	Use:   "mode <engineering|normal>",
	Short: "Switch the sensor operating mode",
	Long: `Switch the sensor between normal mode (text distance output) and
engineering mode (binary frames with per-gate energies).

"production" is accepted as an alias for normal.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"engineering", "normal", "production"},
	RunE:      runMode,
}

func init() {
	rootCmd.AddCommand(modeCmd)
}

func runMode(cmd *cobra.Command, args []string) error {
	target, err := ld2402.ParseOperatingMode(args[0])
	if err != nil {
		return err
	}

	return withDriver(func(d *ld2402.Driver) error {
		switch target {
		case ld2402.ModeEngineering:
			err = d.EnterEngineering()
		case ld2402.ModeNormal:
			err = d.EnterNormal()
		default:
			return fmt.Errorf("cannot switch to %s mode", target)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Operating mode: %s\n", d.State().Mode)
		return nil
	})
}
