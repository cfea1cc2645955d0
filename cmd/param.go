// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/spf13/cobra"
)

var paramCmd = &cobra.Command{
	Use:   "param",
	Short: "Read or write raw device parameters",
	Long: `Read or write raw device parameters by id.

Ids and values accept decimal or 0x-prefixed hex. Known ids:
  0x0001  max distance (decimetres)
  0x0004  presence timeout (seconds)
  0x0005  power interference status (read-only)
  0x0010-0x001F  motion thresholds per gate
  0x0030-0x003F  micromotion thresholds per gate`,
}

var paramGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Read one parameter",
	Args:  cobra.ExactArgs(1),
	RunE:  runParamGet,
}

var paramSetCmd = &cobra.Command{
	Use:   "set <id> <value>",
	Short: "Write one parameter",
	Args:  cobra.ExactArgs(2),
	RunE:  runParamSet,
}

func init() {
	rootCmd.AddCommand(paramCmd)
	paramCmd.AddCommand(paramGetCmd)
	paramCmd.AddCommand(paramSetCmd)
}

func parseParamID(s string) (uint16, error) {
	id, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter id %q: %w", s, err)
	}
	return uint16(id), nil
}

func runParamGet(cmd *cobra.Command, args []string) error {
	id, err := parseParamID(args[0])
	if err != nil {
		return err
	}

	return withDriver(func(d *ld2402.Driver) error {
		var value uint32
		err := d.WithConfig(func() error {
			var err error
			value, err = d.GetParameter(id)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (0x%04X) = %d (0x%08X)\n", ld2402.ParameterName(id), id, value, value)
		return nil
	})
}

func runParamSet(cmd *cobra.Command, args []string) error {
	id, err := parseParamID(args[0])
	if err != nil {
		return err
	}
	value, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	return withDriver(func(d *ld2402.Driver) error {
		if err := d.WithConfig(func() error { return d.SetParameter(id, uint32(value)) }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (0x%04X) set to %d\n", ld2402.ParameterName(id), id, value)
		return nil
	})
}
