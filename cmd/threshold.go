// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/spf13/cobra"
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Per-gate detection thresholds",
	Long: `Read and write the per-gate motion and micromotion thresholds.

Thresholds are given in dB (0-95). Gate n covers roughly n*0.7 m to
(n+1)*0.7 m from the sensor.`,
}

var thresholdSetCmd = &cobra.Command{
	Use:       "set <motion|micromotion> <gate> <dB>",
	Short:     "Set the threshold of one gate",
	Args:      cobra.ExactArgs(3),
	ValidArgs: []string{"motion", "micromotion"},
	RunE:      runThresholdSet,
}

var thresholdListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all motion and micromotion thresholds",
	Args:  cobra.NoArgs,
	RunE:  runThresholdList,
}

func init() {
	rootCmd.AddCommand(thresholdCmd)
	thresholdCmd.AddCommand(thresholdSetCmd)
	thresholdCmd.AddCommand(thresholdListCmd)
}

// thresholdRequest is a parsed "kind gate dB" triple.
type thresholdRequest struct {
	micromotion bool
	gate        int
	db          float64
}

func parseThresholdArgs(args []string) (thresholdRequest, error) {
	var req thresholdRequest
	if len(args) != 3 {
		return req, fmt.Errorf("expected <motion|micromotion> <gate> <dB>, got %d arguments", len(args))
	}

	switch strings.ToLower(args[0]) {
	case "motion":
	case "micromotion", "micro":
		req.micromotion = true
	default:
		return req, fmt.Errorf("unknown threshold kind %q (use motion or micromotion)", args[0])
	}

	gate, err := strconv.Atoi(args[1])
	if err != nil {
		return req, fmt.Errorf("invalid gate %q: %w", args[1], err)
	}
	db, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return req, fmt.Errorf("invalid threshold %q: %w", args[2], err)
	}
	req.gate = gate
	req.db = db
	return req, nil
}

func (r thresholdRequest) apply(d *ld2402.Driver) error {
	if r.micromotion {
		return d.SetMicromotionThreshold(r.gate, r.db)
	}
	return d.SetMotionThreshold(r.gate, r.db)
}

func (r thresholdRequest) String() string {
	kind := "motion"
	if r.micromotion {
		kind = "micromotion"
	}
	return fmt.Sprintf("%s gate %d = %.1f dB", kind, r.gate, ld2402.ClampThresholdDB(r.db))
}

func runThresholdSet(cmd *cobra.Command, args []string) error {
	req, err := parseThresholdArgs(args)
	if err != nil {
		return err
	}

	return withDriver(func(d *ld2402.Driver) error {
		if err := req.apply(d); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", req)
		return nil
	})
}

// printThresholds renders motion and micromotion thresholds side by side.
func printThresholds(w io.Writer, motion, micro []float64) {
	fmt.Fprintf(w, "%-6s %-10s %-12s %s\n", "Gate", "Range", "Motion", "Micromotion")
	for gate := 0; gate < max(len(motion), len(micro)); gate++ {
		from := float64(gate) * ld2402.GateSize
		fmt.Fprintf(w, "%-6d %-10s %-12s %s\n", gate,
			fmt.Sprintf("%.1f-%.1fm", from, from+ld2402.GateSize),
			formatDB(motion, gate), formatDB(micro, gate))
	}
}

func formatDB(values []float64, i int) string {
	if i >= len(values) {
		return "-"
	}
	return fmt.Sprintf("%.2f dB", values[i])
}

func runThresholdList(cmd *cobra.Command, args []string) error {
	return withDriver(func(d *ld2402.Driver) error {
		var motion, micro []float64
		err := d.WithConfig(func() error {
			var err error
			if motion, err = d.ReadMotionThresholds(); err != nil {
				return fmt.Errorf("motion thresholds: %w", err)
			}
			if micro, err = d.ReadMicromotionThresholds(); err != nil {
				return fmt.Errorf("micromotion thresholds: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		printThresholds(cmd.OutOrStdout(), motion, micro)
		return nil
	})
}
