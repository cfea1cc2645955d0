// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/spf13/cobra"
)

var (
	calTrigger float64
	calHold    float64
	calMicro   float64
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run an automatic threshold calibration",
	Long: `Start the sensor's automatic threshold calibration and print progress until
it completes.

The coefficients scale the generated thresholds and are clamped to 1.0-20.0.
Keep the detection area empty while calibration runs.`,
	Args: cobra.NoArgs,
	RunE: runCalibrate,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().Float64Var(&calTrigger, "trigger", ld2402.DefaultCoefficient, "Trigger threshold coefficient")
	calibrateCmd.Flags().Float64Var(&calHold, "hold", ld2402.DefaultCoefficient, "Hold threshold coefficient")
	calibrateCmd.Flags().Float64Var(&calMicro, "micro", ld2402.DefaultCoefficient, "Micromotion threshold coefficient")
}

// progressPrinter prints calibration progress events only.
func progressPrinter(w io.Writer) ld2402.Sink {
	return ld2402.SinkFunc(func(e ld2402.Event) {
		if e.Kind == ld2402.EventCalibrationProgress {
			fmt.Fprintf(w, "Calibration: %3.0f%%\n", e.Value)
		}
	})
}

// waitCalibration polls d until its calibration session ends.
func waitCalibration(ctx context.Context, d *ld2402.Driver, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for d.State().Calibration.InProgress {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Poll()
		}
	}
	if p := d.State().Calibration.Progress; p < 100 {
		return fmt.Errorf("calibration stopped at %d%%", p)
	}
	return nil
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	s, err := openSession(ld2402.WithStartupChecks(false), ld2402.WithSink(progressPrinter(out)))
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(out, "Calibrating (trigger %.1f, hold %.1f, micro %.1f)\n",
		ld2402.ClampCoefficient(calTrigger), ld2402.ClampCoefficient(calHold), ld2402.ClampCoefficient(calMicro))

	if err := s.driver.CalibrateWithCoefficients(calTrigger, calHold, calMicro); err != nil {
		return fmt.Errorf("failed to start calibration: %w", err)
	}

	err = waitCalibration(cmd.Context(), s.driver, 100*time.Millisecond)
	if errors.Is(err, context.Canceled) {
		// Leave config mode so the sensor resumes reporting.
		s.driver.ExitConfig()
		return errors.New("calibration interrupted")
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Calibration complete")
	return nil
}
