// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/spf13/cobra"
)

var (
	resetMaxDistance float64
	resetTimeout     uint32
	resetNoWait      bool
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Persist the current parameters to flash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDriver(func(d *ld2402.Driver) error {
			if err := d.SaveConfig(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration saved")
			return nil
		})
	},
}

var autoGainCmd = &cobra.Command{
	Use:   "auto-gain",
	Short: "Run automatic gain adjustment",
	Long: `Start the sensor's automatic gain adjustment and wait up to 10 seconds for
the completion notice. A missing notice is reported as a warning: the
adjustment may still have been applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDriver(func(d *ld2402.Driver) error {
			err := d.EnableAutoGain()
			if errors.Is(err, ld2402.ErrAutoGainIncomplete) {
				fmt.Fprintln(cmd.OutOrStdout(), "Auto gain started; completion was not reported")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Auto gain complete")
			return nil
		})
	},
}

var factoryResetCmd = &cobra.Command{
	Use:   "factory-reset",
	Short: "Restore distance and timeout, then recalibrate",
	Long: `Restore the maximum distance and presence timeout and start a calibration
with default coefficients. Defaults come from the device section of the
config file (5.0 m and 5 s unless changed).

Keep the detection area empty until calibration completes.`,
	Args: cobra.NoArgs,
	RunE: runFactoryReset,
}

func init() {
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(autoGainCmd)
	rootCmd.AddCommand(factoryResetCmd)

	factoryResetCmd.Flags().Float64Var(&resetMaxDistance, "max-distance", ld2402.DefaultMaxDistance, "Maximum detection distance in metres (0.7-10)")
	factoryResetCmd.Flags().Uint32Var(&resetTimeout, "timeout", ld2402.DefaultTimeout, "Presence timeout in seconds (0-65535)")
	factoryResetCmd.Flags().BoolVar(&resetNoWait, "no-wait", false, "Return once calibration has started")
}

func runFactoryReset(cmd *cobra.Command, args []string) error {
	settings := ld2402.DeviceConfig{
		MaxDistance: appConfig.Device.MaxDistance,
		Timeout:     appConfig.Device.Timeout,
	}
	if cmd.Flags().Changed("max-distance") {
		settings.MaxDistance = resetMaxDistance
	}
	if cmd.Flags().Changed("timeout") {
		settings.Timeout = resetTimeout
	}
	if settings.MaxDistance < ld2402.MinMaxDistance || settings.MaxDistance > ld2402.MaxMaxDistance {
		return fmt.Errorf("max distance %.1f m out of range %.1f-%.1f", settings.MaxDistance, ld2402.MinMaxDistance, ld2402.MaxMaxDistance)
	}
	if settings.Timeout > ld2402.MaxTimeout {
		return fmt.Errorf("timeout %d s out of range 0-%d", settings.Timeout, ld2402.MaxTimeout)
	}

	out := cmd.OutOrStdout()
	s, err := openSession(ld2402.WithStartupChecks(false), ld2402.WithSink(progressPrinter(out)))
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(out, "Factory reset: max distance %.1f m, timeout %d s\n", settings.MaxDistance, settings.Timeout)
	if err := s.driver.FactoryReset(settings.MaxDistance, settings.Timeout); err != nil {
		return err
	}
	if resetNoWait {
		s.driver.ExitConfig()
		fmt.Fprintln(out, "Calibration started")
		return nil
	}

	if err := waitCalibration(cmd.Context(), s.driver, 100*time.Millisecond); err != nil {
		s.driver.ExitConfig()
		return err
	}
	fmt.Fprintln(out, "Factory reset complete")
	return nil
}
