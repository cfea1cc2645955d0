// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/spf13/cobra"
)

var (
	monitorFrames  bool
	monitorPassive bool
	monitorEng     bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print sensor readings as they arrive",
	Long: `Continuously print every value the driver publishes: distance, presence,
micromovement, operating mode, firmware version and, in engineering mode,
per-gate energies.

Each line carries a timestamp, the value name and the value. With --frames the
raw data frames are dumped in hex as well.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorFrames, "frames", false, "Hex dump raw data frames")
	monitorCmd.Flags().BoolVar(&monitorPassive, "passive", false, "Skip the startup handshake and only listen")
	monitorCmd.Flags().BoolVarP(&monitorEng, "engineering", "e", false, "Switch to engineering mode after startup")
}

// printSink writes one formatted line per event.
func printSink(w io.Writer) ld2402.Sink {
	return ld2402.SinkFunc(func(e ld2402.Event) {
		fmt.Fprintln(w, ld2402.FormatEvent(e))
	})
}

// frameDumper prints data frames in the monitor's hex format.
func frameDumper(w io.Writer) func(at time.Time, frameType byte, frame []byte) {
	return func(at time.Time, frameType byte, frame []byte) {
		fmt.Fprintf(w, "[%s] FRAME type=0x%02X len=%d\n  %s\n",
			at.Format("15:04:05.000"), frameType, len(frame), ld2402.FormatHex(frame))
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	opts := []ld2402.Option{ld2402.WithSink(printSink(out))}
	if monitorFrames {
		opts = append(opts, ld2402.WithFrameHandler(frameDumper(out)))
	}

	s, err := openSession(opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(os.Stderr, "LD2402 Monitor\n")
	fmt.Fprintf(os.Stderr, "Connection: %s\n", s.connInfo)
	fmt.Fprintf(os.Stderr, "Press Ctrl+C to exit\n\n")

	if !monitorPassive {
		s.start()
	}
	if monitorEng {
		if err := s.driver.EnterEngineering(); err != nil {
			return fmt.Errorf("failed to enter engineering mode: %w", err)
		}
	}

	return s.run(cmd.Context())
}
