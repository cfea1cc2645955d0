// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for sensor output",
	Long: `Wait for valid LD2402 output on the connection until timeout.

This command connects to a serial port or WebSocket and listens without sending
anything. It ignores noise and succeeds on the first recognized text line
(distance or OFF) or complete data frame.

Exit codes:
  0 - Sensor output received before timeout
  1 - Timeout reached without receiving valid output
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for output")
}

// errProbeTimeout is returned when nothing valid arrived in time.
var errProbeTimeout = errors.New("no valid output received")

// probeTraffic polls a passive driver over transport until it recognizes
// sensor output, and describes what it saw.
func probeTraffic(ctx context.Context, transport ld2402.Transport, timeout time.Duration, log *zap.Logger) (string, error) {
	var found string
	sink := ld2402.SinkFunc(func(e ld2402.Event) {
		switch e.Kind {
		case ld2402.EventDistance, ld2402.EventMotionEnergy, ld2402.EventStillEnergy:
			if found == "" {
				found = ld2402.FormatEvent(e)
			}
		}
	})
	frames := func(at time.Time, frameType byte, frame []byte) {
		if found == "" {
			found = fmt.Sprintf("data frame type 0x%02X, %d bytes", frameType, len(frame))
		}
	}

	d := ld2402.New(transport,
		ld2402.WithLogger(log),
		ld2402.WithSink(sink),
		ld2402.WithFrameHandler(frames),
		ld2402.WithStartupChecks(false))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		d.Poll()
		if found != "" {
			stats := d.Statistics()
			log.Debug("probe hit",
				zap.Uint64("bytes", stats.BytesReceived),
				zap.Uint64("noise_lines", stats.NoiseLines))
			return found, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", errProbeTimeout
			}
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(appConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	transport := ld2402.NewStreamTransport(conn, 0)
	defer transport.Close()

	fmt.Printf("LD2402 - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for sensor output...\n\n")

	found, err := probeTraffic(cmd.Context(), transport, time.Duration(probeTimeout)*time.Second, logger)
	switch {
	case err == nil:
		fmt.Printf("SUCCESS: %s\n", found)
		return nil
	case errors.Is(err, errProbeTimeout):
		if rerr := transport.Err(); rerr != nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", rerr)
			transport.Close()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid output received within %d seconds\n", probeTimeout)
		transport.Close()
		os.Exit(1)
	}
	return err
}
