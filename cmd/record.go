// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	recordDuration time.Duration
	recordEng      bool
	replayFrames   bool
)

var recordCmd = &cobra.Command{
	Use:   "record <file>",
	Short: "Record events and data frames to a file",
	Long: `Run the driver and write every published event and raw data frame to a
CBOR sequence file. Stop with Ctrl+C or --duration.

Recordings can be inspected later with the replay command.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Print a recording made with the record command",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(replayCmd)

	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	recordCmd.Flags().BoolVarP(&recordEng, "engineering", "e", false, "Switch to engineering mode after startup")
	replayCmd.Flags().BoolVar(&replayFrames, "frames", false, "Hex dump recorded data frames")
}

func runRecord(cmd *cobra.Command, args []string) error {
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	rec := ld2402.NewRecorder(w)
	s, err := openSession(ld2402.WithSink(rec), ld2402.WithFrameHandler(rec.RecordFrame))
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(os.Stderr, "Recording to %s\n", args[0])
	fmt.Fprintf(os.Stderr, "Connection: %s\n", s.connInfo)

	ctx := cmd.Context()
	if recordDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, recordDuration)
		defer cancel()
	}

	s.start()
	if recordEng {
		if err := s.driver.EnterEngineering(); err != nil {
			logger.Warn("failed to enter engineering mode", zap.Error(err))
		}
	}

	runErr := s.run(ctx)

	if err := w.Flush(); err != nil {
		return err
	}
	if err := rec.Err(); err != nil {
		return fmt.Errorf("recording stopped early: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d records\n", rec.Count())
	return runErr
}

// replayTo prints every record of rd to w and returns the record count.
func replayTo(rd io.Reader, w io.Writer, frames bool) (int, error) {
	dump := frameDumper(w)
	return ld2402.Replay(rd, func(r ld2402.Record) error {
		switch {
		case r.Event != nil:
			fmt.Fprintln(w, ld2402.FormatEvent(*r.Event))
		case frames && len(r.Frame) > 0:
			dump(r.Time, r.FrameType, r.Frame)
			if r.FrameType == ld2402.DataTypeEngineering {
				if ef, err := ld2402.DecodeEngineering(r.Frame); err == nil {
					fmt.Fprint(w, ld2402.FormatEngineeringFrame(ef))
				}
			}
		}
		return nil
	})
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := replayTo(bufio.NewReader(f), cmd.OutOrStdout(), replayFrames)
	fmt.Fprintf(os.Stderr, "%d records\n", n)
	return err
}
