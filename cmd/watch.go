// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive dashboard for the sensor",
	Long: `Show a live dashboard of the sensor in the terminal.

Displays distance, presence, operating mode, firmware version, power
interference, calibration progress and, in engineering mode, bar graphs of the
motion and still energy of every gate. Driver logs appear in the event pane.

Keys:
  e  toggle engineering mode
  c  start calibration
  s  save configuration
  r  read thresholds
  t  set a threshold (motion|micromotion gate dB)
  q  quit

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(appConfig)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var p *tea.Program
	send := func(msg tea.Msg) {
		if p != nil {
			p.Send(msg)
		}
	}

	// Logs go to the event pane; stderr would tear the alt screen.
	level, err := zapcore.ParseLevel(appConfig.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	tuiLogger := zap.New(newForwardCore(level, func(e logEntry) { send(logMsg(e)) }))

	sink := ld2402.SinkFunc(func(e ld2402.Event) { send(eventMsg(e)) })
	s := newSession(conn, connInfo, tuiLogger, ld2402.WithSink(sink))
	defer s.Close()

	m := initialWatchModel(ctx, s.driver, connInfo)
	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	runErr := make(chan error, 1)
	go func() {
		s.start()
		runErr <- s.run(ctx)
		// The dashboard is useless without a connection.
		p.Quit()
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	cancel()

	if err := <-runErr; err != nil {
		return err
	}
	return nil
}
