// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/ld2402ctl/pkg/ld2402"
	"go.uber.org/zap"
)

// pollInterval is how often the driver loop runs its cooperative step.
const pollInterval = 10 * time.Millisecond

// session is an open connection with a driver on top of it.
type session struct {
	conn      Connection
	connInfo  string
	transport *ld2402.StreamTransport
	driver    *ld2402.Driver
}

// openSession connects using the loaded configuration and creates a driver.
// opts are applied after the configured driver options.
func openSession(opts ...ld2402.Option) (*session, error) {
	conn, connInfo, err := OpenConnection(appConfig)
	if err != nil {
		return nil, err
	}
	return newSession(conn, connInfo, logger, opts...), nil
}

func newSession(conn Connection, connInfo string, log *zap.Logger, opts ...ld2402.Option) *session {
	transport := ld2402.NewStreamTransport(conn, 0)

	all := append(appConfig.DriverOptions(), ld2402.WithLogger(log.Named("ld2402")))
	all = append(all, opts...)

	return &session{
		conn:      conn,
		connInfo:  connInfo,
		transport: transport,
		driver:    ld2402.New(transport, all...),
	}
}

// start runs the startup handshake. A failed handshake is logged; the
// driver keeps reading the stream either way.
func (s *session) start() {
	if err := s.driver.Start(); err != nil {
		logger.Warn("startup handshake failed, continuing with passive monitoring", zap.Error(err))
	}
}

// run drives the poll loop until ctx is done or the connection drops.
func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.transport.Stopped():
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.driver.Run(ctx, pollInterval)
	if rerr := s.transport.Err(); rerr != nil {
		return fmt.Errorf("connection lost: %w", rerr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *session) Close() error {
	return s.transport.Close()
}

// withDriver opens a session, runs fn synchronously on the driver and
// closes the session. No startup handshake or background loop is involved.
func withDriver(fn func(d *ld2402.Driver) error) error {
	s, err := openSession(ld2402.WithStartupChecks(false))
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Debug("connected", zap.String("connection", s.connInfo))
	return fn(s.driver)
}
