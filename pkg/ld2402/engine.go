// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Engine sends command frames and waits for their responses. Each transmission
// is retried under SendPolicy; partial writes within one transmission are
// completed under WritePolicy.
type Engine struct {
	transport Transport
	clock     Clock
	logger    *zap.Logger
	stats     *Statistics
	scanner   *ResponseScanner

	sendPolicy  RetryPolicy
	writePolicy RetryPolicy

	flushSettle  time.Duration
	preSend      time.Duration
	postSend     time.Duration
	pollInterval time.Duration
}

// NewEngine creates an engine over transport. stats may be nil.
func NewEngine(transport Transport, clock Clock, logger *zap.Logger, stats *Statistics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = NewStatistics(clock.Now())
	}
	return &Engine{
		transport:    transport,
		clock:        clock,
		logger:       logger,
		stats:        stats,
		scanner:      NewResponseScanner(),
		sendPolicy:   SendPolicy,
		writePolicy:  WritePolicy,
		flushSettle:  20 * time.Millisecond,
		preSend:      100 * time.Millisecond,
		postSend:     100 * time.Millisecond,
		pollInterval: time.Millisecond,
	}
}

// Drain discards buffered input and returns the number of bytes dropped.
func (e *Engine) Drain() int {
	n := e.transport.Discard()
	if n > 0 {
		e.logger.Debug("drained input", zap.Int("bytes", n))
	}
	return n
}

// writeFrame writes frame, continuing after a partial write with the bytes
// still unsent for up to WritePolicy.MaxAttempts writes. A transport error
// ends the attempt at once and is left to SendPolicy.
func (e *Engine) writeFrame(frame []byte) error {
	attempts := max(e.writePolicy.MaxAttempts, 1)

	written := 0
	for attempt := 0; written < len(frame) && attempt < attempts; attempt++ {
		if attempt > 0 {
			e.stats.WriteRetries++
			if e.writePolicy.Backoff != nil {
				e.clock.Sleep(e.writePolicy.Backoff(attempt))
			}
			e.logger.Debug("partial write, sending remainder",
				zap.Int("written", written),
				zap.Int("remaining", len(frame)-written))
		}
		n, err := e.transport.Write(frame[written:])
		written += max(n, 0)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransportWrite, err)
		}
	}
	if written < len(frame) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrTransportWrite, written, len(frame))
	}
	return nil
}

// Send drains stale input, then transmits one command frame.
func (e *Engine) Send(command uint16, payload []byte) error {
	e.clock.Sleep(e.flushSettle)
	e.Drain()
	e.clock.Sleep(e.preSend)

	frame := EncodeCommand(command, payload)
	e.logger.Debug("sending command",
		zap.String("command", CommandName(command)),
		zap.String("frame", FormatHex(frame)))

	err := e.sendPolicy.Do(e.clock, func(attempt int) error {
		if attempt > 0 {
			e.logger.Debug("retrying command",
				zap.String("command", CommandName(command)),
				zap.Int("attempt", attempt+1))
		}
		return e.writeFrame(frame)
	})
	if err != nil {
		e.stats.WriteFailures++
		e.logger.Warn("failed to send command",
			zap.String("command", CommandName(command)),
			zap.Error(err))
		return fmt.Errorf("send %s: %w", CommandName(command), err)
	}

	e.stats.CommandsSent++
	e.stats.LastUpdateTime = e.clock.Now()
	e.clock.Sleep(e.postSend)
	return nil
}

// Await reads the stream until a complete response arrives or timeout
// elapses. Bytes that are not part of a response are consumed and dropped.
func (e *Engine) Await(timeout time.Duration) ([]byte, error) {
	e.scanner.Reset()
	deadline := e.clock.Now().Add(timeout)
	for e.clock.Now().Before(deadline) {
		b, ok := e.transport.ReadByte()
		if !ok {
			e.clock.Sleep(e.pollInterval)
			continue
		}
		e.stats.BytesReceived++
		if body, done := e.scanner.Feed(b); done {
			e.stats.Responses++
			e.logger.Debug("received response", zap.String("body", FormatHex(body)))
			return body, nil
		}
	}
	e.stats.Timeouts++
	return nil, ErrResponseTimeout
}

// Exchange sends a command, waits delay, then awaits the response.
func (e *Engine) Exchange(command uint16, payload []byte, delay, timeout time.Duration) ([]byte, error) {
	if err := e.Send(command, payload); err != nil {
		return nil, err
	}
	if delay > 0 {
		e.clock.Sleep(delay)
	}
	resp, err := e.Await(timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", CommandName(command), err)
	}
	return resp, nil
}
