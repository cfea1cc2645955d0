// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CaptureState is the engineering frame capture state.
type CaptureState uint8

const (
	// CaptureAwaitingHeader scans the stream byte by byte.
	CaptureAwaitingHeader CaptureState = iota
	// CaptureCapturingFrame lets a fresh frame accumulate until the settle
	// deadline passes.
	CaptureCapturingFrame
	// CaptureDecoding is held while the captured bytes are decoded.
	CaptureDecoding
	// CaptureIdle waits out the post-capture delay.
	CaptureIdle
)

func (s CaptureState) String() string {
	switch s {
	case CaptureAwaitingHeader:
		return "AwaitingHeader"
	case CaptureCapturingFrame:
		return "CapturingFrame"
	case CaptureDecoding:
		return "Decoding"
	case CaptureIdle:
		return "Idle"
	default:
		return "Unknown"
	}
}

// Classifier splits the incoming stream into text lines, data frames and
// engineering captures. Poll never blocks; timed steps of the engineering
// capture are deadlines checked on later polls.
type Classifier struct {
	transport Transport
	clock     Clock
	logger    *zap.Logger
	stats     *Statistics

	line     []byte
	lastByte time.Time

	state    CaptureState
	deadline time.Time

	// Engineering selects the capture path when a data header is seen.
	Engineering func() bool
	// OnLine receives each complete, non-noise text line.
	OnLine func(line string)
	// OnEngineeringFrame receives each captured header-to-footer span.
	OnEngineeringFrame func(frame []byte)
	// OnDataFrame receives data frames collected outside engineering mode.
	OnDataFrame func(frameType byte, frame []byte)
}

// NewClassifier creates a classifier reading from transport.
func NewClassifier(transport Transport, clock Clock, logger *zap.Logger, stats *Statistics) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = NewStatistics(clock.Now())
	}
	return &Classifier{
		transport: transport,
		clock:     clock,
		logger:    logger,
		stats:     stats,
		line:      make([]byte, 0, 128),
	}
}

// State returns the capture state.
func (c *Classifier) State() CaptureState { return c.state }

// PendingLine returns the partial text line.
func (c *Classifier) PendingLine() string { return string(c.line) }

// Reset clears the line buffer and returns to AwaitingHeader.
func (c *Classifier) Reset() {
	c.line = c.line[:0]
	c.state = CaptureAwaitingHeader
	c.deadline = time.Time{}
}

// Poll processes whatever the transport has buffered.
func (c *Classifier) Poll() {
	now := c.clock.Now()

	switch c.state {
	case CaptureCapturingFrame:
		if now.Before(c.deadline) {
			return
		}
		c.decodeCapture(now)
		return
	case CaptureIdle:
		if now.Before(c.deadline) {
			return
		}
		c.state = CaptureAwaitingHeader
	}

	for {
		b, ok := c.transport.ReadByte()
		if !ok {
			break
		}
		c.stats.BytesReceived++
		c.lastByte = now

		if b == DataHeader[0] && c.transport.Available() >= 4 {
			next := c.transport.Peek(4)
			if IsDataHeaderPrefix(next) {
				if c.engineering() {
					c.beginCapture(now)
					return
				}
				c.transport.Read(make([]byte, 4))
				c.collectDataFrame(next[3])
				continue
			}
		}
		c.feedText(b)
	}

	if len(c.line) > 0 && now.Sub(c.lastByte) > LineStaleTimeout {
		c.logger.Debug("clearing stale line buffer", zap.Int("bytes", len(c.line)))
		c.stats.StaleLines++
		c.line = c.line[:0]
	}
}

func (c *Classifier) engineering() bool {
	return c.Engineering != nil && c.Engineering()
}

// beginCapture drops the partial frame and waits for a fresh one to arrive.
func (c *Classifier) beginCapture(now time.Time) {
	dropped := c.transport.Discard()
	c.logger.Debug("engineering frame header seen, capturing", zap.Int("dropped", dropped))
	c.state = CaptureCapturingFrame
	c.deadline = now.Add(EngineeringSettleDelay)
}

func (c *Classifier) decodeCapture(now time.Time) {
	c.state = CaptureDecoding

	buf := make([]byte, EngineeringCaptureSize)
	n := c.transport.Read(buf)
	buf = buf[:n]
	c.stats.BytesReceived += uint64(n)

	start, end, ok := FindDataFrame(buf)
	if !ok {
		c.stats.CaptureMisses++
		c.logger.Debug("no complete engineering frame in capture", zap.Int("bytes", n))
		c.state = CaptureIdle
		c.deadline = now.Add(EngineeringMissDelay)
		return
	}

	if c.OnEngineeringFrame != nil {
		c.OnEngineeringFrame(buf[start:end])
	}
	c.state = CaptureIdle
	c.deadline = now.Add(EngineeringPostDelay)
}

// collectDataFrame reads the rest of a non-engineering data frame. The frame
// is dropped if the footer has not arrived by the time the buffer runs dry.
func (c *Classifier) collectDataFrame(frameType byte) {
	frame := make([]byte, 0, DataFrameBound)
	frame = append(frame, DataHeader[:]...)
	frame = append(frame, frameType)

	bound := DataFrameBound
	for len(frame) < bound {
		b, ok := c.transport.ReadByte()
		if !ok {
			break
		}
		c.stats.BytesReceived++
		frame = append(frame, b)

		if len(frame) == 7 {
			declared := int(binary.LittleEndian.Uint16(frame[5:7]))
			if total := 7 + declared + len(DataFooter); total > bound {
				bound = min(total, DataFrameBoundMax)
			}
		}
		if len(frame) >= 11 && bytes.HasSuffix(frame, DataFooter[:]) {
			c.stats.DataFrames++
			c.logger.Debug("data frame",
				zap.Uint8("type", frameType),
				zap.Int("bytes", len(frame)))
			if c.OnDataFrame != nil {
				c.OnDataFrame(frameType, frame)
			}
			return
		}
	}
	c.stats.RejectedFrames++
	c.logger.Debug("incomplete data frame dropped", zap.Int("bytes", len(frame)))
}

func (c *Classifier) feedText(b byte) {
	switch b {
	case '\n':
		if len(c.line) == 0 {
			return
		}
		if isBinaryNoise(c.line) {
			c.stats.NoiseLines++
			c.logger.Debug("skipping binary noise", zap.Int("bytes", len(c.line)))
		} else {
			c.emit(string(c.line))
		}
		c.line = c.line[:0]
		return
	case '\r':
		return
	}

	c.line = append(c.line, b)
	if len(c.line) >= MaxLineLength {
		c.stats.LineOverflows++
		c.logger.Warn("line buffer overflow, clearing")
		c.line = c.line[:0]
		return
	}

	// A distance marker without a preceding newline starts a new line.
	if n := len(c.line); n > len(distanceMarker) && strings.HasSuffix(string(c.line), distanceMarker) {
		prefix := string(c.line[:n-len(distanceMarker)])
		c.line = append(c.line[:0], distanceMarker...)
		if !isBinaryNoise([]byte(prefix)) {
			c.emit(prefix)
		}
	}
}

func (c *Classifier) emit(line string) {
	c.stats.LinesParsed++
	if c.OnLine != nil {
		c.OnLine(line)
	}
}
