// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"fmt"
	"time"
)

// Statistics tracks stream and command counters for one driver.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Stream counters
	BytesReceived     uint64
	LinesParsed       uint64
	NoiseLines        uint64
	LineOverflows     uint64
	StaleLines        uint64
	DataFrames        uint64
	EngineeringFrames uint64
	CaptureMisses     uint64
	RejectedFrames    uint64

	// Command counters
	CommandsSent       uint64
	WriteRetries       uint64
	WriteFailures      uint64
	Responses          uint64
	Timeouts           uint64
	MalformedResponses uint64

	// Rates (calculated)
	ByteRate  float64 // bytes/sec
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker starting at now.
func NewStatistics(now time.Time) *Statistics {
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

func (s *Statistics) errorCount() uint64 {
	return s.NoiseLines + s.LineOverflows + s.CaptureMisses + s.RejectedFrames +
		s.WriteFailures + s.Timeouts + s.MalformedResponses
}

// CalculateRates calculates byte, frame and error rates as of now.
func (s *Statistics) CalculateRates(now time.Time) {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ByteRate = float64(s.BytesReceived) / elapsed
		s.FrameRate = float64(s.DataFrames+s.EngineeringFrames) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates(s.LastUpdateTime)

	var timeoutPercent float64
	if s.CommandsSent > 0 {
		timeoutPercent = float64(s.Timeouts) * 100.0 / float64(s.CommandsSent)
	}

	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bytes Received:  %8d\n", s.BytesReceived)
	result += fmt.Sprintf("Lines Parsed:    %8d\n", s.LinesParsed)
	result += fmt.Sprintf("Data Frames:     %8d\n", s.DataFrames)
	result += fmt.Sprintf("Eng. Frames:     %8d\n", s.EngineeringFrames)

	if s.NoiseLines > 0 {
		result += fmt.Sprintf("Noise Lines:     %8d\n", s.NoiseLines)
	}
	if s.LineOverflows > 0 {
		result += fmt.Sprintf("Line Overflows:  %8d\n", s.LineOverflows)
	}
	if s.CaptureMisses > 0 {
		result += fmt.Sprintf("Capture Misses:  %8d\n", s.CaptureMisses)
	}
	if s.RejectedFrames > 0 {
		result += fmt.Sprintf("Rejected Frames: %8d\n", s.RejectedFrames)
	}

	result += fmt.Sprintf("Commands Sent:   %8d\n", s.CommandsSent)
	if s.WriteRetries > 0 {
		result += fmt.Sprintf("  Write Retries:    %5d\n", s.WriteRetries)
	}
	if s.WriteFailures > 0 {
		result += fmt.Sprintf("  Write Failures:   %5d\n", s.WriteFailures)
	}
	result += fmt.Sprintf("Responses:       %8d\n", s.Responses)
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d (%.1f%%)\n", s.Timeouts, timeoutPercent)
	}
	if s.MalformedResponses > 0 {
		result += fmt.Sprintf("Malformed Resp:  %8d\n", s.MalformedResponses)
	}

	result += fmt.Sprintf("Byte Rate:       %8.1f bytes/sec\n", s.ByteRate)
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset(now time.Time) {
	*s = Statistics{StartTime: now, LastUpdateTime: now}
}
