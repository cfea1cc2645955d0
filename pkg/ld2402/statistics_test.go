// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"math"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_CalculateRates(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStatistics(start)
	s.BytesReceived = 1000
	s.DataFrames = 4
	s.EngineeringFrames = 6
	s.Timeouts = 2
	s.NoiseLines = 3

	s.CalculateRates(start.Add(10 * time.Second))

	if math.Abs(s.ByteRate-100) > 1e-9 {
		t.Errorf("byte rate mismatch: expected 100, got %v", s.ByteRate)
	}
	if math.Abs(s.FrameRate-1) > 1e-9 {
		t.Errorf("frame rate mismatch: expected 1, got %v", s.FrameRate)
	}
	if math.Abs(s.ErrorRate-0.5) > 1e-9 {
		t.Errorf("error rate mismatch: expected 0.5, got %v", s.ErrorRate)
	}
}

func TestStatistics_CalculateRatesAtStart(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStatistics(start)
	s.BytesReceived = 10

	s.CalculateRates(start)
	if s.ByteRate != 0 {
		t.Errorf("expected no rate without elapsed time, got %v", s.ByteRate)
	}
}

func TestStatistics_String(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStatistics(start)
	s.LastUpdateTime = start.Add(30 * time.Second)
	s.CommandsSent = 4
	s.Timeouts = 1

	out := s.String()
	for _, want := range []string{"=== Statistics (30 seconds) ===", "Commands Sent:", "Timeouts:", "(25.0%)"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Noise Lines") {
		t.Error("zero counters must be omitted")
	}
}

func TestStatistics_Reset(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStatistics(start)
	s.BytesReceived = 99
	s.Responses = 3

	later := start.Add(time.Minute)
	s.Reset(later)
	if s.BytesReceived != 0 || s.Responses != 0 {
		t.Errorf("counters not cleared: %+v", s)
	}
	if !s.StartTime.Equal(later) {
		t.Errorf("start time mismatch: expected %v, got %v", later, s.StartTime)
	}
}

func TestDriver_StatisticsIsCopy(t *testing.T) {
	d, transport, _, _ := newTestDriver(t)
	transport.feedString("OFF\n")
	d.Poll()

	stats := d.Statistics()
	if stats.BytesReceived != 4 || stats.LinesParsed != 1 {
		t.Errorf("counter mismatch: bytes=%d lines=%d", stats.BytesReceived, stats.LinesParsed)
	}
	stats.BytesReceived = 0
	if d.Statistics().BytesReceived != 4 {
		t.Error("modifying the copy changed the driver counters")
	}
}
