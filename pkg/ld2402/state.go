// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"fmt"
	"strings"
	"time"
)

// OperatingMode is the device mode as tracked by the driver.
type OperatingMode uint8

const (
	ModeNormal OperatingMode = iota
	ModeConfig
	ModeEngineering
	ModeUnknown
)

func (m OperatingMode) String() string {
	switch m {
	case ModeNormal:
		return "Normal"
	case ModeConfig:
		return "Config"
	case ModeEngineering:
		return "Engineering"
	default:
		return "Unknown"
	}
}

// ParseOperatingMode accepts the names produced by String, case-insensitively,
// plus "production" as an alias for Normal.
func ParseOperatingMode(s string) (OperatingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "production":
		return ModeNormal, nil
	case "config":
		return ModeConfig, nil
	case "engineering":
		return ModeEngineering, nil
	}
	return ModeUnknown, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// modeValue maps a requestable mode onto the CmdSetMode value.
func modeValue(m OperatingMode) (uint32, bool) {
	switch m {
	case ModeNormal:
		return ModeValueProduction, true
	case ModeEngineering:
		return ModeValueEngineering, true
	}
	return 0, false
}

// CalibrationSession exists while a calibration is running on the device.
type CalibrationSession struct {
	InProgress bool
	Progress   int
	StartedAt  time.Time
	LastPoll   time.Time
}

// State is everything the driver knows about the device. It is owned by the
// driver; callers get copies through Driver.State.
type State struct {
	Mode               OperatingMode
	ConfigActive       bool
	EngineeringEnabled bool
	Calibration        CalibrationSession
	FirmwareVersion    string
	SerialNumber       string
	PowerInterference  bool
	Distance           float64
	Presence           bool
	Micromovement      bool
	LastByteAt         time.Time
}

// reconcile restores EngineeringEnabled => Mode == Engineering. It reports
// whether a correction was needed.
func (s *State) reconcile() bool {
	if s.EngineeringEnabled && s.Mode != ModeEngineering {
		s.EngineeringEnabled = false
		return true
	}
	return false
}

// throttle limits how often a publish path may fire.
type throttle struct {
	interval time.Duration
	last     time.Time
	primed   bool
}

// allow reports whether a publish may happen at now and, if so, records it.
func (t *throttle) allow(now time.Time) bool {
	if t.primed && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	t.primed = true
	return true
}

// hold starts the interval at now without publishing.
func (t *throttle) hold(now time.Time) {
	t.last = now
	t.primed = true
}
