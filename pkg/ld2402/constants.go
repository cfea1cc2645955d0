// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ld2402 implements the host side of the HLK-LD2402 millimeter-wave
// radar serial protocol.
//
// The module shares one UART stream between three kinds of traffic: binary
// command/response frames, binary data frames (distance and engineering), and
// free-text ASCII status lines. This package provides the frame codec, the
// stream classifier that separates those shapes, the command/response engine
// with its retry policy, the operating-mode state machine, the engineering
// data decoder, the text line parser and the calibration poller.
//
// All timing goes through a Clock so the whole engine can be driven by a
// fake clock in tests.
package ld2402

import "time"

// Command frame markers
var (
	CommandHeader = [4]byte{0xFD, 0xFC, 0xFB, 0xFA}
	CommandFooter = [4]byte{0x04, 0x03, 0x02, 0x01}
)

// Data frame markers
var (
	DataHeader = [4]byte{0xF4, 0xF3, 0xF2, 0xF1}
	DataFooter = [4]byte{0xF8, 0xF7, 0xF6, 0xF5}
)

// Data frame types
const (
	DataTypeDistance    = 0x83
	DataTypeEngineering = 0x84
)

// Commands
const (
	CmdGetVersion              uint16 = 0x0000
	CmdEnableConfig            uint16 = 0x00FF
	CmdDisableConfig           uint16 = 0x00FE
	CmdGetSerialHex            uint16 = 0x0016
	CmdGetSerialChar           uint16 = 0x0011
	CmdGetParams               uint16 = 0x0008
	CmdSetParams               uint16 = 0x0007
	CmdSetMode                 uint16 = 0x0012
	CmdStartCalibration        uint16 = 0x0009
	CmdGetCalibrationStatus    uint16 = 0x000A
	CmdCalibrationInterference uint16 = 0x0014
	CmdSaveParams              uint16 = 0x00FD
	CmdAutoGain                uint16 = 0x00EE
	CmdAutoGainComplete        uint16 = 0x00F0
)

// Parameters
const (
	ParamMaxDistance       uint16 = 0x0001 // decimetres
	ParamTimeout           uint16 = 0x0004 // seconds
	ParamPowerInterference uint16 = 0x0005 // read-only
	ParamTriggerThreshold  uint16 = 0x0010 // motion threshold base, 0x0010-0x001F
	ParamMicroThreshold    uint16 = 0x0030 // micromotion threshold base, 0x0030-0x003F
)

// Work mode values carried by CmdSetMode
const (
	ModeValueProduction  uint32 = 0x00000064
	ModeValueConfig      uint32 = 0x00000001
	ModeValueEngineering uint32 = 0x00000004
)

// UART settings
const (
	DefaultBaudRate = 115200
)

// Detection ranges in metres
const (
	MovementRange      = 10.0
	MicromovementRange = 6.0
	StaticRange        = 5.0
	GateSize           = 0.7
)

// Gates
const (
	MaxGates     = 32
	DefaultGates = 16
)

// Calibration coefficients and threshold limits
const (
	DefaultCoefficient = 3.0
	MinCoefficient     = 1.0
	MaxCoefficient     = 20.0
	MaxThresholdDB     = 95.0
)

// Factory defaults
const (
	DefaultMaxDistance = 5.0 // metres
	DefaultTimeout     = 5   // seconds
	MinMaxDistance     = 0.7
	MaxMaxDistance     = 10.0
	MaxTimeout         = 65535
)

// Stream limits
const (
	MaxLineLength          = 1024
	MaxResponseSize        = 512
	EngineeringCaptureSize = 278
	DataFrameBound         = 200
	DataFrameBoundMax      = 300
)

// Engineering frame layout, offsets from the first header byte
const (
	dataLengthOffset          = 5
	engineeringStatusOffset   = 6
	engineeringDistanceOffset = 7
	motionEnergyOffset        = 9
	stillEnergyOffset         = motionEnergyOffset + DefaultGates*4
	minEngineeringFrame       = 10
)

// Detection status values reported in engineering frames
const (
	StatusNoPerson         = 0
	StatusPerson           = 1
	StatusStationaryPerson = 2
)

// Power interference parameter values
const (
	InterferenceNotChecked = 0
	InterferenceNone       = 1
	InterferenceDetected   = 2
)

// Timing
const (
	DefaultResponseTimeout     = 1000 * time.Millisecond
	SlowParameterTimeout       = 3000 * time.Millisecond
	DefaultDistanceThrottle    = 2000 * time.Millisecond
	DefaultEngineeringThrottle = 2000 * time.Millisecond
	LineStaleTimeout           = 100 * time.Millisecond
	EngineeringSettleDelay     = 300 * time.Millisecond
	EngineeringPostDelay       = 500 * time.Millisecond
	EngineeringMissDelay       = 300 * time.Millisecond
	CalibrationPollInterval    = 5 * time.Second
	CalibrationMaxDuration     = 10 * time.Minute
	ExitConfigReplyTimeout     = 300 * time.Millisecond
	ConfigReplyWindow          = 1000 * time.Millisecond
)

// Firmware version values published in place of a real reading
const (
	VersionDefault       = "HLK-LD2402"
	VersionConfigFailed  = "Unknown - Config Failed"
	VersionNoResponse    = "No Response"
	VersionInvalid       = "Invalid Response"
	VersionInvalidFormat = "Invalid Response Format"
	VersionCommandFailed = "Command Failed"
)
