// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"encoding/binary"
)

// Shape is one accepted layout of a response body. Bodies are the bytes
// between the command header and footer, starting with the length field.
//
// Firmware revisions answer the same command in different layouts, so each
// command carries an ordered list of shapes and the first match wins.
type Shape struct {
	Name  string
	Match func(resp []byte) bool
	// Value extracts the numeric result, when the shape carries one.
	Value func(resp []byte) uint32
}

// MatchShape returns the first shape in shapes that accepts resp.
func MatchShape(shapes []Shape, resp []byte) (Shape, bool) {
	for _, s := range shapes {
		if s.Match(resp) {
			return s, true
		}
	}
	return Shape{}, false
}

func isAck(resp []byte) bool {
	return len(resp) >= 2 && resp[0] == 0x00 && resp[1] == 0x00
}

// EnterConfigShapes are the accepted answers to CmdEnableConfig.
var EnterConfigShapes = []Shape{
	{
		Name: "ack",
		Match: func(r []byte) bool {
			return len(r) >= 6 && r[0] == 0xFF && r[1] == 0x01 && r[2] == 0x00 && r[3] == 0x00
		},
	},
	{
		Name: "status",
		Match: func(r []byte) bool {
			return len(r) >= 6 && r[4] == 0x00 && r[5] == 0x00
		},
	},
}

// SetModeShapes returns the accepted answers to CmdSetMode for a mode value.
func SetModeShapes(mode uint32) []Shape {
	shapes := []Shape{{Name: "ack", Match: isAck}}
	switch mode {
	case ModeValueEngineering:
		shapes = append(shapes, Shape{
			Name: "engineering-echo",
			Match: func(r []byte) bool {
				return len(r) >= 3 && r[0] == byte(mode&0xFF) && r[2] == byte(CmdSetMode)
			},
		})
	case ModeValueProduction:
		shapes = append(shapes, Shape{
			Name: "production-echo",
			Match: func(r []byte) bool {
				return len(r) >= 6 && r[0] == 0x04 && r[2] == byte(CmdSetMode) &&
					r[3] == 0x01 && r[4] == 0x00 && r[5] == 0x00
			},
		})
	}
	return shapes
}

// EngineeringEntryShapes are accepted when entering engineering mode directly.
var EngineeringEntryShapes = []Shape{
	{Name: "ack", Match: isAck},
	{
		Name: "echo",
		Match: func(r []byte) bool {
			return len(r) >= 3 && r[0] == 0x04 && r[2] == byte(CmdSetMode)
		},
	},
}

// CalibrationStatusShapes report calibration progress as a percentage.
var CalibrationStatusShapes = []Shape{
	{
		Name: "device",
		Match: func(r []byte) bool {
			return len(r) >= 8 && r[0] == 0x06 && r[1] == 0x00 && r[2] == byte(CmdGetCalibrationStatus) && r[3] == 0x01
		},
		Value: func(r []byte) uint32 {
			return capPercent(uint32(r[6]) * 100 / 0x64)
		},
	},
	{
		Name: "documented",
		Match: func(r []byte) bool {
			return len(r) >= 4 && isAck(r)
		},
		Value: func(r []byte) uint32 {
			return capPercent(uint32(binary.LittleEndian.Uint16(r[2:4])))
		},
	},
}

func capPercent(v uint32) uint32 {
	if v > 100 {
		return 100
	}
	return v
}

// GetParameterShapes carry a parameter value.
var GetParameterShapes = []Shape{
	{
		Name:  "standard",
		Match: func(r []byte) bool { return len(r) >= 6 },
		Value: func(r []byte) uint32 { return binary.LittleEndian.Uint32(r[2:6]) },
	},
	{
		Name:  "short",
		Match: func(r []byte) bool { return len(r) >= 2 },
		Value: func(r []byte) uint32 { return uint32(binary.LittleEndian.Uint16(r[0:2])) },
	},
}

// SetParameterShapes classify answers to CmdSetParams. "error" is a
// recognized rejection.
var SetParameterShapes = []Shape{
	{
		Name:  "error",
		Match: func(r []byte) bool { return len(r) >= 2 && r[0] == 0xFF && r[1] == 0xFF },
	},
	{
		Name:  "accepted",
		Match: func(r []byte) bool { return len(r) >= 2 },
	},
}

// PowerInterferenceShapes carry the interference status value.
var PowerInterferenceShapes = []Shape{
	{
		Name:  "status",
		Match: func(r []byte) bool { return len(r) >= 10 },
		Value: func(r []byte) uint32 { return binary.LittleEndian.Uint32(r[6:10]) },
	},
}

// SaveShapes are the accepted answers to CmdSaveParams.
var SaveShapes = []Shape{
	{Name: "ack", Match: isAck},
	{
		Name: "echo",
		Match: func(r []byte) bool {
			return len(r) >= 6 && r[0] == 0x04 && r[1] == 0x00 && r[2] == byte(CmdSaveParams) &&
				r[4] == 0x00 && r[5] == 0x00
		},
	},
	{
		Name:  "any",
		Match: func(r []byte) bool { return len(r) >= 2 },
	},
}

// AutoGainShapes acknowledge the start of auto gain.
var AutoGainShapes = []Shape{
	{Name: "ack", Match: isAck},
}

// AutoGainCompleteShapes mark the unsolicited completion notice.
var AutoGainCompleteShapes = []Shape{
	{
		Name: "complete",
		Match: func(r []byte) bool {
			return len(r) >= 2 && r[0] == byte(CmdAutoGainComplete) && r[1] == 0x00
		},
	},
}

// LengthPrefixedShapes carry a LE16 length at [2:4] followed by that many
// bytes (serial number answers).
var LengthPrefixedShapes = []Shape{
	{
		Name: "ack-length",
		Match: func(r []byte) bool {
			if len(r) < 4 || !isAck(r) {
				return false
			}
			n := int(binary.LittleEndian.Uint16(r[2:4]))
			return n > 0 && len(r) >= 4+n
		},
		Value: func(r []byte) uint32 { return uint32(binary.LittleEndian.Uint16(r[2:4])) },
	},
}

// ResponseOK reports whether resp is a plain acknowledgement.
func ResponseOK(resp []byte) bool {
	return isAck(resp)
}
