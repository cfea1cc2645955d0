// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"bytes"
	"encoding/binary"
	"math"
)

// EngineeringFrame is a decoded engineering data frame.
type EngineeringFrame struct {
	DeclaredLength uint16
	// Complete is false when the frame is shorter than its declared length.
	Complete bool
	Status   uint8
	Distance uint16 // centimetres

	MotionRaw []uint32
	StillRaw  []uint32
	Motion    []float64 // dB
	Still     []float64 // dB
	// Truncated is set when gate energies stop before DefaultGates.
	Truncated bool
}

// Presence reports whether the status indicates a person.
func (f *EngineeringFrame) Presence() bool {
	return f.Status == StatusPerson || f.Status == StatusStationaryPerson
}

// Micromovement reports whether the status indicates a stationary person.
func (f *EngineeringFrame) Micromovement() bool {
	return f.Status == StatusStationaryPerson
}

// EnergyDB converts a raw gate energy to decibels. A zero reading is 0 dB.
func EnergyDB(raw uint32) float64 {
	if raw == 0 {
		return 0
	}
	return 10 * math.Log10(float64(raw))
}

// DecodeEngineering parses an engineering frame that starts with the data
// header. Gates whose 4-byte energy would run past the end of the frame are
// not decoded; the frame is still returned with Truncated set.
func DecodeEngineering(frame []byte) (*EngineeringFrame, error) {
	size := len(frame)
	if size < minEngineeringFrame {
		return nil, &FrameError{Reason: "engineering frame too short", Size: size}
	}
	if !bytes.Equal(frame[:4], DataHeader[:]) {
		return nil, &FrameError{Reason: "bad data header", Size: size}
	}
	if !bytes.Equal(frame[size-4:], DataFooter[:]) {
		return nil, &FrameError{Reason: "bad data footer", Size: size}
	}

	f := &EngineeringFrame{
		DeclaredLength: binary.LittleEndian.Uint16(frame[dataLengthOffset : dataLengthOffset+2]),
		Status:         frame[engineeringStatusOffset],
		Distance:       binary.LittleEndian.Uint16(frame[engineeringDistanceOffset : engineeringDistanceOffset+2]),
	}
	f.Complete = size >= 9+int(f.DeclaredLength)

	f.MotionRaw, f.Motion = decodeEnergies(frame, motionEnergyOffset)
	f.StillRaw, f.Still = decodeEnergies(frame, stillEnergyOffset)
	f.Truncated = len(f.Motion) < DefaultGates || len(f.Still) < DefaultGates
	return f, nil
}

func decodeEnergies(frame []byte, base int) ([]uint32, []float64) {
	raw := make([]uint32, 0, DefaultGates)
	db := make([]float64, 0, DefaultGates)
	for i := 0; i < DefaultGates; i++ {
		offset := base + i*4
		if offset+3 >= len(frame) {
			break
		}
		v := binary.LittleEndian.Uint32(frame[offset : offset+4])
		raw = append(raw, v)
		db = append(db, EnergyDB(v))
	}
	return raw, db
}
