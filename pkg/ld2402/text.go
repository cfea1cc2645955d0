// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"strconv"
	"strings"
)

// LineKind classifies a text status line.
type LineKind uint8

const (
	LineUnrecognized LineKind = iota
	LineOff
	LineDistance
)

// Presence and micromovement cut-offs applied to text distance readings, cm.
const (
	PresenceDistanceLimit      = 500.0
	MicromovementDistanceLimit = 600.0
)

const distanceMarker = "distance:"

// LineReading is the result of parsing one text line.
type LineReading struct {
	Kind     LineKind
	Distance float64
}

// Presence reports whether the reading indicates a person.
func (r LineReading) Presence() bool {
	return r.Kind == LineDistance && r.Distance <= PresenceDistanceLimit
}

// Micromovement reports whether the reading indicates micromovement.
func (r LineReading) Micromovement() bool {
	return r.Kind == LineDistance && r.Distance <= MicromovementDistanceLimit
}

// ParseLine interprets a status line: "OFF", "distance:<cm>" anywhere in the
// line, or a bare number.
func ParseLine(line string) LineReading {
	if line == "OFF" {
		return LineReading{Kind: LineOff}
	}

	if i := strings.Index(line, distanceMarker); i >= 0 {
		if d, ok := parseLeadingNumber(line[i+len(distanceMarker):]); ok {
			return LineReading{Kind: LineDistance, Distance: d}
		}
		return LineReading{}
	}

	if isNumeric(line) {
		if d, ok := parseLeadingNumber(line); ok {
			return LineReading{Kind: LineDistance, Distance: d}
		}
	}
	return LineReading{}
}

// parseLeadingNumber parses the run of digits and decimal points at the start
// of s, stopping at a second decimal point.
func parseLeadingNumber(s string) (float64, bool) {
	end := 0
	dot := false
	for end < len(s) {
		c := s[end]
		if c == '.' {
			if dot {
				break
			}
			dot = true
		} else if c < '0' || c > '9' {
			break
		}
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	dots := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '.':
			dots++
			if dots > 1 {
				return false
			}
		case c < '0' || c > '9':
			return false
		}
	}
	return true
}

// isBinaryNoise reports whether more than a quarter of the line is
// non-printable.
func isBinaryNoise(line []byte) bool {
	count := 0
	for _, c := range line {
		if (c < 0x20 && c != '\t' && c != '\r' && c != '\n') || c >= 0x7F {
			count++
		}
	}
	return count > len(line)/4
}
