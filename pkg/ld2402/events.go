// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"fmt"
	"time"
)

// EventKind identifies what an Event reports.
type EventKind uint8

const (
	EventDistance EventKind = iota + 1
	EventPresence
	EventMicromovement
	EventPowerInterference
	EventFirmwareVersion
	EventSerialNumber
	EventOperatingMode
	EventCalibrationProgress
	EventMotionEnergy
	EventStillEnergy
	EventMotionThreshold
	EventMicromotionThreshold
)

var eventKindNames = map[EventKind]string{
	EventDistance:             "distance",
	EventPresence:             "presence",
	EventMicromovement:        "micromovement",
	EventPowerInterference:    "power_interference",
	EventFirmwareVersion:      "firmware_version",
	EventSerialNumber:         "serial_number",
	EventOperatingMode:        "operating_mode",
	EventCalibrationProgress:  "calibration_progress",
	EventMotionEnergy:         "motion_energy",
	EventStillEnergy:          "still_energy",
	EventMotionThreshold:      "motion_threshold",
	EventMicromotionThreshold: "micromotion_threshold",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	if _, ok := eventKindNames[k]; !ok {
		return nil, fmt.Errorf("unknown event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Event is one published sensor value. Which of Value, State and Text is
// meaningful depends on Kind; Gate is set for per-gate kinds.
type Event struct {
	Time  time.Time `cbor:"1,keyasint" json:"time"`
	Kind  EventKind `cbor:"2,keyasint" json:"kind"`
	Gate  int       `cbor:"3,keyasint,omitempty" json:"gate,omitempty"`
	Value float64   `cbor:"4,keyasint,omitempty" json:"value,omitempty"`
	State bool      `cbor:"5,keyasint,omitempty" json:"state,omitempty"`
	Text  string    `cbor:"6,keyasint,omitempty" json:"text,omitempty"`
}

// Sink receives published events. Publish is called on the driver's goroutine
// and must not block for long.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

type discardSink struct{}

func (discardSink) Publish(Event) {}
