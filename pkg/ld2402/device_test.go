// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Firmware Version Tests
// ============================================================

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		expected string
		ok       bool
	}{
		{"version string", append([]byte{0x06, 0x00}, "v3.3.5"...), "v3.3.5", true},
		{"trailing bytes ignored", append([]byte{0x02, 0x00}, "v1xyz"...), "v1", true},
		{"too short", []byte{0x06}, VersionInvalidFormat, false},
		{"zero length", []byte{0x00, 0x00}, VersionInvalid, false},
		{"length past end", append([]byte{0x09, 0x00}, "v1"...), VersionInvalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.body)
			if (err == nil) != tt.ok {
				t.Fatalf("error mismatch: expected ok=%v, got %v", tt.ok, err)
			}
			if got != tt.expected {
				t.Errorf("version mismatch: expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestReadFirmwareVersion(t *testing.T) {
	d, transport, _, events := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())
	transport.reply(CmdGetVersion, append([]byte{0x06, 0x00}, "v3.3.5"...))

	version, err := d.ReadFirmwareVersion()
	if err != nil {
		t.Fatalf("ReadFirmwareVersion failed: %v", err)
	}
	if version != "v3.3.5" {
		t.Errorf("version mismatch: expected v3.3.5, got %q", version)
	}
	if e, ok := events.last(EventFirmwareVersion); !ok || e.Text != "v3.3.5" {
		t.Errorf("firmware event mismatch: got %+v", e)
	}
	expected := []uint16{CmdEnableConfig, CmdGetVersion, CmdDisableConfig}
	if got := transport.commands(); !slices.Equal(got, expected) {
		t.Errorf("command sequence mismatch: expected %v, got %v", expected, got)
	}
}

func TestReadFirmwareVersion_Sentinels(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*fakeTransport)
		expected string
	}{
		{
			name:     "config failure",
			setup:    func(*fakeTransport) {},
			expected: VersionConfigFailed,
		},
		{
			name: "no response",
			setup: func(f *fakeTransport) {
				f.reply(CmdEnableConfig, configAckBody())
			},
			expected: VersionNoResponse,
		},
		{
			name: "send failure",
			setup: func(f *fakeTransport) {
				f.reply(CmdEnableConfig, configAckBody())
				f.failOn[CmdGetVersion] = true
			},
			expected: VersionCommandFailed,
		},
		{
			name: "empty version",
			setup: func(f *fakeTransport) {
				f.reply(CmdEnableConfig, configAckBody())
				f.reply(CmdGetVersion, []byte{0x00, 0x00})
			},
			expected: VersionInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, transport, _, events := newTestDriver(t)
			tt.setup(transport)

			version, err := d.ReadFirmwareVersion()
			if err == nil {
				t.Fatal("expected an error")
			}
			if version != tt.expected {
				t.Errorf("version mismatch: expected %q, got %q", tt.expected, version)
			}
			if e, _ := events.last(EventFirmwareVersion); e.Text != tt.expected {
				t.Errorf("published version mismatch: expected %q, got %q", tt.expected, e.Text)
			}
			if d.State().ConfigActive {
				t.Error("config mode must be closed again")
			}
		})
	}
}

// ============================================================
// Serial Number Tests
// ============================================================

func TestReadSerialNumber(t *testing.T) {
	d, transport, _, events := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())
	transport.reply(CmdGetSerialHex, []byte{0x00, 0x00, 0x04, 0x00, 0x12, 0x34, 0xAB, 0xCD})

	sn, err := d.ReadSerialNumber()
	if err != nil {
		t.Fatalf("ReadSerialNumber failed: %v", err)
	}
	if sn != "1234ABCD" {
		t.Errorf("serial mismatch: expected 1234ABCD, got %q", sn)
	}
	if e, ok := events.last(EventSerialNumber); !ok || e.Text != sn {
		t.Errorf("serial event mismatch: got %+v", e)
	}
	if n := transport.count(CmdGetSerialChar); n != 0 {
		t.Errorf("expected no character query, got %d", n)
	}
}

func TestReadSerialNumber_CharacterFallback(t *testing.T) {
	d, transport, _, _ := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())
	transport.reply(CmdGetSerialHex, []byte{0x00, 0x00, 0x00, 0x00})
	transport.reply(CmdGetSerialChar, append([]byte{0x00, 0x00, 0x03, 0x00}, "A7Z"...))

	sn, err := d.ReadSerialNumber()
	if err != nil {
		t.Fatalf("ReadSerialNumber failed: %v", err)
	}
	if sn != "A7Z" {
		t.Errorf("serial mismatch: expected A7Z, got %q", sn)
	}
	if d.State().SerialNumber != "A7Z" {
		t.Errorf("state serial mismatch: got %q", d.State().SerialNumber)
	}
}

func TestReadSerialNumber_Unavailable(t *testing.T) {
	d, transport, _, events := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())

	if _, err := d.ReadSerialNumber(); err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := events.last(EventSerialNumber); ok {
		t.Error("no serial number may be published on failure")
	}
	if d.State().ConfigActive {
		t.Error("config mode must be closed again")
	}
}

// ============================================================
// Power Interference Tests
// ============================================================

func interferenceBody(value byte) []byte {
	return []byte{0x08, 0x00, 0x08, 0x01, 0x00, 0x00, value, 0x00, 0x00, 0x00}
}

func TestCheckPowerInterference(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		detected bool
		ok       bool
	}{
		{"not checked", interferenceBody(InterferenceNotChecked), false, true},
		{"none", interferenceBody(InterferenceNone), false, true},
		{"detected", interferenceBody(InterferenceDetected), true, true},
		{"unknown value", interferenceBody(7), true, true},
		{"short reply", []byte{0x00, 0x00, 0x01}, true, false},
		{"no reply", nil, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, transport, _, events := newTestDriver(t)
			transport.reply(CmdEnableConfig, configAckBody())
			transport.reply(CmdGetParams, tt.body)

			detected, err := d.CheckPowerInterference()
			if (err == nil) != tt.ok {
				t.Fatalf("error mismatch: expected ok=%v, got %v", tt.ok, err)
			}
			if detected != tt.detected {
				t.Errorf("detected mismatch: expected %v, got %v", tt.detected, detected)
			}
			e, ok := events.last(EventPowerInterference)
			if !ok || e.State != tt.detected {
				t.Errorf("event mismatch: got %+v", e)
			}
			if d.State().ConfigActive {
				t.Error("config mode must be closed again")
			}
		})
	}
}

func TestCheckPowerInterference_ConfigFailure(t *testing.T) {
	d, _, _, events := newTestDriver(t)

	detected, err := d.CheckPowerInterference()
	if !errors.Is(err, ErrConfigFailed) {
		t.Fatalf("expected ErrConfigFailed, got %v", err)
	}
	if !detected {
		t.Error("a failed check must report interference")
	}
	if e, _ := events.last(EventPowerInterference); !e.State {
		t.Error("expected interference=true to be published")
	}
}

// ============================================================
// Save Tests
// ============================================================

func TestSaveConfig(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"ack", ackBody()},
		{"echo", []byte{0x04, 0x00, 0xFD, 0x01, 0x00, 0x00}},
		{"non-standard", []byte{0x03, 0x00, 0x42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, transport, _, _ := newTestDriver(t)
			transport.reply(CmdEnableConfig, configAckBody())
			transport.reply(CmdSaveParams, tt.body)

			if err := d.SaveConfig(); err != nil {
				t.Fatalf("SaveConfig failed: %v", err)
			}
			if n := transport.count(CmdSaveParams); n != 1 {
				t.Errorf("SAVE count mismatch: expected 1, got %d", n)
			}
		})
	}
}

func TestSaveConfig_RetriesOnSilence(t *testing.T) {
	d, transport, _, _ := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())
	transport.reply(CmdSaveParams, nil, ackBody())

	if err := d.SaveConfig(); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if n := transport.count(CmdSaveParams); n != 2 {
		t.Errorf("SAVE count mismatch: expected 2, got %d", n)
	}
}

func TestSaveConfig_NoResponse(t *testing.T) {
	d, transport, _, _ := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())

	if err := d.SaveConfig(); !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}
	if d.State().ConfigActive {
		t.Error("config mode must be closed again")
	}
}

// ============================================================
// Auto Gain Tests
// ============================================================

func TestEnableAutoGain(t *testing.T) {
	d, transport, _, _ := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())
	transport.reply(CmdAutoGain, ackBody())
	transport.then(CmdAutoGain, wrapResponse([]byte{0xF0, 0x00, 0x00, 0x00}))

	if err := d.EnableAutoGain(); err != nil {
		t.Fatalf("EnableAutoGain failed: %v", err)
	}
	expected := []uint16{CmdEnableConfig, CmdAutoGain, CmdDisableConfig}
	if got := transport.commands(); !slices.Equal(got, expected) {
		t.Errorf("command sequence mismatch: expected %v, got %v", expected, got)
	}
}

func TestEnableAutoGain_NoCompletion(t *testing.T) {
	d, transport, clock, _ := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())
	transport.reply(CmdAutoGain, ackBody())

	start := clock.Now()
	if err := d.EnableAutoGain(); !errors.Is(err, ErrAutoGainIncomplete) {
		t.Fatalf("expected ErrAutoGainIncomplete, got %v", err)
	}
	if clock.Now().Sub(start) < 10*time.Second {
		t.Errorf("gave up early after %v", clock.Now().Sub(start))
	}
	if d.State().ConfigActive {
		t.Error("config mode must be closed again")
	}
}

func TestEnableAutoGain_Malformed(t *testing.T) {
	d, transport, _, _ := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())
	transport.reply(CmdAutoGain, []byte{0x01, 0x02})

	var malformed *MalformedResponseError
	if err := d.EnableAutoGain(); !errors.As(err, &malformed) {
		t.Errorf("expected MalformedResponseError, got %v", err)
	}
}

// ============================================================
// Factory Reset Tests
// ============================================================

func TestFactoryReset(t *testing.T) {
	d, transport, clock, events := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())
	transport.reply(CmdSetParams, ackBody(), ackBody())

	if err := d.FactoryReset(DefaultMaxDistance, DefaultTimeout); err != nil {
		t.Fatalf("FactoryReset failed: %v", err)
	}

	expected := []uint16{CmdEnableConfig, CmdSetParams, CmdSetParams, CmdStartCalibration}
	if got := transport.commands(); !slices.Equal(got, expected) {
		t.Fatalf("command sequence mismatch: expected %v, got %v", expected, got)
	}
	if !bytes.Equal(transport.sent[1].payload, []byte{0x01, 0x00, 0x32, 0x00, 0x00, 0x00}) {
		t.Errorf("max distance payload mismatch: got % X", transport.sent[1].payload)
	}
	if !bytes.Equal(transport.sent[2].payload, []byte{0x04, 0x00, 0x05, 0x00, 0x00, 0x00}) {
		t.Errorf("timeout payload mismatch: got % X", transport.sent[2].payload)
	}
	if !bytes.Equal(transport.sent[3].payload, CalibrationPayload(3, 3, 3)) {
		t.Errorf("calibration payload mismatch: got % X", transport.sent[3].payload)
	}
	if !d.State().Calibration.InProgress {
		t.Fatal("expected a calibration session")
	}
	if e, ok := events.last(EventCalibrationProgress); !ok || e.Value != 0 {
		t.Errorf("progress event mismatch: got %+v", e)
	}

	// The first status poll comes a second after the reset.
	transport.reply(CmdGetCalibrationStatus, calibrationStatus(0x64))
	clock.Advance(time.Second)
	d.Poll()

	state := d.State()
	if state.Calibration.InProgress {
		t.Error("expected calibration to be complete")
	}
	if state.ConfigActive {
		t.Error("expected config mode to be closed")
	}
}

func TestFactoryReset_CalibrationSendFailure(t *testing.T) {
	d, transport, _, _ := newTestDriver(t)
	transport.reply(CmdEnableConfig, configAckBody())
	transport.reply(CmdSetParams, ackBody(), ackBody())
	transport.reply(CmdSaveParams, ackBody())
	transport.failOn[CmdStartCalibration] = true

	err := d.FactoryReset(DefaultMaxDistance, DefaultTimeout)
	if !errors.Is(err, ErrTransportWrite) {
		t.Fatalf("expected ErrTransportWrite, got %v", err)
	}
	if !strings.Contains(err.Error(), "settings saved") {
		t.Errorf("error mismatch: expected the saved settings to be reported, got %q", err)
	}

	expected := []uint16{CmdEnableConfig, CmdSetParams, CmdSetParams, CmdSaveParams, CmdDisableConfig}
	if got := transport.commands(); !slices.Equal(got, expected) {
		t.Errorf("command sequence mismatch: expected %v, got %v", expected, got)
	}
	state := d.State()
	if state.Calibration.InProgress {
		t.Error("no session may start when the command fails")
	}
	if state.ConfigActive {
		t.Error("expected config mode to be closed")
	}
	if state.Mode != ModeNormal {
		t.Errorf("mode mismatch: expected Normal, got %s", state.Mode)
	}
}
