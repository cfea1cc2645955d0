// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"bytes"
	"slices"
	"testing"
	"time"
)

type classifierHarness struct {
	classifier *Classifier
	transport  *fakeTransport
	clock      *fakeClock
	stats      *Statistics

	engineering bool
	lines       []string
	captures    [][]byte
	frames      [][]byte
}

func newClassifierHarness() *classifierHarness {
	h := &classifierHarness{
		transport: newFakeTransport(),
		clock:     newFakeClock(),
	}
	h.stats = NewStatistics(h.clock.Now())
	h.classifier = NewClassifier(h.transport, h.clock, nil, h.stats)
	h.classifier.Engineering = func() bool { return h.engineering }
	h.classifier.OnLine = func(line string) { h.lines = append(h.lines, line) }
	h.classifier.OnEngineeringFrame = func(frame []byte) {
		h.captures = append(h.captures, append([]byte{}, frame...))
	}
	h.classifier.OnDataFrame = func(_ byte, frame []byte) {
		h.frames = append(h.frames, append([]byte{}, frame...))
	}
	return h
}

// ============================================================
// Text Line Tests
// ============================================================

func TestClassifier_Lines(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"single line", "distance:123.4\n", []string{"distance:123.4"}},
		{"crlf", "OFF\r\n", []string{"OFF"}},
		{"empty lines skipped", "\n\nOFF\n\n", []string{"OFF"}},
		{"marker splits line", "123distance:45\n", []string{"123", "distance:45"}},
		{"back to back readings", "distance:12distance:34\n", []string{"distance:12", "distance:34"}},
		{"unterminated", "distance:99", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newClassifierHarness()
			h.transport.feedString(tt.input)
			h.classifier.Poll()

			if !slices.Equal(h.lines, tt.expected) {
				t.Errorf("lines mismatch: expected %q, got %q", tt.expected, h.lines)
			}
		})
	}
}

func TestClassifier_BinaryNoise(t *testing.T) {
	h := newClassifierHarness()
	h.transport.feed(0x01, 0x02, 0x03, 'a', '\n')
	h.transport.feedString("OFF\n")
	h.classifier.Poll()

	if !slices.Equal(h.lines, []string{"OFF"}) {
		t.Errorf("lines mismatch: expected [OFF], got %q", h.lines)
	}
	if h.stats.NoiseLines != 1 {
		t.Errorf("noise count mismatch: expected 1, got %d", h.stats.NoiseLines)
	}
}

func TestClassifier_LineOverflow(t *testing.T) {
	h := newClassifierHarness()
	h.transport.feed(bytes.Repeat([]byte{'a'}, MaxLineLength)...)
	h.transport.feedString("OFF\n")
	h.classifier.Poll()

	if !slices.Equal(h.lines, []string{"OFF"}) {
		t.Errorf("lines mismatch: expected [OFF], got %q", h.lines)
	}
	if h.stats.LineOverflows != 1 {
		t.Errorf("overflow count mismatch: expected 1, got %d", h.stats.LineOverflows)
	}
}

func TestClassifier_StaleLine(t *testing.T) {
	h := newClassifierHarness()
	h.transport.feedString("distance:12")
	h.classifier.Poll()

	if h.classifier.PendingLine() != "distance:12" {
		t.Fatalf("pending line mismatch: got %q", h.classifier.PendingLine())
	}

	h.clock.Advance(LineStaleTimeout / 2)
	h.classifier.Poll()
	if h.classifier.PendingLine() == "" {
		t.Fatal("line cleared before the stale timeout")
	}

	h.clock.Advance(LineStaleTimeout)
	h.classifier.Poll()
	if h.classifier.PendingLine() != "" {
		t.Errorf("expected stale line to be cleared, got %q", h.classifier.PendingLine())
	}
	if h.stats.StaleLines != 1 {
		t.Errorf("stale count mismatch: expected 1, got %d", h.stats.StaleLines)
	}
}

// ============================================================
// Data Frame Tests
// ============================================================

func TestClassifier_DataFrameOutsideEngineering(t *testing.T) {
	h := newClassifierHarness()
	frame := buildEngineeringFrame(StatusNoPerson, 42, nil, nil)

	h.transport.feedString("OFF\n")
	h.transport.feed(frame...)
	h.transport.feedString("distance:50\n")
	h.classifier.Poll()

	if !slices.Equal(h.lines, []string{"OFF", "distance:50"}) {
		t.Errorf("lines mismatch: got %q", h.lines)
	}
	if len(h.frames) != 1 {
		t.Fatalf("frame count mismatch: expected 1, got %d", len(h.frames))
	}
	if !bytes.Equal(h.frames[0], frame) {
		t.Errorf("frame mismatch: expected % X, got % X", frame, h.frames[0])
	}
	if len(h.captures) != 0 {
		t.Errorf("expected no engineering captures, got %d", len(h.captures))
	}
}

func TestClassifier_IncompleteDataFrameDropped(t *testing.T) {
	h := newClassifierHarness()
	frame := buildEngineeringFrame(StatusNoPerson, 42, nil, nil)
	h.transport.feed(frame[:60]...)
	h.classifier.Poll()

	if len(h.frames) != 0 {
		t.Errorf("expected no frames, got %d", len(h.frames))
	}
	if h.stats.RejectedFrames != 1 {
		t.Errorf("rejected count mismatch: expected 1, got %d", h.stats.RejectedFrames)
	}
}

// ============================================================
// Engineering Capture Tests
// ============================================================

func TestClassifier_EngineeringCapture(t *testing.T) {
	h := newClassifierHarness()
	h.engineering = true

	// The frame whose header triggers the capture is dropped.
	h.transport.feed(buildEngineeringFrame(StatusPerson, 10, nil, nil)...)
	h.classifier.Poll()
	if h.classifier.State() != CaptureCapturingFrame {
		t.Fatalf("state mismatch: expected CapturingFrame, got %s", h.classifier.State())
	}
	if h.transport.Available() != 0 {
		t.Errorf("expected buffered bytes to be discarded, %d left", h.transport.Available())
	}

	// A fresh frame arrives at a non-zero offset of the capture.
	fresh := buildEngineeringFrame(StatusPerson, 321, []uint32{500}, nil)
	h.transport.feed(0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77)
	h.transport.feed(fresh...)
	h.transport.feed(fresh[:20]...)

	h.clock.Advance(EngineeringSettleDelay / 2)
	h.classifier.Poll()
	if len(h.captures) != 0 {
		t.Fatal("capture decoded before the settle delay")
	}

	h.clock.Advance(EngineeringSettleDelay)
	h.classifier.Poll()
	if len(h.captures) != 1 {
		t.Fatalf("capture count mismatch: expected 1, got %d", len(h.captures))
	}
	if !bytes.Equal(h.captures[0], fresh) {
		t.Errorf("capture mismatch: expected % X, got % X", fresh, h.captures[0])
	}
	if h.classifier.State() != CaptureIdle {
		t.Fatalf("state mismatch: expected Idle, got %s", h.classifier.State())
	}

	h.clock.Advance(EngineeringPostDelay - time.Millisecond)
	h.classifier.Poll()
	if h.classifier.State() != CaptureIdle {
		t.Errorf("left Idle before the post-capture delay")
	}

	h.clock.Advance(2 * time.Millisecond)
	h.classifier.Poll()
	if h.classifier.State() != CaptureAwaitingHeader {
		t.Errorf("state mismatch: expected AwaitingHeader, got %s", h.classifier.State())
	}
}

func TestClassifier_EngineeringCaptureMiss(t *testing.T) {
	h := newClassifierHarness()
	h.engineering = true

	h.transport.feed(buildEngineeringFrame(StatusPerson, 10, nil, nil)...)
	h.classifier.Poll()

	h.transport.feedString("no frame here")
	h.clock.Advance(EngineeringSettleDelay)
	h.classifier.Poll()

	if len(h.captures) != 0 {
		t.Errorf("expected no captures, got %d", len(h.captures))
	}
	if h.stats.CaptureMisses != 1 {
		t.Errorf("miss count mismatch: expected 1, got %d", h.stats.CaptureMisses)
	}
	if h.classifier.State() != CaptureIdle {
		t.Fatalf("state mismatch: expected Idle, got %s", h.classifier.State())
	}

	h.clock.Advance(EngineeringMissDelay)
	h.classifier.Poll()
	if h.classifier.State() != CaptureAwaitingHeader {
		t.Errorf("state mismatch: expected AwaitingHeader, got %s", h.classifier.State())
	}
}

func TestClassifier_Reset(t *testing.T) {
	h := newClassifierHarness()
	h.engineering = true
	h.transport.feedString("partial")
	h.transport.feed(buildEngineeringFrame(StatusPerson, 10, nil, nil)...)
	h.classifier.Poll()

	h.classifier.Reset()
	if h.classifier.State() != CaptureAwaitingHeader {
		t.Errorf("state mismatch: expected AwaitingHeader, got %s", h.classifier.State())
	}
	if h.classifier.PendingLine() != "" {
		t.Errorf("expected empty line buffer, got %q", h.classifier.PendingLine())
	}
}

// ============================================================
// Driver Stream Tests
// ============================================================

func TestDriver_TextReadings(t *testing.T) {
	d, transport, clock, events := newTestDriver(t)

	transport.feedString("distance:123.4\n")
	d.Poll()

	state := d.State()
	if state.Distance != 123.4 || !state.Presence || !state.Micromovement {
		t.Errorf("state mismatch: got distance=%v presence=%v micro=%v",
			state.Distance, state.Presence, state.Micromovement)
	}
	if e, ok := events.last(EventDistance); !ok || e.Value != 123.4 {
		t.Errorf("distance event mismatch: got %+v", e)
	}

	// Presence follows every line; distance is throttled.
	clock.Advance(500 * time.Millisecond)
	transport.feedString("OFF\n")
	d.Poll()

	if d.State().Presence {
		t.Error("expected presence to clear on OFF")
	}
	if e, _ := events.last(EventPresence); e.State {
		t.Error("expected a presence=false event")
	}
	if n := len(events.ofKind(EventDistance)); n != 1 {
		t.Errorf("distance events within throttle: expected 1, got %d", n)
	}

	clock.Advance(DefaultDistanceThrottle)
	transport.feedString("OFF\n")
	d.Poll()
	if e, _ := events.last(EventDistance); e.Value != 0 {
		t.Errorf("expected distance 0 after OFF, got %v", e.Value)
	}
}

func TestDriver_PassiveVersionDetection(t *testing.T) {
	d, transport, _, events := newTestDriver(t)
	d.state.FirmwareVersion = VersionDefault

	transport.feedString("LD2402 firmware v3.3.5\n")
	d.Poll()

	if got := d.State().FirmwareVersion; got != "v3.3.5" {
		t.Errorf("firmware mismatch: expected v3.3.5, got %q", got)
	}
	if e, ok := events.last(EventFirmwareVersion); !ok || e.Text != "v3.3.5" {
		t.Errorf("firmware event mismatch: got %+v", e)
	}

	// A known version is not replaced.
	transport.feedString("v9.9\n")
	d.Poll()
	if got := d.State().FirmwareVersion; got != "v3.3.5" {
		t.Errorf("firmware replaced: got %q", got)
	}
}

func TestDriver_EngineeringStream(t *testing.T) {
	d, transport, clock, events := engineeringDriver(t)

	transport.feed(buildEngineeringFrame(StatusPerson, 10, nil, nil)...)
	d.Poll()
	if d.CaptureState() != CaptureCapturingFrame {
		t.Fatalf("capture state mismatch: expected CapturingFrame, got %s", d.CaptureState())
	}

	transport.feed(0xAA, 0xBB, 0xCC)
	transport.feed(buildEngineeringFrame(StatusStationaryPerson, 275, []uint32{100}, []uint32{1000})...)
	clock.Advance(EngineeringSettleDelay)
	d.Poll()

	if e, ok := events.last(EventDistance); !ok || e.Value != 275 {
		t.Errorf("distance event mismatch: got %+v", e)
	}
	if !d.State().Micromovement {
		t.Error("expected micromovement for a stationary person")
	}
	motion := events.ofKind(EventMotionEnergy)
	if len(motion) != DefaultGates {
		t.Fatalf("motion energy count mismatch: expected %d, got %d", DefaultGates, len(motion))
	}
	if motion[0].Value != 20 {
		t.Errorf("motion gate 0 mismatch: expected 20 dB, got %v", motion[0].Value)
	}
}

func TestDriver_FrameHandler(t *testing.T) {
	var got [][]byte
	d, transport, _, _ := newTestDriver(t, WithFrameHandler(func(_ time.Time, frameType byte, frame []byte) {
		if frameType == DataTypeEngineering {
			got = append(got, append([]byte{}, frame...))
		}
	}))

	frame := buildEngineeringFrame(StatusNoPerson, 42, nil, nil)
	transport.feed(frame...)
	d.Poll()

	if len(got) != 1 || !bytes.Equal(got[0], frame) {
		t.Errorf("frame handler mismatch: got %d frames", len(got))
	}
	if d.Statistics().DataFrames != 1 {
		t.Errorf("data frame count mismatch: expected 1, got %d", d.Statistics().DataFrames)
	}
}
