// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

// ============================================================
// Fake Clock
// ============================================================

// fakeClock advances only when Sleep or Advance is called.
type fakeClock struct {
	now    time.Time
	slept  time.Duration
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.slept += d
	c.sleeps++
}

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// ============================================================
// Fake Transport
// ============================================================

type sentCommand struct {
	command uint16
	payload []byte
}

// fakeTransport answers each written command from a per-command reply queue.
type fakeTransport struct {
	rx      []byte
	sent    []sentCommand
	replies map[uint16][][]byte
	follow  map[uint16][]byte // raw bytes appended after the next reply
	failOn  map[uint16]bool   // commands whose writes always fail

	failWrites  int // number of upcoming writes that return an error
	shortWrites int // number of upcoming writes that accept only half their bytes
	writes      int

	wire    []byte // every byte accepted by Write, in order
	pending []byte // accepted bytes of a command frame not yet complete
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		replies: make(map[uint16][][]byte),
		follow:  make(map[uint16][]byte),
		failOn:  make(map[uint16]bool),
	}
}

// reply queues response bodies (bytes between header and footer) for the
// next writes of command. A nil body leaves that write unanswered.
func (f *fakeTransport) reply(command uint16, bodies ...[]byte) {
	f.replies[command] = append(f.replies[command], bodies...)
}

// then queues raw bytes that arrive right after the next reply to command.
func (f *fakeTransport) then(command uint16, raw []byte) {
	f.follow[command] = append(f.follow[command], raw...)
}

// feed appends raw bytes to the receive buffer.
func (f *fakeTransport) feed(b ...byte) {
	f.rx = append(f.rx, b...)
}

func (f *fakeTransport) feedString(s string) {
	f.rx = append(f.rx, s...)
}

func (f *fakeTransport) commands() []uint16 {
	out := make([]uint16, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.command
	}
	return out
}

func (f *fakeTransport) count(command uint16) int {
	n := 0
	for _, s := range f.sent {
		if s.command == command {
			n++
		}
	}
	return n
}

func (f *fakeTransport) Available() int { return len(f.rx) }

func (f *fakeTransport) Peek(n int) []byte {
	if n > len(f.rx) {
		n = len(f.rx)
	}
	out := make([]byte, n)
	copy(out, f.rx[:n])
	return out
}

func (f *fakeTransport) ReadByte() (byte, bool) {
	if len(f.rx) == 0 {
		return 0, false
	}
	b := f.rx[0]
	f.rx = f.rx[1:]
	return b, true
}

func (f *fakeTransport) Read(p []byte) int {
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	return n
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.writes++
	if f.failWrites > 0 {
		f.failWrites--
		return 0, errors.New("uart busy")
	}
	if command, _, err := DecodeCommand(append(append([]byte{}, f.pending...), p...)); err == nil && f.failOn[command] {
		return 0, errors.New("uart busy")
	}

	n := len(p)
	if f.shortWrites > 0 {
		f.shortWrites--
		n = len(p) / 2
	}
	f.wire = append(f.wire, p[:n]...)
	f.pending = append(f.pending, p[:n]...)

	command, payload, err := DecodeCommand(f.pending)
	if err != nil && bytes.HasSuffix(f.pending, CommandFooter[:]) {
		// A torn frame followed by a full resend: decode the last frame.
		if i := bytes.LastIndex(f.pending, CommandHeader[:]); i > 0 {
			command, payload, err = DecodeCommand(f.pending[i:])
		}
		if err != nil {
			f.pending = f.pending[:0]
		}
	}
	if err != nil {
		return n, nil
	}
	f.pending = f.pending[:0]
	f.sent = append(f.sent, sentCommand{command: command, payload: payload})

	if queue := f.replies[command]; len(queue) > 0 {
		if queue[0] != nil {
			f.rx = append(f.rx, wrapResponse(queue[0])...)
		}
		f.replies[command] = queue[1:]
	}
	if raw := f.follow[command]; len(raw) > 0 {
		f.rx = append(f.rx, raw...)
		delete(f.follow, command)
	}
	return n, nil
}

func (f *fakeTransport) Discard() int {
	n := len(f.rx)
	f.rx = f.rx[:0]
	return n
}

// ============================================================
// Frame Builders
// ============================================================

// wrapResponse surrounds a body with the command header and footer.
func wrapResponse(body []byte) []byte {
	out := append([]byte{}, CommandHeader[:]...)
	out = append(out, body...)
	return append(out, CommandFooter[:]...)
}

// ackBody is a plain "00 00" acknowledgement.
func ackBody() []byte { return []byte{0x00, 0x00} }

// configAckBody is the enable-config reply seen on devices.
func configAckBody() []byte {
	return []byte{0xFF, 0x01, 0x00, 0x00, 0x02, 0x00, 0x20, 0x00}
}

// paramBody is a GET_PARAMS reply carrying value at offset 2.
func paramBody(value uint32) []byte {
	b := []byte{0x00, 0x00, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[2:], value)
	return b
}

// buildEngineeringFrame assembles a full engineering frame.
func buildEngineeringFrame(status uint8, distance uint16, motion, still []uint32) []byte {
	frame := make([]byte, 0, 141)
	frame = append(frame, DataHeader[:]...)
	frame = append(frame, DataTypeEngineering, 0x80, status)
	frame = binary.LittleEndian.AppendUint16(frame, distance)
	for i := 0; i < DefaultGates; i++ {
		var v uint32
		if i < len(motion) {
			v = motion[i]
		}
		frame = binary.LittleEndian.AppendUint32(frame, v)
	}
	for i := 0; i < DefaultGates; i++ {
		var v uint32
		if i < len(still) {
			v = still[i]
		}
		frame = binary.LittleEndian.AppendUint32(frame, v)
	}
	return append(frame, DataFooter[:]...)
}

// ============================================================
// Event Capture
// ============================================================

type eventLog struct {
	events []Event
}

func (l *eventLog) Publish(e Event) { l.events = append(l.events, e) }

func (l *eventLog) ofKind(kind EventKind) []Event {
	var out []Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) last(kind EventKind) (Event, bool) {
	events := l.ofKind(kind)
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}

// newTestDriver wires a driver to a fake transport and clock with startup
// checks disabled.
func newTestDriver(t *testing.T, opts ...Option) (*Driver, *fakeTransport, *fakeClock, *eventLog) {
	t.Helper()
	transport := newFakeTransport()
	clock := newFakeClock()
	events := &eventLog{}
	base := []Option{
		WithClock(clock),
		WithSink(events),
		WithStartupChecks(false),
	}
	d := New(transport, append(base, opts...)...)
	return d, transport, clock, events
}

// enterConfig puts a test driver into config mode.
func enterConfig(t *testing.T, d *Driver, transport *fakeTransport) {
	t.Helper()
	transport.reply(CmdEnableConfig, configAckBody())
	if err := d.EnterConfig(); err != nil {
		t.Fatalf("EnterConfig failed: %v", err)
	}
}
