// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is one entry of a session recording: either a published event or a
// raw data frame.
type Record struct {
	Time      time.Time `cbor:"1,keyasint"`
	Event     *Event    `cbor:"2,keyasint,omitempty"`
	FrameType uint8     `cbor:"3,keyasint,omitempty"`
	Frame     []byte    `cbor:"4,keyasint,omitempty"`
}

var recordEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("ld2402: cbor enc mode: %v", err))
	}
	return em
}()

// Recorder writes a stream of CBOR records. It implements Sink so it can be
// attached to a driver alongside other sinks, and its RecordFrame method
// fits WithFrameHandler.
type Recorder struct {
	mu    sync.Mutex
	enc   *cbor.Encoder
	count int
	err   error
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{enc: recordEncMode.NewEncoder(w)}
}

func (r *Recorder) write(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	if err := r.enc.Encode(rec); err != nil {
		r.err = err
		return
	}
	r.count++
}

// Publish records an event.
func (r *Recorder) Publish(e Event) {
	r.write(Record{Time: e.Time, Event: &e})
}

// RecordFrame records a raw data frame.
func (r *Recorder) RecordFrame(at time.Time, frameType byte, frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	r.write(Record{Time: at, FrameType: frameType, Frame: buf})
}

// Count returns how many records were written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error. Recording stops after it.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Replay reads records from rd until EOF, calling fn for each. It returns
// the number of records read.
func Replay(rd io.Reader, fn func(Record) error) (int, error) {
	dec := cbor.NewDecoder(rd)
	n := 0
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("record %d: %w", n, err)
		}
		n++
		if err := fn(rec); err != nil {
			return n, err
		}
	}
}

// ReplayInto re-publishes recorded events to sink. Frames are skipped.
func ReplayInto(rd io.Reader, sink Sink) (int, error) {
	return Replay(rd, func(rec Record) error {
		if rec.Event != nil {
			sink.Publish(*rec.Event)
		}
		return nil
	})
}
