// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"io"
	"sync"
	"time"
)

// Transport is the byte-level view of the UART the driver needs. Reads never
// block: callers poll Available and consume what is buffered.
type Transport interface {
	// Available returns the number of buffered bytes.
	Available() int
	// Peek returns up to n buffered bytes without consuming them.
	Peek(n int) []byte
	// ReadByte consumes one byte. ok is false when nothing is buffered.
	ReadByte() (b byte, ok bool)
	// Read consumes up to len(p) buffered bytes.
	Read(p []byte) int
	// Write sends p and reports how many bytes were accepted.
	Write(p []byte) (int, error)
	// Discard drops everything buffered and returns the count.
	Discard() int
}

// DefaultStreamBuffer is the receive buffer bound of a StreamTransport.
const DefaultStreamBuffer = 4096

// StreamTransport adapts a blocking io.ReadWriter (serial port, WebSocket
// bridge) to Transport. A pump goroutine copies incoming bytes into a bounded
// buffer; when the buffer is full the oldest bytes are dropped.
type StreamTransport struct {
	rw io.ReadWriter

	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped uint64
	err     error

	writeMu sync.Mutex

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewStreamTransport starts pumping rw into a buffer of at most limit bytes.
// A limit of 0 uses DefaultStreamBuffer.
func NewStreamTransport(rw io.ReadWriter, limit int) *StreamTransport {
	if limit <= 0 {
		limit = DefaultStreamBuffer
	}
	t := &StreamTransport{
		rw:      rw,
		buf:     make([]byte, 0, limit),
		limit:   limit,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *StreamTransport) pump() {
	defer close(t.stopped)

	chunk := make([]byte, 256)
	for {
		n, err := t.rw.Read(chunk)
		if n > 0 {
			t.mu.Lock()
			t.buf = append(t.buf, chunk[:n]...)
			if over := len(t.buf) - t.limit; over > 0 {
				t.buf = append(t.buf[:0], t.buf[over:]...)
				t.dropped += uint64(over)
			}
			t.mu.Unlock()
		}

		select {
		case <-t.done:
			return
		default:
		}

		if err != nil {
			// Any read error ends the stream; Err reports it.
			t.setErr(err)
			return
		}
		if n == 0 {
			// Serial ports with a read timeout return 0, nil when idle.
			time.Sleep(time.Millisecond)
		}
	}
}

func (t *StreamTransport) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Err returns the last read error seen by the pump.
func (t *StreamTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Dropped returns how many bytes were discarded because the buffer was full.
func (t *StreamTransport) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

func (t *StreamTransport) Available() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

func (t *StreamTransport) Peek(n int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > len(t.buf) {
		n = len(t.buf)
	}
	out := make([]byte, n)
	copy(out, t.buf[:n])
	return out
}

func (t *StreamTransport) ReadByte() (byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) == 0 {
		return 0, false
	}
	b := t.buf[0]
	t.buf = t.buf[1:]
	return b, true
}

func (t *StreamTransport) Read(p []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(p, t.buf)
	t.buf = t.buf[n:]
	return n
}

func (t *StreamTransport) Write(p []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.rw.Write(p)
}

func (t *StreamTransport) Discard() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.buf)
	t.buf = t.buf[:0]
	return n
}

// Close stops the pump and closes the underlying stream if it is a Closer.
// The pump exits once the pending Read returns.
func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if c, ok := t.rw.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// Stopped is closed when the pump goroutine has exited.
func (t *StreamTransport) Stopped() <-chan struct{} {
	return t.stopped
}
