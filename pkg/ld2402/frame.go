// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeCommand builds a complete command frame for transmission.
//
// Wire layout: header(4) | length LE16 | command LE16 | payload | footer(4),
// where length counts the command word plus the payload.
func EncodeCommand(command uint16, payload []byte) []byte {
	frame := make([]byte, 0, len(CommandHeader)+4+len(payload)+len(CommandFooter))
	frame = append(frame, CommandHeader[:]...)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(2+len(payload)))
	frame = binary.LittleEndian.AppendUint16(frame, command)
	frame = append(frame, payload...)
	frame = append(frame, CommandFooter[:]...)
	return frame
}

// DecodeCommand parses a complete command frame using its declared length.
// Unlike the stream scanner it does not search for the footer, so payloads
// that happen to contain the footer sequence decode correctly.
func DecodeCommand(frame []byte) (uint16, []byte, error) {
	if len(frame) < len(CommandHeader)+4+len(CommandFooter) {
		return 0, nil, &FrameError{Reason: "command frame too short", Size: len(frame)}
	}
	if !bytes.Equal(frame[:4], CommandHeader[:]) {
		return 0, nil, &FrameError{Reason: "bad command header", Size: len(frame)}
	}

	length := int(binary.LittleEndian.Uint16(frame[4:6]))
	if length < 2 {
		return 0, nil, &FrameError{Reason: fmt.Sprintf("declared length %d below command size", length), Size: len(frame)}
	}
	end := 6 + length
	if end+len(CommandFooter) != len(frame) {
		return 0, nil, &FrameError{Reason: fmt.Sprintf("declared length %d does not match frame", length), Size: len(frame)}
	}
	if !bytes.Equal(frame[end:], CommandFooter[:]) {
		return 0, nil, &FrameError{Reason: "bad command footer", Size: len(frame)}
	}

	command := binary.LittleEndian.Uint16(frame[6:8])
	payload := make([]byte, length-2)
	copy(payload, frame[8:end])
	return command, payload, nil
}

// ResponseScanner extracts command responses from a byte stream.
//
// A response is every byte between a command header and the next command
// footer, which includes the two-byte length field. Bytes outside a header
// are ignored, so interleaved data frames and text do not disturb it. A
// payload that itself contains the footer sequence is cut short; the
// protocol has no escaping for it.
type ResponseScanner struct {
	headerMatch int
	footerMatch int
	buf         []byte
}

// NewResponseScanner creates a scanner waiting for a header.
func NewResponseScanner() *ResponseScanner {
	return &ResponseScanner{buf: make([]byte, 0, 64)}
}

// Reset drops any partial response.
func (s *ResponseScanner) Reset() {
	s.headerMatch = 0
	s.footerMatch = 0
	s.buf = s.buf[:0]
}

// Feed processes one byte. It returns the response body once the footer
// completes.
func (s *ResponseScanner) Feed(b byte) ([]byte, bool) {
	if s.headerMatch < len(CommandHeader) {
		switch {
		case b == CommandHeader[s.headerMatch]:
			s.headerMatch++
		case b == CommandHeader[0]:
			s.headerMatch = 1
		default:
			s.headerMatch = 0
		}
		s.buf = s.buf[:0]
		s.footerMatch = 0
		return nil, false
	}

	s.buf = append(s.buf, b)
	if len(s.buf) > MaxResponseSize {
		s.Reset()
		return nil, false
	}
	switch {
	case b == CommandFooter[s.footerMatch]:
		s.footerMatch++
	case b == CommandFooter[0]:
		s.footerMatch = 1
	default:
		s.footerMatch = 0
	}

	if s.footerMatch < len(CommandFooter) {
		return nil, false
	}

	body := make([]byte, len(s.buf)-len(CommandFooter))
	copy(body, s.buf)
	s.Reset()
	return body, true
}

// ExtractResponse runs buf through a fresh scanner and returns the first
// response body along with the unconsumed remainder.
func ExtractResponse(buf []byte) (body, rest []byte, ok bool) {
	s := NewResponseScanner()
	for i, b := range buf {
		if body, ok := s.Feed(b); ok {
			return body, buf[i+1:], true
		}
	}
	return nil, buf, false
}

// FindDataFrame locates the first complete data frame in buf. It returns the
// start offset and the exclusive end offset of the frame including both
// markers. A header without a later footer is skipped in favour of the next
// header.
func FindDataFrame(buf []byte) (start, end int, ok bool) {
	offset := 0
	for offset < len(buf) {
		i := bytes.Index(buf[offset:], DataHeader[:])
		if i < 0 {
			return 0, 0, false
		}
		start = offset + i
		j := bytes.Index(buf[start+len(DataHeader):], DataFooter[:])
		if j >= 0 {
			end = start + len(DataHeader) + j + len(DataFooter)
			return start, end, true
		}
		offset = start + 1
	}
	return 0, 0, false
}

// IsDataHeaderPrefix reports whether the three bytes following the first
// header byte complete a data frame header.
func IsDataHeaderPrefix(next []byte) bool {
	return len(next) >= 3 && next[0] == DataHeader[1] && next[1] == DataHeader[2] && next[2] == DataHeader[3]
}
