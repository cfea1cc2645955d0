// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by driver operations.
var (
	ErrTransportWrite  = errors.New("transport write failed")
	ErrResponseTimeout = errors.New("no response before timeout")
	ErrConfigFailed    = errors.New("failed to enter config mode")
	ErrNotInConfig     = errors.New("config mode not active")
	ErrInvalidGate     = errors.New("gate index out of range")
	ErrInvalidMode     = errors.New("operating mode cannot be requested")
	ErrRejected        = errors.New("device rejected command")
)

// MalformedResponseError reports a response that matched none of the
// accepted shapes for a command.
type MalformedResponseError struct {
	Command  uint16
	Response []byte
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response to %s: % X", CommandName(e.Command), e.Response)
}

// InvalidGateError is returned when a threshold write names a gate outside
// the range the device accepts.
type InvalidGateError struct {
	Gate int
}

func (e *InvalidGateError) Error() string {
	return fmt.Sprintf("invalid gate index %d (must be 0-%d)", e.Gate, DefaultGates-1)
}

func (e *InvalidGateError) Unwrap() error { return ErrInvalidGate }

// FrameError describes a frame that failed structural validation.
type FrameError struct {
	Reason string
	Size   int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s (%d bytes)", e.Reason, e.Size)
}
