// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import "time"

// Clock is the time source for every delay and timeout in the driver.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

// RetryPolicy bounds how often an operation is attempted and how long to
// wait between attempts.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the delay before the given attempt (1-based retry
	// index). It is not called before the first attempt.
	Backoff func(retry int) time.Duration
}

// LinearBackoff waits retry*step before each retry.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(retry int) time.Duration { return time.Duration(retry) * step }
}

// ConstantBackoff waits d before each retry.
func ConstantBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Named policies used by the driver.
var (
	// SendPolicy covers a whole command transmission.
	SendPolicy = RetryPolicy{MaxAttempts: 5, Backoff: LinearBackoff(100 * time.Millisecond)}
	// WritePolicy covers the raw frame write inside one send attempt.
	WritePolicy = RetryPolicy{MaxAttempts: 3, Backoff: ConstantBackoff(5 * time.Millisecond)}
	// ConfigEntryPolicy covers the config-mode handshake.
	ConfigEntryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: ConstantBackoff(500 * time.Millisecond)}
	// StartupPolicy covers the config handshake during Start.
	StartupPolicy = RetryPolicy{MaxAttempts: 3, Backoff: ConstantBackoff(500 * time.Millisecond)}
)

// Do runs fn until it succeeds or the attempts are exhausted, sleeping on
// clock between attempts. It returns the last error.
func (p RetryPolicy) Do(clock Clock, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && p.Backoff != nil {
			clock.Sleep(p.Backoff(attempt))
		}
		if err = fn(attempt); err == nil {
			return nil
		}
	}
	return err
}
