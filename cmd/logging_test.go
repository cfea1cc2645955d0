// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ============================================================
// Logger Construction Tests
// ============================================================

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		json    bool
		wantErr bool
	}{
		{"console info", "info", false, false},
		{"console debug", "debug", false, false},
		{"json warn", "warn", true, false},
		{"upper case", "ERROR", false, false},
		{"unknown level", "verbose", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := newLogger(tt.level, tt.json)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("newLogger failed: %v", err)
			}
			if log == nil {
				t.Fatal("expected logger, got nil")
			}
		})
	}
}

// ============================================================
// Forward Core Tests
// ============================================================

func TestForwardCore(t *testing.T) {
	var got []logEntry
	log := zap.New(newForwardCore(zapcore.InfoLevel, func(e logEntry) {
		got = append(got, e)
	}))

	log.Debug("hidden")
	log.Info("connected", zap.String("port", "/dev/ttyUSB0"))
	log.Named("ld2402").With(zap.Int("attempt", 2)).Warn("retrying")

	if len(got) != 2 {
		t.Fatalf("entry count mismatch: expected 2, got %d", len(got))
	}

	if got[0].level != zapcore.InfoLevel {
		t.Errorf("level mismatch: expected info, got %v", got[0].level)
	}
	if !strings.Contains(got[0].message, "connected") || !strings.Contains(got[0].message, "/dev/ttyUSB0") {
		t.Errorf("message mismatch: got %q", got[0].message)
	}
	if got[0].timestamp.IsZero() {
		t.Error("expected entry timestamp to be set")
	}

	if got[1].level != zapcore.WarnLevel {
		t.Errorf("level mismatch: expected warn, got %v", got[1].level)
	}
	for _, want := range []string{"ld2402", "retrying", "attempt"} {
		if !strings.Contains(got[1].message, want) {
			t.Errorf("message mismatch: expected %q in %q", want, got[1].message)
		}
	}
}

func TestForwardCore_WithDoesNotLeak(t *testing.T) {
	var got []logEntry
	base := zap.New(newForwardCore(zapcore.DebugLevel, func(e logEntry) {
		got = append(got, e)
	}))

	base.With(zap.String("scope", "child")).Info("one")
	base.Info("two")

	if len(got) != 2 {
		t.Fatalf("entry count mismatch: expected 2, got %d", len(got))
	}
	if !strings.Contains(got[0].message, "child") {
		t.Errorf("expected child field in %q", got[0].message)
	}
	if strings.Contains(got[1].message, "child") {
		t.Errorf("child field leaked into parent entry %q", got[1].message)
	}
}
