// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"fmt"
	"strings"
)

// FormatEvent formats an event into a human-readable line
func FormatEvent(e Event) string {
	timestamp := e.Time.Format("15:04:05.000")

	switch e.Kind {
	case EventDistance:
		return fmt.Sprintf("[%s] DISTANCE %.1f cm", timestamp, e.Value)
	case EventPresence, EventMicromovement, EventPowerInterference:
		return fmt.Sprintf("[%s] %s %s", timestamp, strings.ToUpper(e.Kind.String()), formatBool(e.State))
	case EventFirmwareVersion, EventSerialNumber, EventOperatingMode:
		return fmt.Sprintf("[%s] %s %s", timestamp, strings.ToUpper(e.Kind.String()), e.Text)
	case EventCalibrationProgress:
		return fmt.Sprintf("[%s] CALIBRATION %.0f%%", timestamp, e.Value)
	case EventMotionEnergy, EventStillEnergy, EventMotionThreshold, EventMicromotionThreshold:
		return fmt.Sprintf("[%s] %s gate=%d %.2f dB", timestamp, strings.ToUpper(e.Kind.String()), e.Gate, e.Value)
	default:
		return fmt.Sprintf("[%s] %s", timestamp, e.Kind)
	}
}

func formatBool(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// CommandName returns the human-readable name for a command word
func CommandName(command uint16) string {
	switch command {
	case CmdGetVersion:
		return "GET_VERSION"
	case CmdEnableConfig:
		return "ENABLE_CONFIG"
	case CmdDisableConfig:
		return "DISABLE_CONFIG"
	case CmdGetSerialHex:
		return "GET_SN_HEX"
	case CmdGetSerialChar:
		return "GET_SN_CHAR"
	case CmdGetParams:
		return "GET_PARAMS"
	case CmdSetParams:
		return "SET_PARAMS"
	case CmdSetMode:
		return "SET_MODE"
	case CmdStartCalibration:
		return "START_CALIBRATION"
	case CmdGetCalibrationStatus:
		return "GET_CALIBRATION_STATUS"
	case CmdCalibrationInterference:
		return "CALIBRATION_INTERFERENCE"
	case CmdSaveParams:
		return "SAVE_PARAMS"
	case CmdAutoGain:
		return "AUTO_GAIN"
	case CmdAutoGainComplete:
		return "AUTO_GAIN_COMPLETE"
	default:
		return fmt.Sprintf("CMD_0x%04X", command)
	}
}

// ParameterName returns the human-readable name for a parameter id
func ParameterName(id uint16) string {
	switch {
	case id == ParamMaxDistance:
		return "MAX_DISTANCE"
	case id == ParamTimeout:
		return "TIMEOUT"
	case id == ParamPowerInterference:
		return "POWER_INTERFERENCE"
	case id >= ParamTriggerThreshold && id < ParamTriggerThreshold+DefaultGates:
		return fmt.Sprintf("TRIGGER_THRESHOLD_%d", id-ParamTriggerThreshold)
	case id >= ParamMicroThreshold && id < ParamMicroThreshold+DefaultGates:
		return fmt.Sprintf("MICRO_THRESHOLD_%d", id-ParamMicroThreshold)
	default:
		return fmt.Sprintf("PARAM_0x%04X", id)
	}
}

// FormatHex formats bytes as space-separated uppercase hex
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(data) * 3)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// FormatEngineeringFrame formats a decoded engineering frame as a table of
// per-gate energies.
func FormatEngineeringFrame(f *EngineeringFrame) string {
	result := fmt.Sprintf("status=%s distance=%d cm gates=%d/%d\n",
		StatusName(f.Status), f.Distance, len(f.Motion), len(f.Still))

	for i := 0; i < len(f.Motion) || i < len(f.Still); i++ {
		result += fmt.Sprintf("  gate %2d (%4.1f m):", i, float64(i)*GateSize)
		if i < len(f.Motion) {
			result += fmt.Sprintf(" motion %6.2f dB", f.Motion[i])
		}
		if i < len(f.Still) {
			result += fmt.Sprintf(" still %6.2f dB", f.Still[i])
		}
		result += "\n"
	}
	return result
}

// StatusName returns the human-readable detection status
func StatusName(status uint8) string {
	switch status {
	case StatusNoPerson:
		return "NO_PERSON"
	case StatusPerson:
		return "PERSON"
	case StatusStationaryPerson:
		return "STATIONARY_PERSON"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", status)
	}
}
