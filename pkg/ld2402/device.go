// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Device query timings
const (
	versionDelay     = 300 * time.Millisecond
	powerTimeout     = 2000 * time.Millisecond
	saveDelay        = 1000 * time.Millisecond
	saveRetryPause   = 500 * time.Millisecond
	saveRetryDelay   = 1500 * time.Millisecond
	saveTimeout      = 3000 * time.Millisecond
	autoGainWindow   = 10 * time.Second
	autoGainPollStep = 100 * time.Millisecond
	resetStepDelay   = 200 * time.Millisecond
)

// saveSettle is how long flash writes are given after each save reply shape.
var saveSettle = map[string]time.Duration{
	"ack":  500 * time.Millisecond,
	"echo": 1000 * time.Millisecond,
	"any":  1500 * time.Millisecond,
}

// ReadFirmwareVersion queries the firmware version and publishes it. On
// failure one of the Version* sentinels is published instead and returned
// along with the error.
func (d *Driver) ReadFirmwareVersion() (string, error) {
	d.engine.Drain()

	entered := false
	if !d.state.ConfigActive {
		if err := d.EnterConfig(); err != nil {
			d.updateFirmware(VersionConfigFailed)
			return VersionConfigFailed, err
		}
		entered = true
	}

	version, err := d.queryVersion()
	d.updateFirmware(version)
	if err != nil {
		d.logger.Warn("firmware version query failed", zap.Error(err))
	} else {
		d.logger.Info("firmware version", zap.String("version", version))
	}

	if entered {
		d.ExitConfig()
	}
	return version, err
}

func (d *Driver) queryVersion() (string, error) {
	if err := d.engine.Send(CmdGetVersion, nil); err != nil {
		return VersionCommandFailed, err
	}
	d.clock.Sleep(versionDelay)

	resp, err := d.engine.Await(d.cfg.ResponseTimeout)
	if err != nil {
		return VersionNoResponse, err
	}
	return ParseVersion(resp)
}

// ParseVersion decodes a LE16 length followed by that many characters.
func ParseVersion(resp []byte) (string, error) {
	if len(resp) < 2 {
		return VersionInvalidFormat, &MalformedResponseError{Command: CmdGetVersion, Response: resp}
	}
	n := int(binary.LittleEndian.Uint16(resp[0:2]))
	if n == 0 || len(resp) < 2+n {
		return VersionInvalid, &MalformedResponseError{Command: CmdGetVersion, Response: resp}
	}
	return string(resp[2 : 2+n]), nil
}

// ReadSerialNumber queries the serial number, first in hex form and then in
// character form, and publishes it.
func (d *Driver) ReadSerialNumber() (string, error) {
	var sn string
	err := d.WithConfig(func() error {
		var err error
		sn, err = d.querySerial(CmdGetSerialHex, func(b []byte) string {
			return strings.ReplaceAll(FormatHex(b), " ", "")
		})
		if err == nil {
			return nil
		}
		d.logger.Debug("hex serial number unavailable, trying character form", zap.Error(err))
		sn, err = d.querySerial(CmdGetSerialChar, func(b []byte) string { return string(b) })
		return err
	})
	if err != nil {
		d.logger.Warn("failed to read serial number", zap.Error(err))
		return "", err
	}

	d.state.SerialNumber = sn
	d.publish(Event{Kind: EventSerialNumber, Text: sn})
	return sn, nil
}

func (d *Driver) querySerial(command uint16, format func([]byte) string) (string, error) {
	resp, err := d.engine.Exchange(command, nil, 0, d.cfg.ResponseTimeout)
	if err != nil {
		return "", err
	}
	shape, ok := MatchShape(LengthPrefixedShapes, resp)
	if !ok {
		d.stats.MalformedResponses++
		return "", &MalformedResponseError{Command: command, Response: resp}
	}
	n := int(shape.Value(resp))
	return format(resp[4 : 4+n]), nil
}

// HasInterference maps the interference parameter value to a flag.
// Anything other than "not checked" or "none" counts as interference.
func HasInterference(value uint32) bool {
	return value != InterferenceNotChecked && value != InterferenceNone
}

// CheckPowerInterference reads the power interference status and publishes
// it. Every failure publishes interference=true.
func (d *Driver) CheckPowerInterference() (bool, error) {
	d.engine.Drain()

	detected, err := d.queryPowerInterference()
	d.state.PowerInterference = detected
	d.publish(Event{Kind: EventPowerInterference, State: detected})
	if err != nil {
		d.logger.Warn("power interference check failed, reporting interference", zap.Error(err))
	} else {
		d.logger.Info("power interference", zap.Bool("detected", detected))
	}
	return detected, err
}

func (d *Driver) queryPowerInterference() (bool, error) {
	entered := false
	if !d.state.ConfigActive {
		if err := d.EnterConfig(); err != nil {
			return true, err
		}
		entered = true
	}
	defer func() {
		if entered {
			d.ExitConfig()
		}
	}()

	payload := binary.LittleEndian.AppendUint16(nil, ParamPowerInterference)
	resp, err := d.engine.Exchange(CmdGetParams, payload, slowParamDelay, powerTimeout)
	if err != nil {
		return true, err
	}

	shape, ok := MatchShape(PowerInterferenceShapes, resp)
	if !ok {
		d.stats.MalformedResponses++
		return true, &MalformedResponseError{Command: CmdGetParams, Response: resp}
	}
	value := shape.Value(resp)
	if value > InterferenceDetected {
		d.logger.Warn("unknown power interference value", zap.Uint32("value", value))
	}
	return HasInterference(value), nil
}

// SaveConfig persists the current parameters to flash.
func (d *Driver) SaveConfig() error {
	return d.WithConfig(d.save)
}

func (d *Driver) save() error {
	d.engine.Drain()

	if err := d.engine.Send(CmdSaveParams, nil); err != nil {
		return err
	}
	d.clock.Sleep(saveDelay)

	resp, err := d.engine.Await(saveTimeout)
	if err != nil {
		d.logger.Warn("no response to save, retrying")
		d.clock.Sleep(saveRetryPause)
		if err := d.engine.Send(CmdSaveParams, nil); err != nil {
			return err
		}
		d.clock.Sleep(saveRetryDelay)
		if resp, err = d.engine.Await(saveTimeout); err != nil {
			return fmt.Errorf("%s: %w", CommandName(CmdSaveParams), err)
		}
	}

	shape, ok := MatchShape(SaveShapes, resp)
	if !ok {
		d.stats.MalformedResponses++
		return &MalformedResponseError{Command: CmdSaveParams, Response: resp}
	}
	if shape.Name == "any" {
		d.logger.Warn("non-standard save response, continuing", zap.String("body", FormatHex(resp)))
	}
	d.logger.Info("configuration saved", zap.String("shape", shape.Name))
	d.clock.Sleep(saveSettle[shape.Name])
	return nil
}

// ErrAutoGainIncomplete is returned by EnableAutoGain when the device never
// reported completion. Gain adjustment may still have happened.
var ErrAutoGainIncomplete = errors.New("auto gain completion not reported")

// EnableAutoGain starts the automatic gain adjustment and waits for the
// completion notice.
func (d *Driver) EnableAutoGain() error {
	if err := d.EnterConfig(); err != nil {
		return err
	}
	defer d.ExitConfig()

	resp, err := d.engine.Exchange(CmdAutoGain, nil, 0, d.cfg.ResponseTimeout)
	if err != nil {
		return err
	}
	if _, ok := MatchShape(AutoGainShapes, resp); !ok {
		d.stats.MalformedResponses++
		return &MalformedResponseError{Command: CmdAutoGain, Response: resp}
	}
	d.logger.Info("auto gain acknowledged, waiting for completion")

	deadline := d.clock.Now().Add(autoGainWindow)
	for d.clock.Now().Before(deadline) {
		resp, err := d.engine.Await(autoGainPollStep)
		if err == nil {
			if _, ok := MatchShape(AutoGainCompleteShapes, resp); ok {
				d.logger.Info("auto gain complete")
				return nil
			}
		}
	}
	d.logger.Warn("auto gain completion not received within timeout")
	return ErrAutoGainIncomplete
}

// FactoryReset restores the maximum distance (metres) and timeout (seconds)
// and recalibrates with default coefficients. The calibration poller closes
// config mode when it completes. If calibration cannot be started the
// settings are saved, config mode is closed and the send error is returned.
func (d *Driver) FactoryReset(maxDistance float64, timeout uint32) error {
	d.logger.Info("factory reset",
		zap.Float64("max_distance", maxDistance),
		zap.Uint32("timeout", timeout))
	d.engine.Drain()

	if err := d.EnterConfig(); err != nil {
		return err
	}
	d.clock.Sleep(resetStepDelay)

	if err := d.SetParameter(ParamMaxDistance, uint32(math.Round(maxDistance*10))); err != nil {
		d.logger.Warn("failed to restore max distance", zap.Error(err))
	}
	d.clock.Sleep(resetStepDelay)
	if err := d.SetParameter(ParamTimeout, timeout); err != nil {
		d.logger.Warn("failed to restore timeout", zap.Error(err))
	}
	d.clock.Sleep(resetStepDelay)

	err := d.engine.Send(CmdStartCalibration, CalibrationPayload(DefaultCoefficient, DefaultCoefficient, DefaultCoefficient))
	if err == nil {
		now := d.clock.Now()
		d.beginCalibration(now, now.Add(-calibrationFirstPollLead))
		d.logger.Info("calibration started after reset")
		return nil
	}

	d.logger.Warn("failed to start calibration, saving and leaving config mode", zap.Error(err))
	if serr := d.engine.Send(CmdSaveParams, nil); serr == nil {
		d.clock.Sleep(versionDelay)
		if _, aerr := d.engine.Await(d.cfg.ResponseTimeout); aerr != nil {
			d.logger.Warn("no response to save")
		}
	}
	d.clock.Sleep(saveRetryPause)
	d.engine.Send(CmdDisableConfig, nil)
	d.clock.Sleep(resetStepDelay)
	d.state.ConfigActive = false
	if d.state.Mode == ModeConfig {
		d.updateMode(ModeNormal)
	}
	return fmt.Errorf("settings saved but calibration did not start: %w", err)
}
