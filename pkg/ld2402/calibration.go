// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ld2402

import (
	"encoding/binary"
	"math"
	"time"

	"go.uber.org/zap"
)

// ClampCoefficient limits a calibration coefficient to the accepted range.
func ClampCoefficient(c float64) float64 {
	return math.Max(MinCoefficient, math.Min(MaxCoefficient, c))
}

// CalibrationPayload encodes the trigger, hold and micromotion coefficients
// as tenths in LE16.
func CalibrationPayload(trigger, hold, micro float64) []byte {
	payload := make([]byte, 0, 6)
	for _, c := range []float64{trigger, hold, micro} {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(math.Round(ClampCoefficient(c)*10)))
	}
	return payload
}

// Calibrate starts a calibration with the default coefficients.
func (d *Driver) Calibrate() error {
	return d.CalibrateWithCoefficients(DefaultCoefficient, DefaultCoefficient, DefaultCoefficient)
}

// CalibrateWithCoefficients starts a calibration. Config mode stays active
// until the poller sees completion.
func (d *Driver) CalibrateWithCoefficients(trigger, hold, micro float64) error {
	if err := d.EnterConfig(); err != nil {
		return err
	}

	d.logger.Info("starting calibration",
		zap.Float64("trigger", ClampCoefficient(trigger)),
		zap.Float64("hold", ClampCoefficient(hold)),
		zap.Float64("micro", ClampCoefficient(micro)))

	if err := d.engine.Send(CmdStartCalibration, CalibrationPayload(trigger, hold, micro)); err != nil {
		d.logger.Warn("failed to start calibration", zap.Error(err))
		d.ExitConfig()
		return err
	}

	now := d.clock.Now()
	d.beginCalibration(now, now.Add(-calibrationFirstPollLead))
	return nil
}

// calibrationFirstPollLead backdates the last poll so the first status query
// happens about a second after the session opens.
const calibrationFirstPollLead = CalibrationPollInterval - time.Second

// beginCalibration opens a session. lastPoll controls when the first poll
// happens.
func (d *Driver) beginCalibration(now, lastPoll time.Time) {
	d.state.Calibration = CalibrationSession{
		InProgress: true,
		StartedAt:  now,
		LastPoll:   lastPoll,
	}
	d.publish(Event{Kind: EventCalibrationProgress, Value: 0})
}

// ParseCalibrationStatus returns the progress percentage carried by resp.
func ParseCalibrationStatus(resp []byte) (int, string, bool) {
	shape, ok := MatchShape(CalibrationStatusShapes, resp)
	if !ok {
		return 0, "", false
	}
	return int(shape.Value(resp)), shape.Name, true
}

// CalibrationProgress queries the calibration status once.
func (d *Driver) CalibrationProgress() (int, error) {
	resp, err := d.engine.Exchange(CmdGetCalibrationStatus, nil, 0, d.cfg.ResponseTimeout)
	if err != nil {
		return 0, err
	}
	pct, shape, ok := ParseCalibrationStatus(resp)
	if !ok {
		d.stats.MalformedResponses++
		return 0, &MalformedResponseError{Command: CmdGetCalibrationStatus, Response: resp}
	}
	d.logger.Debug("calibration status", zap.String("shape", shape), zap.Int("progress", pct))
	return pct, nil
}

func (d *Driver) pollCalibration(now time.Time) {
	cal := &d.state.Calibration
	if !cal.InProgress || d.state.Mode == ModeEngineering {
		return
	}
	if now.Sub(cal.LastPoll) < CalibrationPollInterval {
		return
	}
	cal.LastPoll = now

	if now.Sub(cal.StartedAt) > CalibrationMaxDuration {
		d.logger.Warn("calibration did not complete, giving up",
			zap.Int("progress", cal.Progress),
			zap.Duration("elapsed", now.Sub(cal.StartedAt)))
		cal.InProgress = false
		d.ExitConfig()
		return
	}

	pct, err := d.CalibrationProgress()
	if err != nil {
		d.logger.Warn("calibration status query failed", zap.Error(err))
		return
	}

	cal.Progress = pct
	d.publish(Event{Kind: EventCalibrationProgress, Value: float64(pct)})
	d.logger.Info("calibration progress", zap.Int("percent", pct))

	if pct >= 100 {
		cal.InProgress = false
		d.logger.Info("calibration complete")
		d.ExitConfig()
	}
}
